package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipfind/clipfind/internal/catalog"
	"github.com/clipfind/clipfind/internal/remote"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClient scripts the remote service. Unset hooks fall back to a
// happy-path default.
type fakeClient struct {
	mu            sync.Mutex
	collections   []remote.Collection
	createCalls   int
	registerCalls int
	taskSeq       int

	registerFunc func(path string) (string, error)
	pollFunc     func(taskID string, call int) (*remote.TaskStatus, error)
	pollCalls    map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{pollCalls: make(map[string]int)}
}

func (f *fakeClient) ListCollections(ctx context.Context) ([]remote.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections, nil
}

func (f *fakeClient) CreateCollection(ctx context.Context, name string, engines []remote.EngineSpec) (*remote.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return &remote.Collection{ID: "col-1", Name: name}, nil
}

func (f *fakeClient) RegisterVideo(ctx context.Context, collectionID, filePath string) (string, error) {
	f.mu.Lock()
	f.registerCalls++
	f.taskSeq++
	n := f.taskSeq
	fn := f.registerFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(filePath)
	}
	return fmt.Sprintf("task-%d-%s", n, filepath.Base(filePath)), nil
}

func (f *fakeClient) PollTask(ctx context.Context, taskID string) (*remote.TaskStatus, error) {
	f.mu.Lock()
	f.pollCalls[taskID]++
	call := f.pollCalls[taskID]
	fn := f.pollFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(taskID, call)
	}
	return &remote.TaskStatus{State: remote.TaskReady, VideoID: "vid-" + taskID}, nil
}

func (f *fakeClient) Search(ctx context.Context, collectionID string, q remote.Query, opts remote.SearchOptions) ([]remote.SearchHit, error) {
	return nil, nil
}

func setup(t *testing.T, files ...string) (catalog.Store, string) {
	t.Helper()
	dir := t.TempDir()
	videoDir := filepath.Join(dir, "videos")
	if err := os.MkdirAll(videoDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(videoDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return catalog.NewJSONStore(filepath.Join(dir, "catalog.json")), videoDir
}

func newOrchestrator(client remote.Client, store catalog.Store, videoDir string) *Orchestrator {
	o := New(client, store, nil, Options{
		CollectionName: "clips",
		VideoDir:       videoDir,
		PollInterval:   time.Millisecond,
	}, testLogger())
	o.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return o
}

func TestRun_FreshBatch(t *testing.T) {
	store, videoDir := setup(t, "a.mp4", "b.mov", "notes.txt")
	client := newFakeClient()
	o := newOrchestrator(client, store, videoDir)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Discovered != 2 {
		t.Errorf("Discovered = %d, want 2 (non-video files ignored)", summary.Discovered)
	}
	if summary.Ready != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if client.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", client.createCalls)
	}

	cat, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if cat.CollectionID != "col-1" {
		t.Errorf("CollectionID = %q", cat.CollectionID)
	}
	for _, rec := range cat.Videos {
		if rec.Status != catalog.StatusReady {
			t.Errorf("%s status = %s, want ready", rec.Filename, rec.Status)
		}
		if rec.VideoID == "" || rec.TaskID == "" {
			t.Errorf("%s missing ids: %+v", rec.Filename, rec)
		}
	}
}

func TestRun_ReusesCollectionByName(t *testing.T) {
	store, videoDir := setup(t, "a.mp4")
	client := newFakeClient()
	client.collections = []remote.Collection{
		{ID: "col-old", Name: "clips"},
		{ID: "col-other", Name: "something_else"},
	}
	o := newOrchestrator(client, store, videoDir)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0 (existing collection reused)", client.createCalls)
	}

	cat, _ := store.Load(context.Background())
	if cat.CollectionID != "col-old" {
		t.Errorf("CollectionID = %q, want col-old", cat.CollectionID)
	}
}

func TestRun_RegistrationFailureIsolated(t *testing.T) {
	store, videoDir := setup(t, "bad.mp4", "good.mp4")
	client := newFakeClient()
	client.registerFunc = func(path string) (string, error) {
		if filepath.Base(path) == "bad.mp4" {
			return "", &remote.Error{Kind: remote.KindRemoteRejected, Op: "register_video", StatusCode: 422, Message: "unsupported codec"}
		}
		return "task-good", nil
	}
	o := newOrchestrator(client, store, videoDir)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Ready != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 ready and 1 failed", summary)
	}

	cat, _ := store.Load(context.Background())
	bad := cat.FindByPath(filepath.Join(videoDir, "bad.mp4"))
	if bad.Status != catalog.StatusFailed {
		t.Errorf("bad.mp4 status = %s, want failed", bad.Status)
	}
	if bad.Error == "" {
		t.Error("bad.mp4 should carry the failure reason")
	}
	good := cat.FindByPath(filepath.Join(videoDir, "good.mp4"))
	if good.Status != catalog.StatusReady {
		t.Errorf("good.mp4 status = %s, want ready", good.Status)
	}
}

func TestRun_RemoteTaskFailure(t *testing.T) {
	store, videoDir := setup(t, "a.mp4")
	client := newFakeClient()
	client.pollFunc = func(taskID string, call int) (*remote.TaskStatus, error) {
		return &remote.TaskStatus{State: remote.TaskFailed}, nil
	}
	o := newOrchestrator(client, store, videoDir)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}

	cat, _ := store.Load(context.Background())
	rec := cat.Videos[0]
	if rec.Status != catalog.StatusFailed || rec.Error == "" {
		t.Errorf("record = %+v, want failed with reason", rec)
	}
}

func TestRun_CancellationLeavesProcessing(t *testing.T) {
	store, videoDir := setup(t, "a.mp4")
	ctx, cancel := context.WithCancel(context.Background())

	client := newFakeClient()
	client.pollFunc = func(taskID string, call int) (*remote.TaskStatus, error) {
		if call >= 2 {
			cancel()
			return nil, ctx.Err()
		}
		return &remote.TaskStatus{State: remote.TaskProcessing}, nil
	}
	o := newOrchestrator(client, store, videoDir)

	summary, err := o.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if summary.Resumable != 1 {
		t.Errorf("summary = %+v, want 1 resumable", summary)
	}

	cat, _ := store.Load(context.Background())
	rec := cat.Videos[0]
	if rec.Status != catalog.StatusProcessing {
		t.Errorf("status = %s, want processing (resumable)", rec.Status)
	}
	if rec.TaskID == "" {
		t.Error("task id must survive cancellation for resumption")
	}
}

func TestRun_ResumesWithoutReregistering(t *testing.T) {
	store, videoDir := setup(t, "a.mp4")
	path := filepath.Join(videoDir, "a.mp4")

	seed := &catalog.Catalog{
		CollectionID: "col-1",
		Videos: []catalog.VideoRecord{
			{TaskID: "task-prior", Filename: "a.mp4", Filepath: path, Status: catalog.StatusProcessing},
		},
	}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	client := newFakeClient()
	o := newOrchestrator(client, store, videoDir)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Ready != 1 || summary.Discovered != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if client.registerCalls != 0 {
		t.Errorf("registerCalls = %d, want 0 (existing task resumed)", client.registerCalls)
	}
	if client.pollCalls["task-prior"] == 0 {
		t.Error("prior task id was not polled")
	}

	cat, _ := store.Load(context.Background())
	rec := cat.Videos[0]
	if rec.Status != catalog.StatusReady || rec.TaskID != "task-prior" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRun_SkipsReadyRecords(t *testing.T) {
	store, videoDir := setup(t, "a.mp4")
	path := filepath.Join(videoDir, "a.mp4")

	seed := &catalog.Catalog{
		CollectionID: "col-1",
		Videos: []catalog.VideoRecord{
			{VideoID: "vid-1", TaskID: "task-1", Filename: "a.mp4", Filepath: path, Status: catalog.StatusReady},
		},
	}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	client := newFakeClient()
	o := newOrchestrator(client, store, videoDir)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 || summary.Ready != 0 {
		t.Errorf("summary = %+v, want 1 skipped", summary)
	}
	if client.registerCalls != 0 || len(client.pollCalls) != 0 {
		t.Error("ready record should trigger no remote calls")
	}
}

func TestRun_SkipsFailedRecords(t *testing.T) {
	store, videoDir := setup(t, "bad.mp4", "new.mp4")
	badPath := filepath.Join(videoDir, "bad.mp4")

	// A record that failed at registration never got a task id.
	seed := &catalog.Catalog{
		CollectionID: "col-1",
		Videos: []catalog.VideoRecord{
			{Filename: "bad.mp4", Filepath: badPath, Status: catalog.StatusFailed, Error: "unsupported codec"},
		},
	}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	client := newFakeClient()
	o := newOrchestrator(client, store, videoDir)

	done := make(chan struct{})
	var summary *Summary
	var runErr error
	go func() {
		summary, runErr = o.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate with a failed record in the catalog")
	}
	if runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}

	if summary.Skipped != 1 || summary.Ready != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 1 skipped and 1 ready", summary)
	}
	if n := client.pollCalls[""]; n != 0 {
		t.Errorf("empty task id was polled %d times", n)
	}
	if client.registerCalls != 1 {
		t.Errorf("registerCalls = %d, want 1 (only the new video)", client.registerCalls)
	}

	cat, _ := store.Load(context.Background())
	bad := cat.FindByPath(badPath)
	if bad.Status != catalog.StatusFailed || bad.Error != "unsupported codec" {
		t.Errorf("failed record was rewritten: %+v", bad)
	}
}

func TestRun_PollRetriesTransientErrors(t *testing.T) {
	store, videoDir := setup(t, "a.mp4")
	client := newFakeClient()
	client.pollFunc = func(taskID string, call int) (*remote.TaskStatus, error) {
		switch call {
		case 1:
			return nil, &remote.Error{Kind: remote.KindConnectivity, Op: "poll_task", Err: errors.New("connection reset")}
		case 2:
			return &remote.TaskStatus{State: remote.TaskProcessing}, nil
		default:
			return &remote.TaskStatus{State: remote.TaskReady, VideoID: "vid-1"}, nil
		}
	}
	o := newOrchestrator(client, store, videoDir)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Ready != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRun_PollBudgetLeavesResumable(t *testing.T) {
	store, videoDir := setup(t, "a.mp4")
	client := newFakeClient()
	client.pollFunc = func(taskID string, call int) (*remote.TaskStatus, error) {
		return &remote.TaskStatus{State: remote.TaskProcessing}, nil
	}

	o := New(client, store, nil, Options{
		CollectionName: "clips",
		VideoDir:       videoDir,
		PollInterval:   time.Millisecond,
		PollTimeout:    25 * time.Millisecond,
	}, testLogger())

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Resumable != 1 {
		t.Errorf("summary = %+v, want 1 resumable", summary)
	}

	cat, _ := store.Load(context.Background())
	if cat.Videos[0].Status != catalog.StatusProcessing {
		t.Errorf("status = %s, want processing", cat.Videos[0].Status)
	}
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	store, videoDir := setup(t, "a.mp4")

	polling := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	client := newFakeClient()
	client.pollFunc = func(taskID string, call int) (*remote.TaskStatus, error) {
		once.Do(func() { close(polling) })
		<-release
		return &remote.TaskStatus{State: remote.TaskReady, VideoID: "vid-1"}, nil
	}
	o := newOrchestrator(client, store, videoDir)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()

	<-polling
	if !o.IsRunning() {
		t.Error("IsRunning() = false during a run")
	}
	if _, err := o.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("concurrent Run err = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if o.IsRunning() {
		t.Error("IsRunning() = true after the run finished")
	}
}

func TestEvalPoll(t *testing.T) {
	authErr := &remote.Error{Kind: remote.KindAuth, Op: "poll_task", StatusCode: 401}
	connErr := &remote.Error{Kind: remote.KindConnectivity, Op: "poll_task"}

	tests := []struct {
		name   string
		status *remote.TaskStatus
		err    error
		want   pollOutcome
	}{
		{"ready is done", &remote.TaskStatus{State: remote.TaskReady}, nil, pollDone},
		{"failed is done", &remote.TaskStatus{State: remote.TaskFailed}, nil, pollDone},
		{"queued keeps polling", &remote.TaskStatus{State: remote.TaskQueued}, nil, pollRetry},
		{"processing keeps polling", &remote.TaskStatus{State: remote.TaskProcessing}, nil, pollRetry},
		{"connectivity error retries", nil, connErr, pollRetry},
		{"auth error aborts", nil, authErr, pollAbort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalPoll(tt.status, tt.err)
			if got.outcome != tt.want {
				t.Errorf("evalPoll() = %v, want %v", got.outcome, tt.want)
			}
		})
	}
}
