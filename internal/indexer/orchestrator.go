// Package indexer drives every locally discovered video through the remote
// indexing service until its catalog record is terminal.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipfind/clipfind/internal/catalog"
	"github.com/clipfind/clipfind/internal/costs"
	"github.com/clipfind/clipfind/internal/remote"
)

// ErrAlreadyRunning is returned by Run when an indexing run is in flight.
var ErrAlreadyRunning = errors.New("indexing run already in progress")

// errPollBudget marks a poll loop that exhausted its configured budget.
// The record stays resumable, so this is not a job failure.
var errPollBudget = errors.New("poll budget exhausted")

type Options struct {
	CollectionName string
	VideoDir       string
	Engines        []remote.EngineSpec
	PollInterval   time.Duration
	// PollTimeout bounds one task's poll loop. Zero polls until terminal
	// or cancelled. A timed-out task stays Processing and is resumed on
	// the next run.
	PollTimeout time.Duration
	// Concurrency is the number of in-flight indexing jobs. Catalog
	// writes stay serialized regardless.
	Concurrency int
}

// Summary reports the outcome of one indexing run.
type Summary struct {
	Discovered int
	Ready      int
	Failed     int
	Resumable  int
	Skipped    int
}

type Orchestrator struct {
	client  remote.Client
	store   catalog.Store
	ledger  *costs.Ledger
	logger  *slog.Logger
	opts    Options
	running atomic.Bool

	// saveMu enforces single-writer discipline on the catalog store.
	saveMu sync.Mutex

	// sleep waits between polls; tests replace it to run without timers.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(client remote.Client, store catalog.Store, ledger *costs.Ledger, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		client: client,
		store:  store,
		ledger: ledger,
		logger: logger,
		opts:   opts,
		sleep:  sleepCtx,
	}
}

// IsRunning reports whether an indexing run is in flight.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// Run brings every video in the configured directory to a terminal status.
// A failure on one video is recorded on its record and does not abort the
// batch; the catalog is persisted after each video completes. Cancellation
// leaves in-flight records Processing so a later run resumes their tasks.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	cat, err := o.loadOrInit(ctx)
	if err != nil {
		return nil, err
	}

	discovered, err := o.discover(cat)
	if err != nil {
		return nil, err
	}
	if discovered > 0 {
		if err := o.persist(ctx, cat); err != nil {
			return nil, err
		}
	}

	if err := o.resolveCollection(ctx, cat); err != nil {
		return nil, err
	}
	if err := o.persist(ctx, cat); err != nil {
		return nil, err
	}

	summary := &Summary{Discovered: discovered}

	var pending []string
	for i := range cat.Videos {
		// Terminal records are settled: Ready needs no work, and Failed
		// permits no further transitions, so neither re-enters the pipeline.
		if cat.Videos[i].Status.Terminal() {
			summary.Skipped++
			continue
		}
		pending = append(pending, cat.Videos[i].Filepath)
	}

	o.logger.Info("indexing run started",
		"collection_id", cat.CollectionID,
		"pending", len(pending),
		"skipped", summary.Skipped,
		"concurrency", o.opts.Concurrency,
	)

	var mu sync.Mutex // guards summary and cat mutation
	sem := make(chan struct{}, o.opts.Concurrency)
	var wg sync.WaitGroup

	for _, path := range pending {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				defer func() { <-sem }()

				outcome := o.indexVideo(ctx, cat, &mu, path)

				mu.Lock()
				switch outcome {
				case catalog.StatusReady:
					summary.Ready++
				case catalog.StatusFailed:
					summary.Failed++
				default:
					summary.Resumable++
				}
				mu.Unlock()
			}(path)
		}
		if ctx.Err() != nil {
			break
		}
	}
	wg.Wait()

	o.logger.Info("indexing run finished",
		"ready", summary.Ready,
		"failed", summary.Failed,
		"resumable", summary.Resumable,
		"skipped", summary.Skipped,
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// loadOrInit loads the persisted catalog, treating absence as an empty
// catalog. A corrupt catalog is surfaced, not silently regenerated.
func (o *Orchestrator) loadOrInit(ctx context.Context) (*catalog.Catalog, error) {
	cat, err := o.store.Load(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return &catalog.Catalog{}, nil
		}
		return nil, err
	}
	return cat, nil
}

// discover walks the video directory and appends any new files to the
// catalog as registered records. Returns the number of new records.
func (o *Orchestrator) discover(cat *catalog.Catalog) (int, error) {
	entries, err := os.ReadDir(o.opts.VideoDir)
	if err != nil {
		return 0, fmt.Errorf("read video directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && catalog.IsVideoFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	added := 0
	for _, name := range names {
		path := filepath.Join(o.opts.VideoDir, name)
		if cat.FindByPath(path) != nil {
			continue
		}
		cat.Videos = append(cat.Videos, catalog.VideoRecord{
			Filename: name,
			Filepath: path,
			Status:   catalog.StatusRegistered,
		})
		added++
	}

	if added > 0 {
		o.logger.Info("discovered new videos", "count", added, "dir", o.opts.VideoDir)
	}
	return added, nil
}

// resolveCollection looks the collection up by name before creating it, so
// repeated runs never create duplicates.
func (o *Orchestrator) resolveCollection(ctx context.Context, cat *catalog.Catalog) error {
	if cat.CollectionID != "" {
		return nil
	}

	collections, err := o.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range collections {
		if c.Name == o.opts.CollectionName {
			o.logger.Info("reusing existing collection", "collection_id", c.ID, "name", c.Name)
			cat.CollectionID = c.ID
			return nil
		}
	}

	created, err := o.client.CreateCollection(ctx, o.opts.CollectionName, o.opts.Engines)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	cat.CollectionID = created.ID
	return nil
}

// indexVideo drives one record to a terminal status and reports the status
// it ended on. Non-terminal means the run was cancelled or the poll budget
// ran out and the record stays resumable.
func (o *Orchestrator) indexVideo(ctx context.Context, cat *catalog.Catalog, mu *sync.Mutex, path string) catalog.Status {
	started := time.Now()
	logger := o.logger.With("video", filepath.Base(path))

	mu.Lock()
	rec := cat.FindByPath(path)
	if rec == nil {
		mu.Unlock()
		return catalog.StatusFailed
	}
	taskID := rec.TaskID
	status := rec.Status
	collectionID := cat.CollectionID
	mu.Unlock()

	if status.Terminal() {
		return status
	}

	if status == catalog.StatusRegistered {
		id, err := o.client.RegisterVideo(ctx, collectionID, path)
		if err != nil {
			logger.Error("video registration failed", "error", err)
			o.transition(ctx, cat, mu, path, catalog.StatusFailed, "", err.Error())
			return catalog.StatusFailed
		}
		taskID = id
		logger.Info("video registered", "task_id", taskID)
		o.transitionWithTask(ctx, cat, mu, path, catalog.StatusProcessing, taskID)
	} else {
		logger.Info("resuming indexing task", "task_id", taskID)
	}

	state, err := o.pollUntilTerminal(ctx, taskID, logger)
	if err != nil {
		if errors.Is(err, errPollBudget) {
			logger.Warn("poll budget exhausted, task left resumable", "task_id", taskID)
			return catalog.StatusProcessing
		}
		// Cancelled or structurally broken: the record keeps its task id
		// and stays Processing for the next run.
		logger.Warn("poll loop aborted", "task_id", taskID, "error", err)
		return catalog.StatusProcessing
	}

	if state.State == remote.TaskReady {
		o.transition(ctx, cat, mu, path, catalog.StatusReady, state.VideoID, "")
		logger.Info("video indexed", "video_id", state.VideoID, "elapsed", time.Since(started))
		if o.ledger != nil {
			if err := o.ledger.RecordVideoProcessing(1, time.Since(started)); err != nil {
				logger.Warn("failed to record usage", "error", err)
			}
		}
		return catalog.StatusReady
	}

	reason := fmt.Sprintf("remote task ended %s", state.State)
	o.transition(ctx, cat, mu, path, catalog.StatusFailed, "", reason)
	logger.Error("video indexing failed", "task_id", taskID, "reason", reason)
	return catalog.StatusFailed
}

// pollUntilTerminal polls the task at the configured interval until it is
// terminal. Single poll errors are transient and retried, except auth
// rejections, which cannot resolve themselves.
func (o *Orchestrator) pollUntilTerminal(ctx context.Context, taskID string, logger *slog.Logger) (*remote.TaskStatus, error) {
	if o.opts.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, o.opts.PollTimeout, errPollBudget)
		defer cancel()
	}

	for {
		status, err := o.client.PollTask(ctx, taskID)
		next := evalPoll(status, err)

		switch next.outcome {
		case pollDone:
			return status, nil
		case pollAbort:
			return nil, next.err
		}

		if next.err != nil {
			logger.Warn("poll failed, retrying", "task_id", taskID, "error", next.err)
		} else {
			logger.Debug("task still processing", "task_id", taskID, "state", string(status.State))
		}

		if err := o.sleep(ctx, o.opts.PollInterval); err != nil {
			if cause := context.Cause(ctx); cause != nil && errors.Is(cause, errPollBudget) {
				return nil, errPollBudget
			}
			return nil, err
		}
	}
}

type pollOutcome int

const (
	pollRetry pollOutcome = iota
	pollDone
	pollAbort
)

type pollStep struct {
	outcome pollOutcome
	err     error
}

// evalPoll is the poll loop's decision function: given the latest poll
// result it yields the next step. Pure, so it is testable without timers
// or a live client.
func evalPoll(status *remote.TaskStatus, err error) pollStep {
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) && rerr.Kind == remote.KindAuth {
			return pollStep{outcome: pollAbort, err: err}
		}
		return pollStep{outcome: pollRetry, err: err}
	}
	if status.State.Terminal() {
		return pollStep{outcome: pollDone}
	}
	return pollStep{outcome: pollRetry}
}

// transition applies a validated status change and persists the catalog.
func (o *Orchestrator) transition(ctx context.Context, cat *catalog.Catalog, mu *sync.Mutex, path string, to catalog.Status, videoID, reason string) {
	mu.Lock()
	rec := cat.FindByPath(path)
	if rec == nil || !catalog.CanTransition(rec.Status, to) {
		if rec != nil {
			o.logger.Error("illegal status transition rejected",
				"video", rec.Filename, "from", string(rec.Status), "to", string(to))
		}
		mu.Unlock()
		return
	}
	rec.Status = to
	rec.VideoID = videoID
	if reason != "" {
		rec.Error = strings.TrimSpace(reason)
	}
	snapshot := clone(cat)
	mu.Unlock()

	if err := o.persist(ctx, snapshot); err != nil {
		o.logger.Error("failed to persist catalog", "error", err)
	}
}

func (o *Orchestrator) transitionWithTask(ctx context.Context, cat *catalog.Catalog, mu *sync.Mutex, path string, to catalog.Status, taskID string) {
	mu.Lock()
	rec := cat.FindByPath(path)
	if rec == nil || !catalog.CanTransition(rec.Status, to) {
		mu.Unlock()
		return
	}
	rec.Status = to
	rec.TaskID = taskID
	snapshot := clone(cat)
	mu.Unlock()

	if err := o.persist(ctx, snapshot); err != nil {
		o.logger.Error("failed to persist catalog", "error", err)
	}
}

// clone copies the catalog so it can be saved outside the lock that guards
// concurrent job mutations.
func clone(cat *catalog.Catalog) *catalog.Catalog {
	out := &catalog.Catalog{CollectionID: cat.CollectionID}
	out.Videos = append(out.Videos, cat.Videos...)
	return out
}

// persist saves a snapshot of the catalog under the single-writer lock.
func (o *Orchestrator) persist(ctx context.Context, cat *catalog.Catalog) error {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	return o.store.Save(ctx, cat)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
