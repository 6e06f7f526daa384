package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(serverURL string) *HTTPClient {
	return NewHTTPClient(serverURL, "test-key", 5*time.Second, 5*time.Second, testLogger())
}

func TestHTTPClient_ListCollections(t *testing.T) {
	var receivedKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/indexes" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		receivedKey = r.Header.Get("x-api-key")

		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"data":[
			{"_id":"idx-1","index_name":"semantic_video_search"},
			{"_id":"idx-2","index_name":"other"}
		]}`)
	}))
	defer server.Close()

	collections, err := newTestClient(server.URL).ListCollections(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedKey != "test-key" {
		t.Errorf("x-api-key = %q, want test-key", receivedKey)
	}
	if len(collections) != 2 {
		t.Fatalf("got %d collections, want 2", len(collections))
	}
	if collections[0].ID != "idx-1" || collections[0].Name != "semantic_video_search" {
		t.Errorf("collections[0] = %+v", collections[0])
	}
}

func TestHTTPClient_CreateCollection(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/indexes" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)

		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"_id":"idx-new"}`)
	}))
	defer server.Close()

	created, err := newTestClient(server.URL).CreateCollection(context.Background(), "clips", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if created.ID != "idx-new" || created.Name != "clips" {
		t.Errorf("created = %+v", created)
	}
	if received["index_name"] != "clips" {
		t.Errorf("index_name = %v", received["index_name"])
	}
	if _, ok := received["models"]; !ok {
		t.Error("request missing default engine models")
	}
}

func TestHTTPClient_RegisterVideo(t *testing.T) {
	videoPath := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(videoPath, []byte("fake video bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart: %v", err)
		}
		if got := r.FormValue("index_id"); got != "idx-1" {
			t.Errorf("index_id = %q", got)
		}
		file, header, err := r.FormFile("video_file")
		if err != nil {
			t.Fatalf("missing video_file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "clip.mp4" {
			t.Errorf("filename = %q", header.Filename)
		}
		content, _ := io.ReadAll(file)
		if string(content) != "fake video bytes" {
			t.Errorf("file content = %q", content)
		}

		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"_id":"task-1","video_id":"vid-1"}`)
	}))
	defer server.Close()

	taskID, err := newTestClient(server.URL).RegisterVideo(context.Background(), "idx-1", videoPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taskID != "task-1" {
		t.Errorf("taskID = %q, want task-1", taskID)
	}
}

func TestHTTPClient_PollTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/task-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"_id":"task-1","status":"ready","video_id":"vid-1"}`)
	}))
	defer server.Close()

	status, err := newTestClient(server.URL).PollTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.State != TaskReady || status.VideoID != "vid-1" {
		t.Errorf("status = %+v", status)
	}
	if !status.State.Terminal() {
		t.Error("ready state should be terminal")
	}
}

func TestHTTPClient_Search_FlatResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &req)
		if req["query_text"] != "person talking" {
			t.Errorf("query_text = %v", req["query_text"])
		}

		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"data":[
			{"video_id":"vid-1","confidence":"high","score":84.2,"start":1.5,"end":9.25,"transcription":"hello there","thumbnail_url":"https://cdn/thumb1.jpg"},
			{"video_id":"vid-2","confidence":0.35,"score":40.1,"start":0,"end":0}
		]}`)
	}))
	defer server.Close()

	hits, err := newTestClient(server.URL).Search(context.Background(), "idx-1",
		Query{Text: "person talking"}, SearchOptions{Modalities: []string{"visual", "audio"}, ResultLimit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}

	first := hits[0]
	if first.Confidence.Kind != ConfidenceLabel || first.Confidence.Label != "high" {
		t.Errorf("first confidence = %+v", first.Confidence)
	}
	if first.ClipText == nil || *first.ClipText != "hello there" {
		t.Errorf("first clip text = %v", first.ClipText)
	}
	if first.ThumbnailURL == nil || *first.ThumbnailURL != "https://cdn/thumb1.jpg" {
		t.Errorf("first thumbnail = %v", first.ThumbnailURL)
	}

	second := hits[1]
	if second.Confidence.Kind != ConfidenceScore || second.Confidence.Value != 0.35 {
		t.Errorf("second confidence = %+v", second.Confidence)
	}
	if second.ClipText != nil {
		t.Errorf("second clip text = %v, want nil (absent)", second.ClipText)
	}
	if second.ThumbnailURL != nil {
		t.Errorf("second thumbnail = %v, want nil (absent)", second.ThumbnailURL)
	}
}

func TestHTTPClient_Search_GroupedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"data":[
			{"id":"vid-1","clips":[
				{"video_id":"vid-1","confidence":"high","score":90,"start":0,"end":5},
				{"confidence":"medium","score":60,"start":10,"end":15}
			]},
			{"id":"vid-2","clips":[
				{"video_id":"vid-2","confidence":"low","score":20,"start":2,"end":4}
			]}
		]}`)
	}))
	defer server.Close()

	hits, err := newTestClient(server.URL).Search(context.Background(), "idx-1",
		Query{Text: "anything"}, SearchOptions{GroupByVideo: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3 (grouped shape flattened)", len(hits))
	}

	// The second clip omits video_id; it inherits the group's id.
	if hits[1].VideoID != "vid-1" {
		t.Errorf("hits[1].VideoID = %q, want vid-1", hits[1].VideoID)
	}
	if hits[2].VideoID != "vid-2" {
		t.Errorf("hits[2].VideoID = %q, want vid-2", hits[2].VideoID)
	}
}

func TestHTTPClient_Search_MixedShapes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"data":[
			{"id":"vid-1","clips":[{"video_id":"vid-1","confidence":"high","score":90,"start":0,"end":5}]},
			{"video_id":"vid-2","confidence":"low","score":20,"start":1,"end":2}
		]}`)
	}))
	defer server.Close()

	hits, err := newTestClient(server.URL).Search(context.Background(), "idx-1", Query{Text: "q"}, SearchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].VideoID != "vid-1" || hits[1].VideoID != "vid-2" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, KindAuth},
		{"forbidden", http.StatusForbidden, KindAuth},
		{"bad request", http.StatusBadRequest, KindRemoteRejected},
		{"server error", http.StatusInternalServerError, KindRemoteRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"message":"nope"}`)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).ListCollections(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}

			var rerr *Error
			if !errors.As(err, &rerr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if rerr.Kind != tt.want {
				t.Errorf("kind = %s, want %s", rerr.Kind, tt.want)
			}
			if rerr.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", rerr.StatusCode, tt.status)
			}
		})
	}
}

func TestHTTPClient_ConnectivityError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	_, err := newTestClient(server.URL).ListCollections(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if rerr.Kind != KindConnectivity {
		t.Errorf("kind = %s, want connectivity", rerr.Kind)
	}
	if !rerr.Retryable() {
		t.Error("connectivity errors should be retryable")
	}
	if rerr.Unwrap() == nil {
		t.Error("transport error should be preserved")
	}
}

func TestHTTPClient_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `not json at all`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Search(context.Background(), "idx-1", Query{Text: "q"}, SearchOptions{})
	if err == nil {
		t.Fatal("expected error")
	}

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if rerr.Kind != KindMalformedResponse {
		t.Errorf("kind = %s, want malformed_response", rerr.Kind)
	}
}

func TestHTTPClient_SearchImage_Multipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart: %v", err)
		}
		if got := r.FormValue("query_media_type"); got != "image" {
			t.Errorf("query_media_type = %q", got)
		}
		file, _, err := r.FormFile("query_media_file")
		if err != nil {
			t.Fatalf("missing query_media_file: %v", err)
		}
		defer file.Close()

		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"data":[]}`)
	}))
	defer server.Close()

	hits, err := newTestClient(server.URL).Search(context.Background(), "idx-1",
		Query{Image: []byte{0xff, 0xd8}, ImageName: "frame.jpg"}, SearchOptions{Modalities: []string{"visual"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits, want 0", len(hits))
	}
}

func TestConfidence_Unmarshal(t *testing.T) {
	tests := []struct {
		raw  string
		want Confidence
	}{
		{`"high"`, Confidence{Kind: ConfidenceLabel, Label: "high"}},
		{`0.82`, Confidence{Kind: ConfidenceScore, Value: 0.82}},
		{`null`, Confidence{}},
		{`{"weird":true}`, Confidence{}},
	}

	for _, tt := range tests {
		var got Confidence
		if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestHTTPClient_ImplementsClientInterface(t *testing.T) {
	var _ Client = (*HTTPClient)(nil)
}
