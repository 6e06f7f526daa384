package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPClient talks to the remote indexing service over its REST API. It is
// stateless beyond the credential and safe to share between the indexing
// orchestrator and the query service.
type HTTPClient struct {
	baseURL string
	apiKey  string
	logger  *slog.Logger

	httpClient   *http.Client
	uploadClient *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout, uploadTimeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if uploadTimeout <= 0 {
		uploadTimeout = 10 * time.Minute
	}
	return &HTTPClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		logger:       logger,
		httpClient:   &http.Client{Timeout: timeout},
		uploadClient: &http.Client{Timeout: uploadTimeout},
	}
}

type wireCollection struct {
	ID   string `json:"_id"`
	Name string `json:"index_name"`
}

func (c *HTTPClient) ListCollections(ctx context.Context) ([]Collection, error) {
	body, err := c.do(ctx, c.httpClient, http.MethodGet, "/indexes", "", nil, "list_collections")
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Data []wireCollection `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Op: "list_collections", Err: err}
	}

	collections := make([]Collection, len(wrapper.Data))
	for i, w := range wrapper.Data {
		collections[i] = Collection{ID: w.ID, Name: w.Name}
	}
	return collections, nil
}

func (c *HTTPClient) CreateCollection(ctx context.Context, name string, engines []EngineSpec) (*Collection, error) {
	if len(engines) == 0 {
		engines = DefaultEngines
	}

	payload, err := json.Marshal(map[string]any{
		"index_name": name,
		"models":     engines,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal collection request: %w", err)
	}

	body, err := c.do(ctx, c.httpClient, http.MethodPost, "/indexes", "application/json",
		bytes.NewReader(payload), "create_collection")
	if err != nil {
		return nil, err
	}

	var created wireCollection
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Op: "create_collection", Err: err}
	}
	if created.ID == "" {
		return nil, &Error{Kind: KindMalformedResponse, Op: "create_collection", Message: "response missing collection id"}
	}

	c.logger.Info("collection created", "collection_id", created.ID, "name", name)
	return &Collection{ID: created.ID, Name: name}, nil
}

func (c *HTTPClient) RegisterVideo(ctx context.Context, collectionID, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open video file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("index_id", collectionID); err != nil {
		return "", fmt.Errorf("write upload field: %w", err)
	}
	part, err := mw.CreateFormFile("video_file", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("create upload part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read video file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize upload body: %w", err)
	}

	c.logger.Info("registering video",
		"collection_id", collectionID,
		"file", filepath.Base(filePath),
		"body_bytes", buf.Len(),
	)

	body, err := c.do(ctx, c.uploadClient, http.MethodPost, "/tasks", mw.FormDataContentType(),
		&buf, "register_video")
	if err != nil {
		return "", err
	}

	var task struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(body, &task); err != nil {
		return "", &Error{Kind: KindMalformedResponse, Op: "register_video", Err: err}
	}
	if task.ID == "" {
		return "", &Error{Kind: KindMalformedResponse, Op: "register_video", Message: "response missing task id"}
	}
	return task.ID, nil
}

func (c *HTTPClient) PollTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	body, err := c.do(ctx, c.httpClient, http.MethodGet, "/tasks/"+taskID, "", nil, "poll_task")
	if err != nil {
		return nil, err
	}

	var task struct {
		Status  string `json:"status"`
		VideoID string `json:"video_id"`
	}
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Op: "poll_task", Err: err}
	}
	if task.Status == "" {
		return nil, &Error{Kind: KindMalformedResponse, Op: "poll_task", Message: "response missing task status"}
	}

	return &TaskStatus{State: TaskState(task.Status), VideoID: task.VideoID}, nil
}

func (c *HTTPClient) Search(ctx context.Context, collectionID string, q Query, opts SearchOptions) ([]SearchHit, error) {
	var body []byte
	var err error
	if q.IsImage() {
		body, err = c.searchImage(ctx, collectionID, q, opts)
	} else {
		body, err = c.searchText(ctx, collectionID, q, opts)
	}
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Data []wireHit `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Op: "search", Err: err}
	}

	return flattenHits(wrapper.Data), nil
}

func (c *HTTPClient) searchText(ctx context.Context, collectionID string, q Query, opts SearchOptions) ([]byte, error) {
	params := map[string]any{
		"index_id":       collectionID,
		"query_text":     q.Text,
		"search_options": opts.Modalities,
		"threshold":      opts.ConfidenceThreshold,
		"operator":       opts.MatchOperator,
		"page_limit":     opts.ResultLimit,
	}
	if opts.ConfidenceBias != 0 {
		params["adjust_confidence_level"] = opts.ConfidenceBias
	}
	if opts.GroupByVideo {
		params["group_by"] = "video"
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	return c.do(ctx, c.httpClient, http.MethodPost, "/search", "application/json",
		bytes.NewReader(payload), "search")
}

func (c *HTTPClient) searchImage(ctx context.Context, collectionID string, q Query, opts SearchOptions) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"index_id":         collectionID,
		"query_media_type": "image",
		"threshold":        opts.ConfidenceThreshold,
		"operator":         opts.MatchOperator,
		"page_limit":       fmt.Sprintf("%d", opts.ResultLimit),
	}
	if opts.GroupByVideo {
		fields["group_by"] = "video"
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write search field: %w", err)
		}
	}
	for _, m := range opts.Modalities {
		if err := mw.WriteField("search_options", m); err != nil {
			return nil, fmt.Errorf("write search field: %w", err)
		}
	}

	name := q.ImageName
	if name == "" {
		name = "query.jpg"
	}
	part, err := mw.CreateFormFile("query_media_file", name)
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(q.Image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize image body: %w", err)
	}

	return c.do(ctx, c.httpClient, http.MethodPost, "/search", mw.FormDataContentType(), &buf, "search")
}

// do performs one authenticated request and returns the response body, or a
// classified *Error. It never partially mutates local state.
func (c *HTTPClient) do(ctx context.Context, client *http.Client, method, path, contentType string, body io.Reader, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("x-api-key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindConnectivity, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := KindRemoteRejected
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindAuth
		}
		return nil, &Error{Kind: kind, Op: op, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return respBody, nil
}

// wireClip carries the fields common to flat hits and the clips nested in
// grouped hits.
type wireClip struct {
	VideoID      string     `json:"video_id"`
	Confidence   Confidence `json:"confidence"`
	Score        float64    `json:"score"`
	Start        float64    `json:"start"`
	End          float64    `json:"end"`
	ClipText     *string    `json:"transcription"`
	ThumbnailURL *string    `json:"thumbnail_url"`
	Filename     *string    `json:"filename"`
}

// wireHit is one entry of the search response. A grouped entry carries an
// id plus nested clips; a flat entry carries the clip fields directly.
type wireHit struct {
	wireClip
	ID    string     `json:"id"`
	Clips []wireClip `json:"clips"`
}

func (w wireClip) toHit() SearchHit {
	return SearchHit{
		VideoID:      w.VideoID,
		Confidence:   w.Confidence,
		Score:        w.Score,
		Start:        w.Start,
		End:          w.End,
		ClipText:     w.ClipText,
		ThumbnailURL: w.ThumbnailURL,
		Filename:     w.Filename,
	}
}

// flattenHits resolves the grouped-vs-flat union once, here at the client
// boundary, so everything downstream sees one uniform hit sequence.
func flattenHits(items []wireHit) []SearchHit {
	var hits []SearchHit
	for _, item := range items {
		if len(item.Clips) > 0 {
			for _, clip := range item.Clips {
				hit := clip.toHit()
				if hit.VideoID == "" {
					hit.VideoID = item.ID
				}
				hits = append(hits, hit)
			}
			continue
		}
		hits = append(hits, item.wireClip.toHit())
	}
	return hits
}
