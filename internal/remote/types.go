package remote

import (
	"encoding/json"
	"strings"
)

// Collection is the remote grouping that videos are indexed into and that
// queries are scoped to.
type Collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EngineSpec names one remote indexing engine and the modalities it should
// index.
type EngineSpec struct {
	Name    string   `json:"model_name"`
	Options []string `json:"model_options"`
}

// DefaultEngines is the engine set used when a collection is created
// without an explicit spec.
var DefaultEngines = []EngineSpec{
	{Name: "marengo2.7", Options: []string{"visual", "audio"}},
	{Name: "pegasus1.2", Options: []string{"visual", "audio"}},
}

// TaskState is the remote indexing task lifecycle state.
type TaskState string

const (
	TaskQueued     TaskState = "queued"
	TaskProcessing TaskState = "processing"
	TaskReady      TaskState = "ready"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether the task permits no further transitions.
func (s TaskState) Terminal() bool {
	return s == TaskReady || s == TaskFailed
}

// TaskStatus is the result of a single task poll. VideoID is populated once
// the remote service has assigned one.
type TaskStatus struct {
	State   TaskState
	VideoID string
}

// Query is a text or image search query. Exactly one of Text and Image is
// set.
type Query struct {
	Text      string
	Image     []byte
	ImageName string
}

// IsImage reports whether the query carries image bytes.
func (q Query) IsImage() bool {
	return len(q.Image) > 0
}

// SearchOptions configures a remote search call.
type SearchOptions struct {
	Modalities          []string // subset of {visual, audio}
	ConfidenceThreshold string   // low, medium or high
	MatchOperator       string   // and or or
	ResultLimit         int
	ConfidenceBias      float64
	GroupByVideo        bool
}

// ConfidenceKind tags how the remote service expressed a hit's confidence.
type ConfidenceKind int

const (
	ConfidenceNone ConfidenceKind = iota
	ConfidenceLabel
	ConfidenceScore
)

// Confidence is the remote confidence field, which arrives either as a
// string label or a numeric score depending on the engine.
type Confidence struct {
	Kind  ConfidenceKind
	Label string
	Value float64
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*c = Confidence{}
		return nil
	}

	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*c = Confidence{Kind: ConfidenceLabel, Label: label}
		return nil
	}

	var value float64
	if err := json.Unmarshal(data, &value); err == nil {
		*c = Confidence{Kind: ConfidenceScore, Value: value}
		return nil
	}

	// Unrecognized shape degrades to "no confidence" rather than failing
	// the whole response.
	*c = Confidence{}
	return nil
}

// SearchHit is one clip match after both remote response shapes have been
// flattened. Optional fields are pointers so absence stays distinguishable
// from an empty value.
type SearchHit struct {
	VideoID      string
	Confidence   Confidence
	Score        float64
	Start        float64
	End          float64
	ClipText     *string
	ThumbnailURL *string
	Filename     *string
}
