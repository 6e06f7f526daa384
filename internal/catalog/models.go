package catalog

import "path/filepath"

// Status is the indexing lifecycle state of a catalogued video.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusRegistered, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// CanTransition reports whether a record may move from one status to
// another. Ready is only reachable through Processing; terminal states
// permit no exits.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusRegistered:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusReady || to == StatusFailed
	}
	return false
}

// VideoRecord maps one locally discovered video file to its remote identity.
// VideoID is set if and only if the record is ready.
type VideoRecord struct {
	VideoID  string `json:"video_id"`
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Catalog is the durable record of the remote collection and every video
// registered against it.
type Catalog struct {
	CollectionID string        `json:"collection_id"`
	Videos       []VideoRecord `json:"videos"`
}

// FindByVideoID returns the record with the given remote video id, or nil.
func (c *Catalog) FindByVideoID(id string) *VideoRecord {
	if id == "" {
		return nil
	}
	for i := range c.Videos {
		if c.Videos[i].VideoID == id {
			return &c.Videos[i]
		}
	}
	return nil
}

// FindByPath returns the record for the given local file path, or nil.
func (c *Catalog) FindByPath(path string) *VideoRecord {
	for i := range c.Videos {
		if c.Videos[i].Filepath == path {
			return &c.Videos[i]
		}
	}
	return nil
}

// Upsert replaces the record with the same local path, or appends it.
func (c *Catalog) Upsert(rec VideoRecord) {
	if existing := c.FindByPath(rec.Filepath); existing != nil {
		*existing = rec
		return
	}
	c.Videos = append(c.Videos, rec)
}

var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
}

// IsVideoFile reports whether the filename carries a supported video
// extension.
func IsVideoFile(filename string) bool {
	ext := filepath.Ext(filename)
	if ext == "" {
		return false
	}
	lower := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		lower[i] = c
	}
	return videoExtensions[string(lower)]
}
