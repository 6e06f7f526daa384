package api

import (
	"github.com/clipfind/clipfind/internal/catalog"
	"github.com/clipfind/clipfind/internal/search"
)

type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	UptimeS      int64  `json:"uptime_s"`
	Indexed      bool   `json:"indexed"`
	CollectionID string `json:"collection_id,omitempty"`
}

type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type SearchResponse struct {
	Query        string          `json:"query"`
	Results      []search.Result `json:"results"`
	TotalResults int             `json:"total_results"`
}

type VideoResponse struct {
	VideoID  string `json:"video_id"`
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
	Total  int             `json:"total"`
}

type IndexResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(r catalog.VideoRecord) VideoResponse {
	return VideoResponse{
		VideoID:  r.VideoID,
		TaskID:   r.TaskID,
		Filename: r.Filename,
		Filepath: r.Filepath,
		Status:   string(r.Status),
		Error:    r.Error,
	}
}
