package dto

import (
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
)

// SubmitResponse acknowledges a generation request
type SubmitResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is the JSON view of a live job
type StatusResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Warning     string `json:"warning,omitempty"`
	Message     string `json:"message,omitempty"`
	Mode        string `json:"mode,omitempty"`
	HasImage    bool   `json:"hasImage"`
	HasVideo    bool   `json:"hasVideo"`
	HasResult   bool   `json:"hasResult"`
	CreatedAt   string `json:"createdAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// NewStatusResponse describes job without deciding how its Error is
// presented; callers set Error or Warning
func NewStatusResponse(job domain.Job) StatusResponse {
	resp := StatusResponse{
		ID:        job.ID,
		Status:    string(job.Status),
		HasImage:  job.HasImage,
		HasVideo:  job.HasVideo,
		HasResult: job.Result != nil,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
	if job.Metadata != nil {
		resp.Mode = job.Metadata.Mode
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}
