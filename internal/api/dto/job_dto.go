package dto

type ListJobsRequest struct {
	Status   string `form:"status"`
	Mode     string `form:"mode"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is one archived job
type JobDTO struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	Mode           string `json:"mode,omitempty"`
	FilenamePrefix string `json:"filename_prefix,omitempty"`
	Error          string `json:"error,omitempty"`
	HasImage       bool   `json:"has_image"`
	HasVideo       bool   `json:"has_video"`
	CreatedAt      string `json:"created_at"`
	CompletedAt    string `json:"completed_at"`
	ArchivedAt     string `json:"archived_at"`
}
