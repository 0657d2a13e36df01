package model

import (
	"database/sql"
	"time"
)

// ArchivedJob is a terminal generation job as stored in the history table
type ArchivedJob struct {
	JobID          string         `db:"job_id"`
	Status         string         `db:"status"`
	Mode           string         `db:"mode"`
	FilenamePrefix string         `db:"filename_prefix"`
	ErrorMessage   sql.NullString `db:"error_message"`
	HasImage       bool           `db:"has_image"`
	HasVideo       bool           `db:"has_video"`
	CreatedAt      time.Time      `db:"created_at"`
	CompletedAt    time.Time      `db:"completed_at"`
	ArchivedAt     time.Time      `db:"archived_at"`
}
