package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vidgen/shared/events"
	"github.com/jmoiron/sqlx"
)

// JobRecord is one row of the generation_jobs archive table
type JobRecord struct {
	JobID          string         `db:"job_id"`
	Status         string         `db:"status"`
	Mode           string         `db:"mode"`
	FilenamePrefix string         `db:"filename_prefix"`
	ErrorMessage   sql.NullString `db:"error_message"`
	HasImage       bool           `db:"has_image"`
	HasVideo       bool           `db:"has_video"`
	CreatedAt      time.Time      `db:"created_at"`
	CompletedAt    time.Time      `db:"completed_at"`
	LastEventID    string         `db:"last_event_id"`
}

// RecordFromEvent maps a lifecycle event to its archive row
func RecordFromEvent(e *events.JobEvent) *JobRecord {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = e.CompletedAt
	}
	return &JobRecord{
		JobID:          e.JobID,
		Status:         e.Status,
		Mode:           e.Mode,
		FilenamePrefix: e.FilenamePrefix,
		ErrorMessage:   sql.NullString{String: e.Error, Valid: e.Error != ""},
		HasImage:       e.HasImage,
		HasVideo:       e.HasVideo,
		CreatedAt:      createdAt.UTC(),
		CompletedAt:    e.CompletedAt.UTC(),
		LastEventID:    e.EventID,
	}
}

// upsertQuery inserts the row, or overwrites it only when the incoming event
// is not older than the stored one, so redelivery is a no-op
const upsertQuery = `
	INSERT INTO generation_jobs (
		job_id, status, mode, filename_prefix, error_message,
		has_image, has_video, created_at, completed_at, last_event_id, archived_at
	) VALUES (
		:job_id, :status, :mode, :filename_prefix, :error_message,
		:has_image, :has_video, :created_at, :completed_at, :last_event_id, NOW()
	)
	ON CONFLICT (job_id) DO UPDATE SET
		status          = EXCLUDED.status,
		mode            = EXCLUDED.mode,
		filename_prefix = EXCLUDED.filename_prefix,
		error_message   = EXCLUDED.error_message,
		has_image       = EXCLUDED.has_image,
		has_video       = EXCLUDED.has_video,
		completed_at    = EXCLUDED.completed_at,
		last_event_id   = EXCLUDED.last_event_id,
		archived_at     = NOW()
	WHERE generation_jobs.completed_at <= EXCLUDED.completed_at
`

// Storage writes the job archive
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// UpsertJob archives a terminal job. It reports whether a row was written.
func (s *Storage) UpsertJob(ctx context.Context, record *JobRecord) (bool, error) {
	result, err := s.db.NamedExecContext(ctx, upsertQuery, record)
	if err != nil {
		return false, fmt.Errorf("failed to archive job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		s.logger.Debug("Archive already holds a newer record",
			slog.String("job_id", record.JobID),
		)
	}
	return rows > 0, nil
}
