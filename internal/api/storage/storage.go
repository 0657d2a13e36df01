package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/model"
	"github.com/cuongbtq/vidgen/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a job is not in the archive
var ErrNotFound = errors.New("archived job not found")

const selectColumns = `
	job_id, status, mode, filename_prefix, error_message,
	has_image, has_video, created_at, completed_at, archived_at
`

// Storage reads the generation job archive written by the worker service
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.ArchivedJob, error) {
	var job model.ArchivedJob
	query := `SELECT ` + selectColumns + ` FROM generation_jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get archived job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	Status   string
	Mode     string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	CompletedAt time.Time
	JobID       string
}

// ListJobs returns up to PageSize+1 rows, newest completion first
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.ArchivedJob, error) {
	query, args := buildListQuery(filter)

	var jobs []model.ArchivedJob
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}

	return jobs, nil
}

func buildListQuery(filter JobFilter) (string, []interface{}) {
	query := `SELECT ` + selectColumns + ` FROM generation_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Mode != "" {
		query += fmt.Sprintf(" AND mode = $%d", argIdx)
		args = append(args, filter.Mode)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (completed_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CompletedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY completed_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	return query, args
}
