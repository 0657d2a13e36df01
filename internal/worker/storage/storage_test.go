package storage

import (
	"testing"
	"time"

	"github.com/cuongbtq/vidgen/shared/events"
	"github.com/stretchr/testify/assert"
)

func TestRecordFromEvent(t *testing.T) {
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("ICT", 7*3600))

	tests := []struct {
		name  string
		event events.JobEvent
		check func(t *testing.T, r *JobRecord)
	}{
		{
			name: "completed job",
			event: events.JobEvent{
				EventID: "e1", JobID: "j1", Status: "completed", Mode: "avatar",
				FilenamePrefix: "vidgen_j1_000001", HasImage: true,
				CreatedAt: completed.Add(-time.Minute), CompletedAt: completed,
			},
			check: func(t *testing.T, r *JobRecord) {
				assert.Equal(t, "completed", r.Status)
				assert.Equal(t, "avatar", r.Mode)
				assert.False(t, r.ErrorMessage.Valid)
				assert.True(t, r.HasImage)
				assert.Equal(t, time.UTC, r.CompletedAt.Location())
				assert.Equal(t, "e1", r.LastEventID)
			},
		},
		{
			name: "failed job keeps the error",
			event: events.JobEvent{
				EventID: "e2", JobID: "j2", Status: "failed", Error: "output timeout",
				CreatedAt: completed.Add(-time.Hour), CompletedAt: completed,
			},
			check: func(t *testing.T, r *JobRecord) {
				assert.True(t, r.ErrorMessage.Valid)
				assert.Equal(t, "output timeout", r.ErrorMessage.String)
			},
		},
		{
			name:  "missing created_at falls back to completed_at",
			event: events.JobEvent{JobID: "j3", Status: "failed", CompletedAt: completed},
			check: func(t *testing.T, r *JobRecord) {
				assert.True(t, completed.Equal(r.CreatedAt))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, RecordFromEvent(&tt.event))
		})
	}
}

func TestUpsertQuery_IsIdempotent(t *testing.T) {
	assert.Contains(t, upsertQuery, "ON CONFLICT (job_id) DO UPDATE")
	assert.Contains(t, upsertQuery, "WHERE generation_jobs.completed_at <= EXCLUDED.completed_at")
}
