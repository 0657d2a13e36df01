package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() JobEvent {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return JobEvent{
		EventID:     "4b7f2c1e-2f0a-4b59-9a57-0b6d5d0f7a11",
		Type:        TypeJobCompleted,
		JobID:       "0b6a3a36-7f43-4b8e-9d5e-2f1c7d9a0e11",
		Status:      "completed",
		HasVideo:    true,
		CreatedAt:   now.Add(-time.Minute),
		CompletedAt: now,
	}
}

func TestDecode(t *testing.T) {
	valid := validEvent()
	encoded, err := valid.Encode()
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    []byte
		wantErr bool
	}{
		{name: "valid", body: encoded},
		{name: "not json", body: []byte("{"), wantErr: true},
		{name: "bad job id", body: []byte(`{"job_id":"42","type":"job.completed","status":"completed","completed_at":"2026-03-01T12:00:00Z"}`), wantErr: true},
		{name: "non terminal", body: []byte(`{"job_id":"0b6a3a36-7f43-4b8e-9d5e-2f1c7d9a0e11","type":"job.completed","status":"processing","completed_at":"2026-03-01T12:00:00Z"}`), wantErr: true},
		{name: "type mismatch", body: []byte(`{"job_id":"0b6a3a36-7f43-4b8e-9d5e-2f1c7d9a0e11","type":"job.failed","status":"completed","completed_at":"2026-03-01T12:00:00Z"}`), wantErr: true},
		{name: "missing completed_at", body: []byte(`{"job_id":"0b6a3a36-7f43-4b8e-9d5e-2f1c7d9a0e11","type":"job.failed","status":"failed"}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Decode(tt.body)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEvent)
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			want := validEvent()
			assert.Equal(t, want.JobID, e.JobID)
			assert.True(t, want.CompletedAt.Equal(e.CompletedAt))
			assert.True(t, e.HasVideo)
		})
	}
}

func TestTypeForStatus(t *testing.T) {
	typ, ok := TypeForStatus("failed")
	assert.True(t, ok)
	assert.Equal(t, TypeJobFailed, typ)

	_, ok = TypeForStatus("pending")
	assert.False(t, ok)
}
