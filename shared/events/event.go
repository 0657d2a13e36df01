// Package events defines the job lifecycle messages exchanged between the
// api service and the archive worker over RabbitMQ.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"

	// BindingKey matches every job lifecycle routing key
	BindingKey = "job.#"

	ContentType = "application/json"
)

// ErrInvalidEvent is returned for messages that can never be archived
var ErrInvalidEvent = errors.New("invalid job event")

// JobEvent is published once per job when it reaches a terminal status.
// The routing key equals Type.
type JobEvent struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"type"`
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	Mode           string    `json:"mode,omitempty"`
	FilenamePrefix string    `json:"filename_prefix,omitempty"`
	Error          string    `json:"error,omitempty"`
	HasImage       bool      `json:"has_image"`
	HasVideo       bool      `json:"has_video"`
	CreatedAt      time.Time `json:"created_at"`
	CompletedAt    time.Time `json:"completed_at"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// TypeForStatus maps a terminal job status to its event type
func TypeForStatus(status string) (string, bool) {
	switch status {
	case "completed":
		return TypeJobCompleted, true
	case "failed":
		return TypeJobFailed, true
	}
	return "", false
}

// Validate checks the fields the archive relies on
func (e *JobEvent) Validate() error {
	if _, err := uuid.Parse(e.JobID); err != nil {
		return fmt.Errorf("%w: job_id %q is not a UUID", ErrInvalidEvent, e.JobID)
	}
	want, ok := TypeForStatus(e.Status)
	if !ok {
		return fmt.Errorf("%w: status %q is not terminal", ErrInvalidEvent, e.Status)
	}
	if e.Type != want {
		return fmt.Errorf("%w: type %q does not match status %q", ErrInvalidEvent, e.Type, e.Status)
	}
	if e.CompletedAt.IsZero() {
		return fmt.Errorf("%w: completed_at is required", ErrInvalidEvent)
	}
	return nil
}

// Encode serializes the event
func (e *JobEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates a message body
func Decode(body []byte) (*JobEvent, error) {
	var e JobEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
