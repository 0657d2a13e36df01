package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a generation job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further status change is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change would leave a
	// terminal state, re-enter one, or move backwards to pending.
	ErrInvalidTransition = errors.New("invalid job status transition")

	ErrMetadataImmutable = errors.New("job metadata already assigned")
	ErrMetadataMissing   = errors.New("job metadata not assigned")
)

// validTransitions maps from-status to allowed to-statuses
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// CanTransition reports whether a job may move from one status to another.
// Staying in the same non-terminal status is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.IsTerminal()
	}
	return validTransitions[from][to]
}

// Blob is a binary payload attached to a job
type Blob struct {
	Content     []byte
	ContentType string
}

// Metadata holds the output naming assigned to a job at dispatch time
type Metadata struct {
	Mode              string
	FilenamePrefix    string
	ExpectedImagePath string
	ExpectedVideoPath string
}

// Job is the unit of work tracked by the registry
type Job struct {
	ID          string
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time

	// Error is a soft warning while processing, or the terminal cause when failed
	Error string

	Metadata *Metadata

	Result      *Blob
	ImageResult *Blob
	VideoResult *Blob
	HasImage    bool
	HasVideo    bool
}

// Artifact returns the binary to serve for a completed job, in precedence
// order image, video, generic result. The second return is false when no
// binary is attached yet.
func (j *Job) Artifact() (*Blob, string, bool) {
	switch {
	case j.HasImage && j.ImageResult != nil:
		return j.ImageResult, "image", true
	case j.HasVideo && j.VideoResult != nil:
		return j.VideoResult, "video", true
	case j.Result != nil:
		return j.Result, "result", true
	}
	return nil, "", false
}

// Patch carries a partial update; nil fields are left untouched
type Patch struct {
	Status            *Status
	Error             *string
	Metadata          *Metadata
	ExpectedImagePath *string
	ExpectedVideoPath *string
	Result            *Blob
	ImageResult       *Blob
	VideoResult       *Blob
}

// StatusPtr is a convenience for building patches
func StatusPtr(s Status) *Status {
	return &s
}

// StringPtr is a convenience for building patches
func StringPtr(s string) *string {
	return &s
}
