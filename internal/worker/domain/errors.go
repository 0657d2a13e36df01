package domain

import "fmt"

// RetryableError marks an archive failure that should be redelivered, such
// as a lost database connection or a write cut short by shutdown
type RetryableError struct {
	JobID string
	Op    string
	Err   error
}

func (e *RetryableError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("%s: %v (retryable)", e.Op, e.Err)
	}
	return fmt.Sprintf("%s job %s: %v (retryable)", e.Op, e.JobID, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err from op on the given job
func NewRetryableError(jobID, op string, err error) error {
	return &RetryableError{JobID: jobID, Op: op, Err: err}
}
