package queue

import (
	"errors"
	"fmt"

	"rollcall/internal/services"
)

// ErrDuplicateActiveJob marks enqueue rejections for episodes that already
// have a pending or processing job.
var ErrDuplicateActiveJob = errors.New("duplicate active job")

// ErrInvalidTransition marks lifecycle operations applied to jobs in the
// wrong state, such as cancelling a processing job.
var ErrInvalidTransition = errors.New("invalid job transition")

// DuplicateActiveJobError reports the job that blocked an enqueue.
type DuplicateActiveJobError struct {
	EpisodeID string
	JobID     int64
	Status    Status
}

func (e *DuplicateActiveJobError) Error() string {
	return fmt.Sprintf("episode %s already has an active job (id %d, %s)", e.EpisodeID, e.JobID, e.Status)
}

func (e *DuplicateActiveJobError) Unwrap() error { return ErrDuplicateActiveJob }

// InvalidTransitionError reports a rejected lifecycle operation.
type InvalidTransitionError struct {
	JobID int64
	From  Status
	Op    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s job %d in status %s", e.Op, e.JobID, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Disposition describes how the scheduler treats a failed job.
type Disposition int

const (
	// DispositionRetry returns the job to pending with a backoff gate,
	// provided retry budget remains.
	DispositionRetry Disposition = iota
	// DispositionTerminal fails the job immediately.
	DispositionTerminal
)

func (d Disposition) String() string {
	if d == DispositionTerminal {
		return "terminal"
	}
	return "retry"
}

// FailureDisposition is the single decision point mapping stage errors to
// retry-vs-terminal handling. Validation, configuration, not-found, and
// data-integrity failures never retry; everything else is presumed transient
// infrastructure trouble and retries while budget remains.
func FailureDisposition(err error) Disposition {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrConfiguration),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrDataIntegrity):
		return DispositionTerminal
	default:
		return DispositionRetry
	}
}
