// Package extract defines the Extractor capability the job worker calls once
// per row, its failure taxonomy, and the concrete lookup backends.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/data-mapper/internal/resilience"
)

// Record is a structured extraction result keyed by output field name.
type Record map[string]string

// Extractor runs one lookup per query. Implementations are single stateful
// sessions and are not safe for concurrent use.
type Extractor interface {
	// Extract looks up query. It fails with *RecoverableError on network or
	// timeout conditions and with *UnrecoverableError otherwise.
	Extract(ctx context.Context, query string) (Record, error)
	// LastLocation is the last URL the extractor attempted, for diagnostics.
	LastLocation() string
	// Close releases the session. It is called exactly once.
	Close() error
}

// Factory opens a new Extractor session. A factory error is fatal to the job.
type Factory func(ctx context.Context) (Extractor, error)

// RecoverableError is a network/timeout failure that a person may choose to
// retry.
type RecoverableError struct {
	Location string
	Err      error
}

func (e *RecoverableError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("recoverable: %v", e.Err)
	}
	return fmt.Sprintf("recoverable at %s: %v", e.Location, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// UnrecoverableError is a failure specific to the input; retrying will not help.
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string { return fmt.Sprintf("unrecoverable: %v", e.Err) }

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// Classify wraps err as recoverable when it looks like a network or timeout
// condition and as unrecoverable otherwise. Already classified errors pass
// through unchanged.
func Classify(err error, location string) error {
	if err == nil {
		return nil
	}
	var re *RecoverableError
	var ue *UnrecoverableError
	if errors.As(err, &re) || errors.As(err, &ue) {
		return err
	}
	if resilience.IsTransient(err) {
		return &RecoverableError{Location: location, Err: err}
	}
	return &UnrecoverableError{Err: err}
}

// AsRecoverable reports whether err carries a RecoverableError.
func AsRecoverable(err error) (*RecoverableError, bool) {
	var re *RecoverableError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
