package job

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrDecisionPending is returned by Resolve when a decision is already
// waiting to be consumed.
var ErrDecisionPending = errors.New("job: a decision is already pending")

// Action is the human choice for a recoverable row failure.
type Action int

const (
	// ActionRetry runs the row again, optionally with a revised query.
	ActionRetry Action = iota + 1
	// ActionSkip records an empty result and moves on.
	ActionSkip
	// ActionStop cancels the job.
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSkip:
		return "skip"
	case ActionStop:
		return "stop"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision resolves one error episode. Query replaces the row's query on
// retry when non-empty.
type Decision struct {
	Action Action
	Query  string
}

// Handle is the state a controller and its worker share: the signal set and
// a single-slot decision mailbox. The controller is the only writer of the
// mailbox and the worker the only reader.
type Handle struct {
	ID        string
	Signals   *Signals
	decisions chan Decision
}

// NewHandle creates a handle for job id.
func NewHandle(id string) *Handle {
	return &Handle{
		ID:        id,
		Signals:   NewSignals(),
		decisions: make(chan Decision, 1),
	}
}

// Resolve releases a worker parked on an error. Paused is cleared before the
// decision is delivered.
func (h *Handle) Resolve(d Decision) error {
	switch d.Action {
	case ActionRetry, ActionSkip, ActionStop:
	default:
		return eris.Errorf("job: invalid decision %s", d.Action)
	}
	h.Signals.SetPaused(false)
	select {
	case h.decisions <- d:
		return nil
	default:
		return ErrDecisionPending
	}
}

// awaitDecision parks until a decision arrives or the job is stopped. A stop
// wins over a decision that arrives at the same time.
func (h *Handle) awaitDecision() (Decision, bool) {
	select {
	case d := <-h.decisions:
		if h.Signals.Stopping() {
			return Decision{}, false
		}
		return d, true
	case <-h.Signals.Done():
		return Decision{}, false
	}
}
