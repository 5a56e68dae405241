package caresync

import (
	"context"
	"sync"
	"time"

	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/pkg/log"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// State represents the run state of the agent.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// runState manages the agent's run state machine and worker accounting.
type runState struct {
	mu      sync.RWMutex
	state   State
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  log.Logger
	handler EventHandler
}

func newRunState(logger log.Logger, handler EventHandler) *runState {
	return &runState{
		state:   StateStopped,
		logger:  logger,
		handler: handler,
	}
}

// State returns the current run state.
func (r *runState) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// CanStart reports whether Start is valid from the current state.
func (r *runState) CanStart() bool {
	s := r.State()
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether Stop is valid from the current state.
func (r *runState) CanStop() bool {
	s := r.State()
	return s == StateStarting || s == StateRunning
}

// TransitionTo attempts to transition to a new state.
// Returns an error if the transition is not valid.
func (r *runState) TransitionTo(newState State, reason string) error {
	r.mu.Lock()
	oldState := r.state

	valid := false
	switch oldState {
	case StateStopped:
		valid = newState == StateStarting
	case StateStarting:
		valid = newState == StateRunning || newState == StateStopping || newState == StateCrashed
	case StateRunning:
		valid = newState == StateStopping || newState == StateCrashed
	case StateStopping:
		valid = newState == StateStopped || newState == StateCrashed
	case StateCrashed:
		valid = newState == StateStarting
	}
	if !valid {
		r.mu.Unlock()
		return domain.ErrInvalidStateTransition
	}

	r.state = newState
	r.mu.Unlock()

	r.logger.Debug("state transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)
	if r.handler != nil {
		r.handler.OnStateChange(StateChangeEvent{
			Previous: oldState,
			Current:  newState,
			Reason:   reason,
		})
	}
	return nil
}

// SetCancel stores the cancel function for the run context.
func (r *runState) SetCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
}

// AddWorker registers a background worker.
func (r *runState) AddWorker() {
	r.wg.Add(1)
}

// WorkerDone marks a background worker finished.
func (r *runState) WorkerDone() {
	r.wg.Done()
}

// WaitWithTimeout waits for all workers to finish, up to the given timeout.
// Returns ErrShutdownTimeout if workers are still running when it expires.
func (r *runState) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return domain.ErrShutdownTimeout
	}
}
