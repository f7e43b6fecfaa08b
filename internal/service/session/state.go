// Package session runs one client's screening conversation: control
// handling, audio ingestion, segment sequencing and score dispatch.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateIdle - Connection accepted, waiting for a start control message.
	StateIdle State = iota
	// StateListening - Streaming is active, audio frames are accepted.
	StateListening
	// StateStopping - Stop received, draining the recognizer and pending
	// scores. No new audio is accepted.
	StateStopping
	// StateClosed - Session is finished. Terminal state.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateStopping:
		return "STOPPING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid state transitions.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
	ErrStopping       = errors.New("session is stopping")
	ErrSessionClosed  = errors.New("session is closed")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → LISTENING → STOPPING → CLOSED
//	              │
//	              └── AcceptAudio() ──→ multiple times
//
// Rules:
//   - IDLE: Only Start() is valid; audio and stop are rejected.
//   - LISTENING: Audio is accepted, Stop() begins the drain.
//   - STOPPING: No new audio, no second stop. Close() finishes.
//   - CLOSED: All operations return ErrSessionClosed.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a session lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsClosed returns true if the session is in the terminal state.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateClosed
}

// Start validates and transitions IDLE → LISTENING.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		l.state = StateListening
		return nil
	case StateListening, StateStopping:
		return ErrAlreadyStarted
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// AcceptAudio validates that an audio frame may be processed.
// Returns nil if allowed, error if not allowed.
func (l *Lifecycle) AcceptAudio() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch l.state {
	case StateListening:
		return nil
	case StateIdle:
		return ErrNotStarted
	case StateStopping:
		return ErrStopping
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Stop validates and transitions LISTENING → STOPPING.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateListening:
		l.state = StateStopping
		return nil
	case StateIdle:
		return ErrNotStarted
	case StateStopping:
		return ErrStopping
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close transitions the session to CLOSED state.
// Can be called from any state. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateClosed
}
