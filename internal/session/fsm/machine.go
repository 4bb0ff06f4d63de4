package fsm

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase describes the connection lifecycle of a consumer session.
type Phase string

const (
	PhaseConnecting   Phase = "connecting"
	PhaseOpen         Phase = "open"
	PhaseReconnecting Phase = "reconnecting"
	PhaseClosed       Phase = "closed"
)

const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 10
)

// ErrAttemptsExhausted is reported with the terminal effect once the retry
// budget is spent.
var ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")

// State is a snapshot of the session.
type State struct {
	Phase       Phase
	Attempt     int
	NextRetryAt time.Time
	Gen         uint64
}

// Event is an input to the machine.
type Event interface{ event() }

// ConnectionOpened reports a completed handshake for dial generation Gen.
type ConnectionOpened struct{ Gen uint64 }

// ConnectionClosed reports a failed dial or a dropped connection.
type ConnectionClosed struct {
	Gen uint64
	Err error
}

// RetryElapsed fires when the retry timer scheduled for Gen expires.
type RetryElapsed struct{ Gen uint64 }

// ManualReconnect represents a manualReconnect.
type ManualReconnect struct{}

// Shutdown represents a shutdown.
type Shutdown struct{}

func (ConnectionOpened) event() {}
func (ConnectionClosed) event() {}
func (RetryElapsed) event()     {}
func (ManualReconnect) event()  {}
func (Shutdown) event()         {}

// Effect is an instruction for the control loop.
type Effect interface{ effect() }

// Dial opens a new connection tagged with Gen.
type Dial struct{ Gen uint64 }

// ScheduleRetry arms the retry timer.
type ScheduleRetry struct {
	Gen   uint64
	Delay time.Duration
}

// CancelRetry disarms any pending retry timer.
type CancelRetry struct{}

// CloseConn closes the live connection, if any.
type CloseConn struct{}

// RequestStatus asks the producer for a full snapshot.
type RequestStatus struct{}

// Terminal reports that no automatic reconnect will follow.
type Terminal struct{ Err error }

func (Dial) effect()          {}
func (ScheduleRetry) effect() {}
func (CancelRetry) effect()   {}
func (CloseConn) effect()     {}
func (RequestStatus) effect() {}
func (Terminal) effect()      {}

// Config represents a config.
type Config struct {
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Machine is a deterministic reconnect state machine. It performs no I/O;
// callers execute the returned effects in order.
type Machine struct {
	mu       sync.RWMutex
	cfg      Config
	state    State
	shutdown bool
}

// New creates a machine in the connecting phase. Call Start to get the
// first dial.
func New(cfg Config) *Machine {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return &Machine{
		cfg:   cfg,
		state: State{Phase: PhaseConnecting},
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Start issues the initial dial.
func (m *Machine) Start() []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil
	}
	return []Effect{m.dialLocked()}
}

// Handle applies ev and returns the effects to execute.
func (m *Machine) Handle(ev Event, now time.Time) []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil
	}

	switch e := ev.(type) {
	case ConnectionOpened:
		if e.Gen != m.state.Gen || m.state.Phase != PhaseConnecting {
			return nil
		}
		m.state.Phase = PhaseOpen
		m.state.Attempt = 0
		m.state.NextRetryAt = time.Time{}
		return []Effect{RequestStatus{}}

	case ConnectionClosed:
		if e.Gen != m.state.Gen {
			return nil
		}
		if m.state.Phase != PhaseOpen && m.state.Phase != PhaseConnecting {
			return nil
		}
		m.state.Attempt++
		if m.state.Attempt >= m.cfg.MaxReconnectAttempts {
			m.state.Phase = PhaseClosed
			m.state.NextRetryAt = time.Time{}
			err := ErrAttemptsExhausted
			if e.Err != nil {
				err = fmt.Errorf("%w: %w", ErrAttemptsExhausted, e.Err)
			}
			return []Effect{CloseConn{}, Terminal{Err: err}}
		}
		m.state.Phase = PhaseReconnecting
		m.state.NextRetryAt = now.Add(m.cfg.ReconnectDelay)
		return []Effect{CloseConn{}, ScheduleRetry{Gen: m.state.Gen, Delay: m.cfg.ReconnectDelay}}

	case RetryElapsed:
		if e.Gen != m.state.Gen || m.state.Phase != PhaseReconnecting {
			return nil
		}
		return []Effect{m.dialLocked()}

	case ManualReconnect:
		m.state.Attempt = 0
		return []Effect{CancelRetry{}, CloseConn{}, m.dialLocked()}

	case Shutdown:
		m.shutdown = true
		m.state.Phase = PhaseClosed
		m.state.NextRetryAt = time.Time{}
		return []Effect{CancelRetry{}, CloseConn{}}
	}
	return nil
}

func (m *Machine) dialLocked() Effect {
	m.state.Gen++
	m.state.Phase = PhaseConnecting
	m.state.NextRetryAt = time.Time{}
	return Dial{Gen: m.state.Gen}
}
