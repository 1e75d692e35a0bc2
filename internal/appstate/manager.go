// Package appstate tracks the host application's lifecycle state and its
// analytics sessions.
//
// Sessions use hybrid detection: a session expires after an inactivity
// timeout, and a background period longer than the timeout ends it on the
// next foreground transition.
package appstate

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout is used when no timeout is configured.
const DefaultSessionTimeout = 60 * time.Second

// State is the application's lifecycle state.
type State int

const (
	NotRunning State = iota
	Background
	Foreground
)

func (s State) String() string {
	switch s {
	case Background:
		return "background"
	case Foreground:
		return "foreground"
	default:
		return "not_running"
	}
}

// OnSessionStart is called when a new session begins.
type OnSessionStart func(sessionID string)

// OnSessionEnd is called when a session ends. durationMs runs from the
// session start to its last activity.
type OnSessionEnd func(sessionID string, durationMs int64)

// Manager is safe for concurrent use. Callbacks run with the manager's lock
// held and must not call back into it.
type Manager struct {
	mu sync.Mutex

	state State

	sessionID      string
	sessionStart   time.Time
	lastActivity   time.Time
	backgroundedAt time.Time
	timeout        time.Duration

	onSessionStart OnSessionStart
	onSessionEnd   OnSessionEnd

	clock func() time.Time
}

// NewManager creates a manager in the NotRunning state. Callbacks may be nil.
func NewManager(timeout time.Duration, onStart OnSessionStart, onEnd OnSessionEnd) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Manager{
		state:          NotRunning,
		timeout:        timeout,
		onSessionStart: onStart,
		onSessionEnd:   onEnd,
		clock:          time.Now,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AppLaunched marks the process as running without a visible UI. It is a
// no-op once the app has been seen in any running state.
func (m *Manager) AppLaunched() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == NotRunning {
		m.state = Background
	}
}

// AppDidEnterBackground records the background transition. The session is
// not ended here; the user may return quickly.
func (m *Manager) AppDidEnterBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Background
	m.backgroundedAt = m.clock()
}

// AppWillEnterForeground ends the current session if the app stayed in the
// background longer than the timeout.
func (m *Manager) AppWillEnterForeground() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Foreground

	if m.sessionID == "" || m.backgroundedAt.IsZero() {
		return
	}

	if m.clock().Sub(m.backgroundedAt) > m.timeout {
		m.endSessionLocked()
	}
	m.backgroundedAt = time.Time{}
}

// AppTerminated ends any active session and returns to NotRunning.
func (m *Manager) AppTerminated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endSessionLocked()
	m.state = NotRunning
	m.backgroundedAt = time.Time{}
}

// RecordActivity returns the current session id, rotating the session first
// if none is active or it has expired.
func (m *Manager) RecordActivity() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if m.sessionID != "" && now.Sub(m.lastActivity) <= m.timeout {
		m.lastActivity = now
		return m.sessionID
	}

	m.endSessionLocked()
	return m.startSessionLocked(now)
}

// CurrentSessionID returns the active session id, or "" if none.
func (m *Manager) CurrentSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Manager) startSessionLocked(now time.Time) string {
	m.sessionID = uuid.New().String()
	m.sessionStart = now
	m.lastActivity = now
	m.backgroundedAt = time.Time{}

	if m.onSessionStart != nil {
		m.onSessionStart(m.sessionID)
	}
	return m.sessionID
}

func (m *Manager) endSessionLocked() {
	if m.sessionID == "" {
		return
	}

	durationMs := m.lastActivity.Sub(m.sessionStart).Milliseconds()
	if m.onSessionEnd != nil {
		m.onSessionEnd(m.sessionID, durationMs)
	}

	m.sessionID = ""
	m.sessionStart = time.Time{}
	m.lastActivity = time.Time{}
}

func (m *Manager) setClockForTesting(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}
