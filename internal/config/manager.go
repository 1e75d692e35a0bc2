package config

import (
	"maps"
	"slices"
	"sync"
)

// Manager is the concurrency-safe runtime view of a Config.
type Manager struct {
	mu  sync.RWMutex
	cfg Config

	networkTracking    bool
	networkPerformance bool
	// suspended counts open network-tracking suspensions.
	suspended int
}

// NewManager wraps a validated Config.
func NewManager(cfg *Config) *Manager {
	c := *cfg
	c.PushKeys = slices.Clone(cfg.PushKeys)
	c.ProviderPersistence = maps.Clone(cfg.ProviderPersistence)
	c.Cookies = maps.Clone(cfg.Cookies)

	tracking := true
	if cfg.NetworkTrackingEnabled != nil {
		tracking = *cfg.NetworkTrackingEnabled
	}
	return &Manager{
		cfg:                c,
		networkTracking:    tracking,
		networkPerformance: cfg.NetworkPerformanceEnabled,
	}
}

func (m *Manager) APIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.APIKey
}

func (m *Manager) Environment() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Environment
}

// IsDevelopment reports whether uploads should be marked sandbox.
func (m *Manager) IsDevelopment() bool {
	return m.Environment() == EnvironmentDevelopment
}

func (m *Manager) SDKVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.SDKVersion
}

func (m *Manager) UploadIntervalMs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.UploadIntervalMs
}

func (m *Manager) SessionTimeoutMs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.SessionTimeoutMs
}

func (m *Manager) BatchSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.BatchSize
}

func (m *Manager) MaxQueueSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.MaxQueueSize
}

func (m *Manager) OptedOut() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.OptedOut
}

func (m *Manager) SetOptedOut(optedOut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.OptedOut = optedOut
}

// PushKeys returns a copy of the configured push keys.
func (m *Manager) PushKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.cfg.PushKeys)
}

func (m *Manager) PushSoundEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.PushSoundEnabled
}

func (m *Manager) PushVibrationEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.PushVibrationEnabled
}

// ProviderPersistence returns a copy of the provider persistence document.
func (m *Manager) ProviderPersistence() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.cfg.ProviderPersistence)
}

func (m *Manager) SetProviderPersistence(pp map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.ProviderPersistence = maps.Clone(pp)
}

// Cookies returns a copy of the current cookies.
func (m *Manager) Cookies() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.cfg.Cookies)
}

func (m *Manager) SetCookies(cookies map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Cookies = maps.Clone(cookies)
}

// NetworkTrackingEnabled reports the effective flag: configured on and not
// suspended by an in-flight render.
func (m *Manager) NetworkTrackingEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.networkTracking && m.suspended == 0
}

func (m *Manager) SetNetworkTrackingEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networkTracking = enabled
}

// NetworkPerformanceEnabled reports the effective measurement flag.
func (m *Manager) NetworkPerformanceEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.networkPerformance && m.suspended == 0
}

func (m *Manager) SetNetworkPerformanceEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networkPerformance = enabled
}

// SuspendNetworkTracking turns network tracking and performance measurement
// off until the returned restore func is called. Suspensions nest; restore
// is idempotent. Configured values are never overwritten, so each flag comes
// back only if it was enabled.
func (m *Manager) SuspendNetworkTracking() (restore func()) {
	m.mu.Lock()
	m.suspended++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.suspended--
		})
	}
}
