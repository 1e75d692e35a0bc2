// Package device supplies the app_info and device_info documents carried by
// upload envelopes, the persisted device id and the push registration id.
//
// Platform fields are supplied by the host through SetPlatform and SetApp.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Persistent preference keys.
const (
	KeyDeviceID           = "device_id"
	KeyPushRegistrationID = "push_registration_id"
)

// KVStore is the persistent preferences capability. storage.Prefs
// implements it.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Platform describes the device, as reported by the host.
type Platform struct {
	OS           string
	OSVersion    string
	Model        string
	Manufacturer string
	Locale       string
	Timezone     string
	Carrier      string
	NetworkType  string
}

// App describes the host application.
type App struct {
	PackageName string
	Name        string
	Version     string
	BuildNumber string
}

// Manager is safe for concurrent use.
type Manager struct {
	prefs KVStore

	mu       sync.RWMutex
	deviceID string
	platform Platform
	app      App
}

// NewManager creates a manager backed by prefs.
func NewManager(prefs KVStore) *Manager {
	return &Manager{prefs: prefs}
}

// SetPlatform replaces the platform description.
func (m *Manager) SetPlatform(p Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platform = p
}

// SetApp replaces the application description.
func (m *Manager) SetApp(a App) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.app = a
}

// DeviceID returns the persisted device id, generating it on first use.
func (m *Manager) DeviceID(ctx context.Context) (string, error) {
	m.mu.RLock()
	if m.deviceID != "" {
		id := m.deviceID
		m.mu.RUnlock()
		return id, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deviceID != "" {
		return m.deviceID, nil
	}

	id, ok, err := m.prefs.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("load device id: %w", err)
	}
	if !ok || id == "" {
		id = uuid.NewString()
		if err := m.prefs.Put(ctx, KeyDeviceID, id); err != nil {
			return "", fmt.Errorf("save device id: %w", err)
		}
	}
	m.deviceID = id
	return id, nil
}

// SetPushRegistrationID stores the push registration id. An empty id
// clears it.
func (m *Manager) SetPushRegistrationID(ctx context.Context, id string) error {
	if id == "" {
		if err := m.prefs.Remove(ctx, KeyPushRegistrationID); err != nil {
			return fmt.Errorf("clear push registration: %w", err)
		}
		return nil
	}
	if err := m.prefs.Put(ctx, KeyPushRegistrationID, id); err != nil {
		return fmt.Errorf("save push registration: %w", err)
	}
	return nil
}

// PushRegistrationID returns the stored registration id, or "".
func (m *Manager) PushRegistrationID(ctx context.Context) (string, error) {
	id, _, err := m.prefs.Get(ctx, KeyPushRegistrationID)
	if err != nil {
		return "", fmt.Errorf("load push registration: %w", err)
	}
	return id, nil
}

// AppInfo returns a fresh app_info document.
func (m *Manager) AppInfo() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := map[string]any{}
	putString(info, "package_name", m.app.PackageName)
	putString(info, "app_name", m.app.Name)
	putString(info, "app_version", m.app.Version)
	putString(info, "build_number", m.app.BuildNumber)
	return info
}

// DeviceInfo returns a fresh device_info document including the device id.
func (m *Manager) DeviceInfo(ctx context.Context) (map[string]any, error) {
	id, err := m.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	info := map[string]any{"device_id": id}
	putString(info, "platform", m.platform.OS)
	putString(info, "os_version", m.platform.OSVersion)
	putString(info, "device_model", m.platform.Model)
	putString(info, "device_manufacturer", m.platform.Manufacturer)
	putString(info, "locale", m.platform.Locale)
	putString(info, "timezone", m.platform.Timezone)
	putString(info, "carrier", m.platform.Carrier)
	putString(info, "network_type", m.platform.NetworkType)
	return info, nil
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
