package config

import (
	"errors"
	"testing"
)

func TestFromJSON_Valid(t *testing.T) {
	cfg, err := FromJSON([]byte(`{
		"api_key": "K",
		"environment": "development",
		"upload_interval_ms": 60000,
		"session_timeout_ms": 30000,
		"push_keys": ["alert"],
		"push_sound_enabled": true,
		"provider_persistence": {"x": 1}
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIKey != "K" {
		t.Errorf("APIKey = %q, want %q", cfg.APIKey, "K")
	}
	if cfg.Environment != EnvironmentDevelopment {
		t.Errorf("Environment = %q, want %q", cfg.Environment, EnvironmentDevelopment)
	}
	if cfg.UploadIntervalMs != 60000 {
		t.Errorf("UploadIntervalMs = %d, want 60000", cfg.UploadIntervalMs)
	}
	if len(cfg.PushKeys) != 1 || cfg.PushKeys[0] != "alert" {
		t.Errorf("PushKeys = %v, want [alert]", cfg.PushKeys)
	}
	if !cfg.PushSoundEnabled {
		t.Error("PushSoundEnabled = false, want true")
	}
}

func TestFromJSON_Defaults(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"api_key": "K"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Environment != EnvironmentProduction {
		t.Errorf("Environment = %q, want production", cfg.Environment)
	}
	if cfg.UploadIntervalMs != DefaultUploadIntervalMs {
		t.Errorf("UploadIntervalMs = %d, want %d", cfg.UploadIntervalMs, DefaultUploadIntervalMs)
	}
	if cfg.SessionTimeoutMs != DefaultSessionTimeoutMs {
		t.Errorf("SessionTimeoutMs = %d, want %d", cfg.SessionTimeoutMs, DefaultSessionTimeoutMs)
	}
	if len(cfg.PushKeys) != len(DefaultPushKeys) {
		t.Errorf("PushKeys = %v, want %v", cfg.PushKeys, DefaultPushKeys)
	}
	if cfg.NetworkTrackingEnabled == nil || !*cfg.NetworkTrackingEnabled {
		t.Error("NetworkTrackingEnabled should default to true")
	}
}

func TestFromJSON_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"malformed", `{`, ErrInvalidJSON},
		{"missing api key", `{}`, ErrInvalidConfig},
		{"bad environment", `{"api_key":"K","environment":"staging"}`, ErrInvalidConfig},
		{"negative interval", `{"api_key":"K","upload_interval_ms":-1}`, ErrInvalidConfig},
		{"interval too small", `{"api_key":"K","upload_interval_ms":10}`, ErrInvalidConfig},
		{"empty push key", `{"api_key":"K","push_keys":[""]}`, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromJSON([]byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &Config{APIKey: "K", NetworkPerformanceEnabled: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return NewManager(cfg)
}

func TestManager_SuspendNetworkTracking(t *testing.T) {
	m := newTestManager(t)

	restoreA := m.SuspendNetworkTracking()
	restoreB := m.SuspendNetworkTracking()
	if m.NetworkTrackingEnabled() || m.NetworkPerformanceEnabled() {
		t.Fatal("expected tracking suspended")
	}

	restoreA()
	restoreA()
	if m.NetworkTrackingEnabled() {
		t.Error("tracking restored while another suspension is open")
	}

	restoreB()
	if !m.NetworkTrackingEnabled() || !m.NetworkPerformanceEnabled() {
		t.Error("expected tracking restored")
	}
}

func TestManager_SuspendKeepsDisabledPerformanceOff(t *testing.T) {
	m := newTestManager(t)
	m.SetNetworkPerformanceEnabled(false)

	restore := m.SuspendNetworkTracking()
	restore()

	if m.NetworkPerformanceEnabled() {
		t.Error("performance measurement should stay disabled")
	}
	if !m.NetworkTrackingEnabled() {
		t.Error("tracking should be restored")
	}
}

func TestManager_CopiesAreIsolated(t *testing.T) {
	m := newTestManager(t)
	m.SetCookies(map[string]any{"uid": "1"})

	c := m.Cookies()
	c["uid"] = "2"
	if m.Cookies()["uid"] != "1" {
		t.Error("Cookies returned an aliased map")
	}

	keys := m.PushKeys()
	keys[0] = "mutated"
	if m.PushKeys()[0] == "mutated" {
		t.Error("PushKeys returned an aliased slice")
	}
}
