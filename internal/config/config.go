// Package config holds the push SDK configuration and the runtime Manager
// that the dispatcher, renderer and batch assembler read from.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Environments.
const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

// Config is the SDK configuration, usually supplied as a JSON document.
type Config struct {
	// APIKey scopes persisted user state (required).
	APIKey string `json:"api_key"`

	// Environment is "production" or "development" (default: production).
	Environment string `json:"environment,omitempty"`

	// SDKVersion is reported in every upload envelope.
	SDKVersion string `json:"sdk_version,omitempty"`

	// UploadIntervalMs is the batch upload period in milliseconds (default: 600000).
	UploadIntervalMs int `json:"upload_interval_ms,omitempty"`

	// SessionTimeoutMs is the session inactivity timeout in milliseconds (default: 60000).
	SessionTimeoutMs int `json:"session_timeout_ms,omitempty"`

	// BatchSize is the maximum number of messages per envelope (default: 100).
	BatchSize int `json:"batch_size,omitempty"`

	// MaxQueueSize bounds the local message queue (default: 1000).
	MaxQueueSize int `json:"max_queue_size,omitempty"`

	OptedOut bool `json:"opted_out,omitempty"`

	// PushKeys are the payload fields that mark a platform-formatted push.
	PushKeys []string `json:"push_keys,omitempty"`

	PushSoundEnabled          bool `json:"push_sound_enabled,omitempty"`
	PushVibrationEnabled      bool `json:"push_vibration_enabled,omitempty"`
	NetworkPerformanceEnabled bool `json:"network_performance_enabled,omitempty"`

	// NetworkTrackingEnabled defaults to true.
	NetworkTrackingEnabled *bool `json:"network_tracking_enabled,omitempty"`

	// ProviderPersistence is echoed verbatim into envelopes.
	ProviderPersistence map[string]any `json:"provider_persistence,omitempty"`

	// Cookies is echoed verbatim into envelopes.
	Cookies map[string]any `json:"cookies,omitempty"`
}

// Default configuration values.
const (
	DefaultUploadIntervalMs = 600000 // 10 minutes
	DefaultSessionTimeoutMs = 60000  // 1 minute
	DefaultBatchSize        = 100
	DefaultMaxQueueSize     = 1000
	DefaultSDKVersion       = "1.0.0"

	MinUploadIntervalMs = 1000
)

// DefaultPushKeys are used when push_keys is not configured.
var DefaultPushKeys = []string{"m_msg", "mp_message"}

// validate returns an empty string on success, the failure message otherwise.
func (c *Config) validate() string {
	if strings.TrimSpace(c.APIKey) == "" {
		return "api_key is required"
	}
	switch c.Environment {
	case "", EnvironmentProduction, EnvironmentDevelopment:
	default:
		return fmt.Sprintf("environment must be %q or %q", EnvironmentProduction, EnvironmentDevelopment)
	}
	if c.UploadIntervalMs < 0 {
		return "upload_interval_ms must be non-negative"
	}
	if c.UploadIntervalMs > 0 && c.UploadIntervalMs < MinUploadIntervalMs {
		return fmt.Sprintf("upload_interval_ms must be at least %d", MinUploadIntervalMs)
	}
	if c.SessionTimeoutMs < 0 {
		return "session_timeout_ms must be non-negative"
	}
	if c.BatchSize < 0 {
		return "batch_size must be non-negative"
	}
	if c.MaxQueueSize < 0 {
		return "max_queue_size must be non-negative"
	}
	for _, k := range c.PushKeys {
		if strings.TrimSpace(k) == "" {
			return "push_keys must not contain empty keys"
		}
	}
	return ""
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvironmentProduction
	}
	if c.SDKVersion == "" {
		c.SDKVersion = DefaultSDKVersion
	}
	if c.UploadIntervalMs == 0 {
		c.UploadIntervalMs = DefaultUploadIntervalMs
	}
	if c.SessionTimeoutMs == 0 {
		c.SessionTimeoutMs = DefaultSessionTimeoutMs
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if len(c.PushKeys) == 0 {
		c.PushKeys = append([]string(nil), DefaultPushKeys...)
	}
	if c.NetworkTrackingEnabled == nil {
		enabled := true
		c.NetworkTrackingEnabled = &enabled
	}
}

// FromJSON parses and validates a JSON configuration document.
func FromJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if msg := c.validate(); msg != "" {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
	}
	c.applyDefaults()
	return nil
}
