// Package nats connects the push daemon to NATS JetStream: inbound actions
// are consumed from a durable stream and broadcasts are mirrored out.
package nats

import (
	"strings"
	"time"
)

// Config holds NATS connection and stream configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Name is the client connection name for monitoring
	Name string `env:"NATS_CLIENT_NAME" envDefault:"causality-pushd"`

	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"60"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	Timeout       time.Duration `env:"NATS_TIMEOUT"        envDefault:"5s"`

	// SubjectPrefix roots every subject: <prefix>.actions and
	// <prefix>.broadcast.<channel>.
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"push"`

	Stream   StreamConfig   `envPrefix:"NATS_STREAM_"`
	Consumer ConsumerConfig `envPrefix:"NATS_CONSUMER_"`
}

// StreamConfig holds the JetStream stream that captures actions and
// broadcasts.
type StreamConfig struct {
	Name string `env:"NAME" envDefault:"PUSH_ACTIONS"`

	MaxAge   time.Duration `env:"MAX_AGE"   envDefault:"24h"`
	MaxBytes int64         `env:"MAX_BYTES" envDefault:"268435456"` // 256MB
	Replicas int           `env:"REPLICAS"  envDefault:"1"`

	// Storage is "file" or "memory".
	Storage string `env:"STORAGE" envDefault:"file"`
}

// ConsumerConfig holds the durable consumer the subscriber reads actions
// from.
type ConsumerConfig struct {
	Name          string        `env:"NAME"            envDefault:"pushd"`
	AckWait       time.Duration `env:"ACK_WAIT"        envDefault:"30s"`
	MaxAckPending int           `env:"MAX_ACK_PENDING" envDefault:"256"`
	MaxDeliver    int           `env:"MAX_DELIVER"     envDefault:"5"`
	FetchSize     int           `env:"FETCH_SIZE"      envDefault:"32"`

	// DeadLetter forwards actions that exhausted MaxDeliver or were
	// terminated to the dead-letter subject.
	DeadLetter bool `env:"DEAD_LETTER" envDefault:"true"`
}

// ActionsSubject is the subject inbound actions are published on.
func (c Config) ActionsSubject() string {
	return c.SubjectPrefix + ".actions"
}

// BroadcastSubject is the subject a broadcast channel is mirrored on.
func (c Config) BroadcastSubject(channel string) string {
	return c.SubjectPrefix + ".broadcast." + channel
}

// DeadLetterSubject maps an original subject under the prefix to its
// dead-letter subject: push.actions becomes push.dlq.actions.
func (c Config) DeadLetterSubject(original string) string {
	return c.SubjectPrefix + ".dlq." + strings.TrimPrefix(original, c.SubjectPrefix+".")
}

// Subjects lists every subject the stream captures.
func (c Config) Subjects() []string {
	return []string{c.ActionsSubject(), c.SubjectPrefix + ".broadcast.>", c.SubjectPrefix + ".dlq.>"}
}
