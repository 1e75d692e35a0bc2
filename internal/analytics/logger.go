// Package analytics turns push and notification events into queued
// analytics messages and keeps the push attribution state.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SebastienMelki/causality-push/internal/appstate"
	"github.com/SebastienMelki/causality-push/internal/messaging"
)

// MessageTypePush marks queued push messages.
const MessageTypePush = "pr"

// KeyLastPush holds the last received push, for open attribution.
const KeyLastPush = "last_push"

// Sink receives serialized analytics messages. batch.Batcher implements it.
type Sink interface {
	Add(ctx context.Context, messageJSON, messageKey, sessionID string) error
}

// Sessions reports the current session. appstate.Manager implements it.
type Sessions interface {
	CurrentSessionID() string
}

// Registrar persists the push registration id. device.Manager implements it.
type Registrar interface {
	SetPushRegistrationID(ctx context.Context, id string) error
}

// KVStore is the persistent preferences capability.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// PushMessage is the queued analytics record of a notification event.
type PushMessage struct {
	Type       string            `json:"dt"`
	ID         string            `json:"id"`
	Timestamp  int64             `json:"ct"`
	SessionID  string            `json:"sid,omitempty"`
	ContentID  int               `json:"cntid"`
	CampaignID string            `json:"cid,omitempty"`
	Kind       string            `json:"t"`
	Flags      messaging.Flags   `json:"f"`
	FlagNames  string            `json:"fn"`
	AppState   string            `json:"as"`
	ActionID   string            `json:"aid,omitempty"`
	Payload    map[string]string `json:"pay,omitempty"`
}

// Logger implements the dispatcher's analytics capability.
type Logger struct {
	sink      Sink
	sessions  Sessions
	registrar Registrar
	prefs     KVStore
	logger    *slog.Logger

	clock func() time.Time
	newID func() string
}

// NewLogger creates a Logger.
func NewLogger(sink Sink, sessions Sessions, registrar Registrar, prefs KVStore, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		sink:      sink,
		sessions:  sessions,
		registrar: registrar,
		prefs:     prefs,
		logger:    logger.With("component", "analytics"),
		clock:     time.Now,
		newID:     uuid.NewString,
	}
}

// LogNotification queues one push message for msg.
func (l *Logger) LogNotification(ctx context.Context, msg messaging.CloudMessage, action *messaging.CloudAction, state appstate.State, flags messaging.Flags) error {
	if msg == nil {
		return ErrNilMessage
	}

	pm := PushMessage{
		Type:      MessageTypePush,
		ID:        l.newID(),
		Timestamp: l.clock().UnixMilli(),
		SessionID: l.sessions.CurrentSessionID(),
		ContentID: msg.MessageID(),
		Kind:      kindOf(msg),
		Flags:     flags,
		FlagNames: flags.String(),
		AppState:  state.String(),
		Payload:   msg.Payload(),
	}
	if n, ok := msg.(*messaging.NotificationMessage); ok {
		pm.CampaignID = n.CampaignID
	}
	if action != nil {
		pm.ActionID = action.ActionID
	}

	raw, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}
	if err := l.sink.Add(ctx, string(raw), pm.ID, pm.SessionID); err != nil {
		return fmt.Errorf("queue push message: %w", err)
	}

	l.logger.Debug("notification logged",
		"id", pm.ContentID,
		"flags", pm.FlagNames,
		"app_state", pm.AppState,
	)
	return nil
}

// Register records a new push registration id.
func (l *Logger) Register(ctx context.Context, registrationID string) error {
	if registrationID == "" {
		return ErrEmptyRegistrationID
	}
	if err := l.registrar.SetPushRegistrationID(ctx, registrationID); err != nil {
		return fmt.Errorf("store registration: %w", err)
	}
	l.logger.Info("push registration updated")
	return nil
}

// SaveMessage stores msg as the last received push.
func (l *Logger) SaveMessage(ctx context.Context, msg messaging.CloudMessage) error {
	if msg == nil {
		return ErrNilMessage
	}
	raw, err := messaging.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}
	if err := l.prefs.Put(ctx, KeyLastPush, string(raw)); err != nil {
		return fmt.Errorf("save push: %w", err)
	}
	return nil
}

// LastMessage returns the last saved push, or nil if none was saved.
func (l *Logger) LastMessage(ctx context.Context) (messaging.CloudMessage, error) {
	raw, ok, err := l.prefs.Get(ctx, KeyLastPush)
	if err != nil {
		return nil, fmt.Errorf("load push: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return messaging.Unmarshal([]byte(raw))
}

func kindOf(msg messaging.CloudMessage) string {
	switch msg.(type) {
	case *messaging.NotificationMessage:
		return "notification"
	case *messaging.SilentMessage:
		return "silent"
	default:
		return "provider"
	}
}
