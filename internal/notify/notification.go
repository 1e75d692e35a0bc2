// Package notify builds platform notifications from cloud messages and
// renders them off the dispatch worker.
package notify

import (
	"context"
	"fmt"
	"maps"

	"github.com/SebastienMelki/causality-push/internal/appstate"
	"github.com/SebastienMelki/causality-push/internal/messaging"
)

// Notification is what the host notification service posts.
type Notification struct {
	ID      int
	Title   string
	Body    string
	Sound   bool
	Vibrate bool
	Data    map[string]string
}

// Manager is the host notification service.
type Manager interface {
	Cancel(id int)
	Notify(id int, n *Notification) error
}

// EventLogger records notification analytics events.
type EventLogger interface {
	LogNotification(ctx context.Context, msg messaging.CloudMessage, action *messaging.CloudAction, state appstate.State, flags messaging.Flags) error
}

// StateSource reports the host application's lifecycle state.
type StateSource interface {
	State() appstate.State
}

// Settings supplies the notification presentation flags and the network
// tracking suspension used while rendering. config.Manager implements it.
type Settings interface {
	PushSoundEnabled() bool
	PushVibrationEnabled() bool
	SuspendNetworkTracking() (restore func())
}

// Build creates the notification for msg. Silent and non-displayable
// messages return ErrNotDisplayable.
func Build(msg messaging.CloudMessage, settings Settings) (*Notification, error) {
	var n *Notification

	switch m := msg.(type) {
	case *messaging.NotificationMessage:
		if !m.Displayable {
			return nil, fmt.Errorf("notification %d: %w", m.ID, ErrNotDisplayable)
		}
		n = &Notification{ID: m.ID, Title: m.Title, Body: m.Body, Data: maps.Clone(m.Data)}
	case *messaging.ProviderMessage:
		if m.Body == "" {
			return nil, fmt.Errorf("provider message %d: %w", m.ID, ErrNoText)
		}
		n = &Notification{ID: m.ID, Title: m.Title, Body: m.Body, Data: maps.Clone(m.Data)}
	case *messaging.SilentMessage:
		return nil, fmt.Errorf("silent message %d: %w", m.ID, ErrNotDisplayable)
	default:
		return nil, fmt.Errorf("message %T: %w", msg, messaging.ErrUnknownKind)
	}

	if settings != nil {
		n.Sound = settings.PushSoundEnabled()
		n.Vibrate = settings.PushVibrationEnabled()
	}
	return n, nil
}

// ReceivedFlags returns the analytics flags reported when msg is rendered.
func ReceivedFlags(msg messaging.CloudMessage) messaging.Flags {
	switch m := msg.(type) {
	case *messaging.NotificationMessage:
		if m.Displayable {
			return messaging.FlagReceived | messaging.FlagDisplayed
		}
		return messaging.FlagReceived
	case *messaging.ProviderMessage:
		return messaging.FlagReceived | messaging.FlagDisplayed
	default:
		return messaging.FlagReceived
	}
}
