package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/SebastienMelki/causality-push/internal/broadcast"
	"github.com/SebastienMelki/causality-push/internal/messaging"
)

// Registration payload keys.
const (
	KeyRegistrationID    = "registration_id"
	KeyRegistrationError = "error"
)

func (d *Dispatcher) route(ctx context.Context, code string, extras messaging.Extras) error {
	switch {
	case code == messaging.ActionRegistration:
		return d.handleRegistration(ctx, extras)
	case code == messaging.ActionReceive:
		return d.handleReceive(ctx, extras)
	case strings.HasPrefix(code, messaging.ActionTapInternal):
		return d.handleInternalTap(ctx, extras)
	case code == messaging.ActionTapped:
		return d.handleExternalTap(ctx, extras)
	case code == messaging.ActionReceived:
		return d.handleReceived(ctx, extras)
	case code == messaging.ActionDelayedReceive:
		return d.handleDelayedReceive(ctx, extras)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, code)
	}
}

func (d *Dispatcher) handleRegistration(ctx context.Context, extras messaging.Extras) error {
	if extras.Payload == nil {
		return ErrMissingPayload
	}
	if reason := extras.Payload[KeyRegistrationError]; reason != "" {
		return fmt.Errorf("%w: %s", ErrRegistrationFailed, reason)
	}
	regID := extras.Payload[KeyRegistrationID]
	if regID == "" {
		return ErrMissingRegistrationID
	}

	if err := d.deps.Analytics.Register(ctx, regID); err != nil {
		return fmt.Errorf("register push token: %w", err)
	}

	if d.deps.Bridge != nil {
		if err := d.deps.Bridge.ForwardRegistration(ctx, extras.Payload); err != nil {
			d.logger.Warn("provider bridge rejected registration", "error", err)
		}
	}

	d.logger.Info("push registration stored")
	return nil
}

func (d *Dispatcher) handleReceive(ctx context.Context, extras messaging.Extras) error {
	if len(extras.Payload) == 0 {
		return ErrMissingPayload
	}

	if d.deps.Deduper != nil && d.deps.Deduper.Seen(messaging.DedupKey(extras.Payload)) {
		d.logger.Debug("dropping duplicate push")
		return nil
	}

	msg := d.deps.Decoder.Decode(extras.Payload)
	if msg == nil {
		return nil
	}
	return d.generate(ctx, msg)
}

// generate routes a freshly decoded message to its variant's path.
func (d *Dispatcher) generate(ctx context.Context, msg messaging.CloudMessage) error {
	switch m := msg.(type) {
	case *messaging.SilentMessage:
		d.saveMessage(ctx, m)
		return d.logEvent(ctx, m, nil, messaging.FlagReceived)

	case *messaging.ProviderMessage:
		if d.deps.Bridge != nil && d.deps.Bridge.HandleMessage(ctx, m) {
			d.logger.Debug("provider message handled by bridge", "id", m.ID)
			return nil
		}
		d.saveMessage(ctx, m)
		return d.deps.Router.Notify(ctx, broadcast.ChannelReceived, m, nil)

	case *messaging.NotificationMessage:
		d.saveMessage(ctx, m)
		if m.Delayed {
			if err := d.logEvent(ctx, m, nil, messaging.FlagReceived); err != nil {
				d.logger.Warn("failed to log delayed notification", "id", m.ID, "error", err)
			}
			if err := d.deps.Scheduler.Schedule(ctx, m); err != nil {
				d.logger.Error("failed to schedule delayed notification", "id", m.ID, "error", err)
			}
			return nil
		}
		return d.deps.Router.Notify(ctx, broadcast.ChannelReceived, m, nil)

	default:
		return fmt.Errorf("generate %T: %w", msg, messaging.ErrUnknownKind)
	}
}

func (d *Dispatcher) handleReceived(ctx context.Context, extras messaging.Extras) error {
	if extras.Message == nil {
		return ErrMissingMessage
	}

	sc := scopeFrom(ctx)
	done := sc.deferRelease()
	d.deps.Renderer.Render(ctx, extras.Message, d.post, done)
	return nil
}

func (d *Dispatcher) handleDelayedReceive(ctx context.Context, extras messaging.Extras) error {
	if extras.Message == nil {
		return ErrMissingMessage
	}
	return d.deps.Router.Notify(ctx, broadcast.ChannelReceived, extras.Message, nil)
}

func (d *Dispatcher) handleInternalTap(ctx context.Context, extras messaging.Extras) error {
	msg := extras.Message
	if msg == nil {
		return ErrMissingMessage
	}

	d.deps.Notifications.Cancel(msg.MessageID())

	if err := d.logEvent(ctx, msg, extras.Action, messaging.FlagRead|messaging.FlagDirectOpen); err != nil {
		d.logger.Warn("failed to log notification tap", "id", msg.MessageID(), "error", err)
	}

	return d.deps.Router.Notify(ctx, broadcast.ChannelTapped, msg, extras.Action)
}

func (d *Dispatcher) handleExternalTap(ctx context.Context, extras messaging.Extras) error {
	if extras.Message == nil {
		return ErrMissingMessage
	}
	if d.deps.Launcher == nil {
		d.logger.Debug("no launcher configured, ignoring tap", "id", extras.Message.MessageID())
		return nil
	}
	if err := d.deps.Launcher.Launch(ctx, extras.Action, extras.Message); err != nil {
		d.logger.Debug("failed to launch tap target", "id", extras.Message.MessageID(), "error", err)
	}
	return nil
}

func (d *Dispatcher) logEvent(ctx context.Context, msg messaging.CloudMessage, action *messaging.CloudAction, flags messaging.Flags) error {
	return d.deps.Analytics.LogNotification(ctx, msg, action, d.deps.State.State(), flags)
}

func (d *Dispatcher) saveMessage(ctx context.Context, msg messaging.CloudMessage) {
	if err := d.deps.Analytics.SaveMessage(ctx, msg); err != nil {
		d.logger.Warn("failed to save push message", "id", msg.MessageID(), "error", err)
	}
}
