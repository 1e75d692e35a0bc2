// Package messaging defines the cloud push message model: the CloudMessage
// variants produced by the push decoder, the CloudAction describing a tap,
// the action codes accepted by the dispatcher and the notification flags
// reported to analytics.
package messaging

import (
	"time"
)

// Action codes consumed by the dispatcher.
const (
	ActionRegistration   = "cloud.registration"
	ActionReceive        = "cloud.receive"
	ActionTapInternal    = "notification.tap.internal"
	ActionTapped         = "notification.tapped"
	ActionReceived       = "notification.received"
	ActionDelayedReceive = "delayed.receive"
)

// Extras keys carried alongside an action.
const (
	ExtraCloudMessage = "cloud_message"
	ExtraCloudAction  = "cloud_action"
)

// Payload keys understood by the decoder.
const (
	KeyContentID    = "m_cntid"
	KeyCampaignID   = "m_cid"
	KeyDeliveryTime = "m_dt"
	KeyExpiration   = "m_expy"
	KeySilent       = "m_silent"
	KeyTitle        = "m_title"
	KeyProviderID   = "google.message_id"
)

// CloudMessage is one of *ProviderMessage, *NotificationMessage or
// *SilentMessage. Callers switch on the concrete type.
type CloudMessage interface {
	// MessageID is the notification id used for cancel and post.
	MessageID() int
	// Payload returns the raw push data.
	Payload() map[string]string

	cloudMessage()
}

// ProviderMessage is a push in a third-party provider format.
type ProviderMessage struct {
	ID    int
	Title string
	Body  string
	Data  map[string]string
}

// NotificationMessage is a push in the platform's own notification format.
type NotificationMessage struct {
	ID           int
	CampaignID   int
	Title        string
	Body         string
	DeliveryTime time.Time
	Expiration   time.Time
	Delayed      bool
	Displayable  bool
	Data         map[string]string
}

// SilentMessage is a background-only push. It is never displayed.
type SilentMessage struct {
	ID   int
	Data map[string]string
}

func (m *ProviderMessage) MessageID() int { return m.ID }
func (m *ProviderMessage) Payload() map[string]string { return m.Data }
func (*ProviderMessage) cloudMessage() {}
func (m *NotificationMessage) MessageID() int { return m.ID }
func (m *NotificationMessage) Payload() map[string]string { return m.Data }
func (*NotificationMessage) cloudMessage() {}
func (m *SilentMessage) MessageID() int { return m.ID }
func (m *SilentMessage) Payload() map[string]string { return m.Data }
func (*SilentMessage) cloudMessage() {}

// CloudAction describes the outcome of a user tap on a notification.
type CloudAction struct {
	// ActionID identifies the tapped button; empty for the notification body.
	ActionID string `json:"action_id,omitempty"`
	// Title is the button label, if any.
	Title string `json:"title,omitempty"`
	// Target is an opaque host handle (deep link, activity, intent URI).
	Target string `json:"target,omitempty"`
}

// Extras are the structured arguments of a dispatched action.
type Extras struct {
	// Payload is the raw push data for cloud.receive and cloud.registration.
	Payload map[string]string
	// Message is the decoded message for every other action.
	Message CloudMessage
	// Action is set for tap actions.
	Action *CloudAction
}
