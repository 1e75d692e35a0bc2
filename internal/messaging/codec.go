package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire kinds for the tagged CloudMessage document.
const (
	KindProvider       = "provider"
	KindMpNotification = "mp_notification"
	KindMpSilent       = "mp_silent"
)

type wireMessage struct {
	Kind         string            `json:"kind"`
	ID           int               `json:"id"`
	CampaignID   int               `json:"campaign_id,omitempty"`
	Title        string            `json:"title,omitempty"`
	Body         string            `json:"body,omitempty"`
	DeliveryTime int64             `json:"delivery_time,omitempty"`
	Expiration   int64             `json:"expiration,omitempty"`
	Delayed      bool              `json:"delayed,omitempty"`
	Displayable  bool              `json:"displayable,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// Marshal encodes a CloudMessage as a tagged JSON document.
func Marshal(msg CloudMessage) ([]byte, error) {
	var w wireMessage
	switch m := msg.(type) {
	case *ProviderMessage:
		w = wireMessage{Kind: KindProvider, ID: m.ID, Title: m.Title, Body: m.Body, Data: m.Data}
	case *NotificationMessage:
		w = wireMessage{
			Kind:        KindMpNotification,
			ID:          m.ID,
			CampaignID:  m.CampaignID,
			Title:       m.Title,
			Body:        m.Body,
			Delayed:     m.Delayed,
			Displayable: m.Displayable,
			Data:        m.Data,
		}
		if !m.DeliveryTime.IsZero() {
			w.DeliveryTime = m.DeliveryTime.UnixMilli()
		}
		if !m.Expiration.IsZero() {
			w.Expiration = m.Expiration.UnixMilli()
		}
	case *SilentMessage:
		w = wireMessage{Kind: KindMpSilent, ID: m.ID, Data: m.Data}
	case nil:
		return nil, fmt.Errorf("marshal cloud message: %w", ErrUnknownKind)
	default:
		return nil, fmt.Errorf("marshal cloud message %T: %w", msg, ErrUnknownKind)
	}
	return json.Marshal(w)
}

// Unmarshal decodes a document produced by Marshal.
func Unmarshal(data []byte) (CloudMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal cloud message: %w", err)
	}

	switch w.Kind {
	case KindProvider:
		return &ProviderMessage{ID: w.ID, Title: w.Title, Body: w.Body, Data: w.Data}, nil
	case KindMpNotification:
		m := &NotificationMessage{
			ID:          w.ID,
			CampaignID:  w.CampaignID,
			Title:       w.Title,
			Body:        w.Body,
			Delayed:     w.Delayed,
			Displayable: w.Displayable,
			Data:        w.Data,
		}
		if w.DeliveryTime != 0 {
			m.DeliveryTime = time.UnixMilli(w.DeliveryTime)
		}
		if w.Expiration != 0 {
			m.Expiration = time.UnixMilli(w.Expiration)
		}
		return m, nil
	case KindMpSilent:
		return &SilentMessage{ID: w.ID, Data: w.Data}, nil
	default:
		return nil, fmt.Errorf("unmarshal cloud message kind %q: %w", w.Kind, ErrUnknownKind)
	}
}

type wireExtras struct {
	Payload map[string]string `json:"payload,omitempty"`
	Message json.RawMessage   `json:"cloud_message,omitempty"`
	Action  *CloudAction      `json:"cloud_action,omitempty"`
}

// MarshalJSON encodes extras with the cloud_message and cloud_action keys.
func (e Extras) MarshalJSON() ([]byte, error) {
	w := wireExtras{Payload: e.Payload, Action: e.Action}
	if e.Message != nil {
		raw, err := Marshal(e.Message)
		if err != nil {
			return nil, err
		}
		w.Message = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes extras produced by MarshalJSON.
func (e *Extras) UnmarshalJSON(data []byte) error {
	var w wireExtras
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal extras: %w", err)
	}
	e.Payload = w.Payload
	e.Action = w.Action
	e.Message = nil
	if len(w.Message) > 0 && string(w.Message) != "null" {
		msg, err := Unmarshal(w.Message)
		if err != nil {
			return err
		}
		e.Message = msg
	}
	return nil
}
