package messaging

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMarshal_NotificationKeepsTimes(t *testing.T) {
	dt := time.UnixMilli(1_700_000_060_000)
	in := &NotificationMessage{
		ID:           42,
		Body:         "hi",
		DeliveryTime: dt,
		Delayed:      true,
		Displayable:  true,
		Data:         map[string]string{"m_msg": "hi"},
	}

	raw, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	out, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	n, ok := out.(*NotificationMessage)
	if !ok {
		t.Fatalf("expected *NotificationMessage, got %T", out)
	}
	if !n.DeliveryTime.Equal(dt) || !n.Delayed || n.ID != 42 {
		t.Errorf("unexpected decoded message %+v", n)
	}
}

func TestUnmarshal_UnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"kind":"carrier_pigeon","id":1}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestMarshal_Nil(t *testing.T) {
	if _, err := Marshal(nil); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestExtras_JSON(t *testing.T) {
	in := Extras{
		Message: &SilentMessage{ID: 3, Data: map[string]string{"m_silent": "true"}},
		Action:  &CloudAction{ActionID: "reply", Target: "app://reply"},
	}

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal extras: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode doc: %v", err)
	}
	if _, ok := doc[ExtraCloudMessage]; !ok {
		t.Errorf("expected %q key in %s", ExtraCloudMessage, raw)
	}
	if _, ok := doc[ExtraCloudAction]; !ok {
		t.Errorf("expected %q key in %s", ExtraCloudAction, raw)
	}

	var out Extras
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal extras: %v", err)
	}
	if _, ok := out.Message.(*SilentMessage); !ok {
		t.Errorf("expected *SilentMessage, got %T", out.Message)
	}
	if out.Action == nil || out.Action.ActionID != "reply" {
		t.Errorf("unexpected action %+v", out.Action)
	}
}

func TestFlags_String(t *testing.T) {
	tests := []struct {
		flags Flags
		want  string
	}{
		{FlagReceived | FlagDisplayed, "RECEIVED|DISPLAYED"},
		{FlagRead | FlagDirectOpen, "DIRECT_OPEN|READ"},
		{0, "NONE"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("Flags(%d).String() = %q, want %q", int(tt.flags), got, tt.want)
		}
	}
	if FlagDisplayed != 16 || FlagInfluenceOpen != 8 {
		t.Error("flag bit values changed")
	}
}
