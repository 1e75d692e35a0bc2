package nats

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/SebastienMelki/causality-push/internal/messaging"
)

type fakeMsg struct {
	data                []byte
	acked, naked, termd int
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "push.actions" }
func (m *fakeMsg) Ack() error      { m.acked++; return nil }
func (m *fakeMsg) Nak() error      { m.naked++; return nil }
func (m *fakeMsg) Term() error     { m.termd++; return nil }

type dispatched struct {
	code   string
	extras messaging.Extras
}

type mockDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (d *mockDispatcher) Dispatch(_ context.Context, code string, extras messaging.Extras) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatched{code, extras})
	return nil
}

func TestProcess_DispatchesAndAcks(t *testing.T) {
	d := &mockDispatcher{}
	s := newSubscriber(nil, d, 0, nil, nil)

	msg := &fakeMsg{data: []byte(`{"action":"cloud.receive","extras":{"payload":{"m_msg":"hello","m_cntid":"42"}}}`)}
	s.process(context.Background(), msg)

	if msg.acked != 1 || msg.naked != 0 || msg.termd != 0 {
		t.Errorf("ack=%d nak=%d term=%d, want ack only", msg.acked, msg.naked, msg.termd)
	}
	if len(d.calls) != 1 {
		t.Fatalf("dispatched %d actions, want 1", len(d.calls))
	}
	if d.calls[0].code != messaging.ActionReceive {
		t.Errorf("action = %q", d.calls[0].code)
	}
	if d.calls[0].extras.Payload["m_cntid"] != "42" {
		t.Errorf("payload = %v", d.calls[0].extras.Payload)
	}
}

func TestProcess_MalformedIsTerminated(t *testing.T) {
	for _, body := range []string{`not json`, `{"extras":{}}`} {
		d := &mockDispatcher{}
		s := newSubscriber(nil, d, 0, nil, nil)
		msg := &fakeMsg{data: []byte(body)}

		s.process(context.Background(), msg)

		if msg.termd != 1 || msg.acked != 0 {
			t.Errorf("%q: term=%d ack=%d, want term", body, msg.termd, msg.acked)
		}
		if len(d.calls) != 0 {
			t.Errorf("%q: malformed message was dispatched", body)
		}
	}
}

func TestProcess_RejectedIsNaked(t *testing.T) {
	d := &mockDispatcher{err: errors.New("dispatcher stopped")}
	s := newSubscriber(nil, d, 0, nil, nil)
	msg := &fakeMsg{data: []byte(`{"action":"notification.tapped"}`)}

	s.process(context.Background(), msg)

	if msg.naked != 1 || msg.acked != 0 {
		t.Errorf("nak=%d ack=%d, want nak", msg.naked, msg.acked)
	}
}

func TestParseAction(t *testing.T) {
	_, err := parseAction([]byte(`{"action":""}`))
	if !errors.Is(err, ErrMalformedAction) {
		t.Errorf("err = %v, want ErrMalformedAction", err)
	}

	am, err := parseAction([]byte(`{"action":"cloud.registration","extras":{"payload":{"registration_id":"R"}}}`))
	if err != nil {
		t.Fatalf("parseAction: %v", err)
	}
	if am.Action != messaging.ActionRegistration || am.Extras.Payload["registration_id"] != "R" {
		t.Errorf("parsed = %+v", am)
	}
}

func TestSubscriber_StopWithoutStart(t *testing.T) {
	s := newSubscriber(nil, &mockDispatcher{}, 0, nil, nil)
	s.Stop()
}
