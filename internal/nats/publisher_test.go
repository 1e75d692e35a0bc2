package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/SebastienMelki/causality-push/internal/broadcast"
	"github.com/SebastienMelki/causality-push/internal/messaging"
)

type published struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	out []published
	err error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.out = append(f.out, published{subject, payload})
	return &jetstream.PubAck{Stream: "PUSH_ACTIONS", Sequence: uint64(len(f.out))}, nil
}

func testConfig() Config {
	return Config{SubjectPrefix: "push"}
}

func TestConfig_Subjects(t *testing.T) {
	cfg := testConfig()
	if got := cfg.ActionsSubject(); got != "push.actions" {
		t.Errorf("ActionsSubject = %q", got)
	}
	if got := cfg.BroadcastSubject(broadcast.ChannelTapped); got != "push.broadcast.notification.tapped" {
		t.Errorf("BroadcastSubject = %q", got)
	}
	if got := cfg.DeadLetterSubject("push.actions"); got != "push.dlq.actions" {
		t.Errorf("DeadLetterSubject = %q", got)
	}
	subjects := cfg.Subjects()
	if len(subjects) != 3 || subjects[1] != "push.broadcast.>" || subjects[2] != "push.dlq.>" {
		t.Errorf("Subjects = %v", subjects)
	}
}

func TestPublisher_SendMirrorsBroadcast(t *testing.T) {
	js := &fakeJetStream{}
	p := newPublisher(js, testConfig(), nil)

	ev := broadcast.Event{
		Channel: broadcast.ChannelReceived,
		Scope:   "com.example",
		Extras:  messaging.Extras{Message: &messaging.NotificationMessage{ID: 42, Body: "hi", Displayable: true}},
	}
	if err := p.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(js.out) != 1 || js.out[0].subject != "push.broadcast.notification.received" {
		t.Fatalf("published = %+v", js.out)
	}
	var decoded broadcast.Event
	if err := json.Unmarshal(js.out[0].data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Scope != "com.example" || decoded.Extras.Message == nil || decoded.Extras.Message.MessageID() != 42 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPublisher_PublishActionRoundTrip(t *testing.T) {
	js := &fakeJetStream{}
	p := newPublisher(js, testConfig(), nil)

	extras := messaging.Extras{Payload: map[string]string{"m_msg": "hello"}}
	if err := p.PublishAction(context.Background(), messaging.ActionReceive, extras); err != nil {
		t.Fatalf("PublishAction: %v", err)
	}

	am, err := parseAction(js.out[0].data)
	if err != nil {
		t.Fatalf("parseAction: %v", err)
	}
	if am.Action != messaging.ActionReceive || am.Extras.Payload["m_msg"] != "hello" {
		t.Errorf("round trip = %+v", am)
	}
}

func TestPublisher_Error(t *testing.T) {
	js := &fakeJetStream{err: errors.New("no responders")}
	p := newPublisher(js, testConfig(), nil)

	err := p.Send(context.Background(), broadcast.Event{Channel: broadcast.ChannelTapped})
	if !errors.Is(err, js.err) {
		t.Errorf("err = %v, want wrapped publish error", err)
	}
}
