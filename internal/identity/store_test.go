package identity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type memPrefs struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemPrefs() *memPrefs { return &memPrefs{m: make(map[string]string)} }

func (p *memPrefs) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memPrefs) Put(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = value
	return nil
}

func (p *memPrefs) Remove(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func TestSetIdentity_MarksNewIdentitiesFirstSeen(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemPrefs(), "K")
	s.setClockForTesting(func() time.Time { return time.UnixMilli(1000) })

	if err := s.SetIdentity(ctx, TypeEmail, "a@example.com"); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}

	ids, err := s.Identities(ctx)
	if err != nil {
		t.Fatalf("Identities: %v", err)
	}
	if len(ids) != 1 || !ids[0].FirstSeen || ids[0].FirstSeenMs != 1000 {
		t.Fatalf("unexpected identities %+v", ids)
	}
}

func TestSetIdentity_SameValueIsNoop(t *testing.T) {
	ctx := context.Background()
	prefs := newMemPrefs()
	s := NewStore(prefs, "K")

	_ = s.SetIdentity(ctx, TypeCustomerID, "u1")
	// Simulate an upload having cleared the marker.
	prefs.m[UserIdentitiesKey("K")] = `[{"n":1,"i":"u1","dfs":5,"f":false}]`

	if err := s.SetIdentity(ctx, TypeCustomerID, "u1"); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	ids, _ := s.Identities(ctx)
	if len(ids) != 1 || ids[0].FirstSeen {
		t.Errorf("expected unchanged identity, got %+v", ids)
	}
}

func TestSetIdentity_ReplaceAndRemove(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemPrefs(), "K")

	_ = s.SetIdentity(ctx, TypeCustomerID, "u1")
	_ = s.SetIdentity(ctx, TypeEmail, "a@example.com")
	_ = s.SetIdentity(ctx, TypeCustomerID, "u2")

	ids, _ := s.Identities(ctx)
	if len(ids) != 2 {
		t.Fatalf("expected 2 identities, got %+v", ids)
	}
	for _, id := range ids {
		if id.Type == TypeCustomerID && id.ID != "u2" {
			t.Errorf("expected customer id replaced, got %q", id.ID)
		}
	}

	_ = s.SetIdentity(ctx, TypeEmail, "")
	ids, _ = s.Identities(ctx)
	if len(ids) != 1 || ids[0].Type != TypeCustomerID {
		t.Errorf("expected email removed, got %+v", ids)
	}
}

func TestAttributes_RemoveRecordsDeletion(t *testing.T) {
	ctx := context.Background()
	prefs := newMemPrefs()
	s := NewStore(prefs, "K")

	if err := s.SetAttribute(ctx, "foo", "bar"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if err := s.RemoveAttribute(ctx, "foo"); err != nil {
		t.Fatalf("RemoveAttribute: %v", err)
	}

	var deleted map[string]any
	if err := json.Unmarshal([]byte(prefs.m[DeletedUserAttributesKey("K")]), &deleted); err != nil {
		t.Fatalf("decode deleted attrs: %v", err)
	}
	if v, ok := deleted["foo"]; !ok || v != nil {
		t.Errorf("expected foo recorded as deleted, got %v", deleted)
	}
	if _, ok := prefs.m[UserAttributesKey("K")]; ok {
		t.Error("expected empty attribute map removed from prefs")
	}

	if err := s.SetAttribute(ctx, "foo", 1); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if _, ok := prefs.m[DeletedUserAttributesKey("K")]; ok {
		t.Error("re-setting an attribute should clear its deletion")
	}
}

func TestAttributes_EmptyKey(t *testing.T) {
	s := NewStore(newMemPrefs(), "K")
	if err := s.SetAttribute(context.Background(), "", 1); !errors.Is(err, ErrEmptyAttributeKey) {
		t.Errorf("expected ErrEmptyAttributeKey, got %v", err)
	}
}

func TestLTV(t *testing.T) {
	ctx := context.Background()
	prefs := newMemPrefs()
	s := NewStore(prefs, "K")

	v, err := s.LTV(ctx)
	if err != nil || !v.IsZero() {
		t.Fatalf("expected zero ltv, got %v (%v)", v, err)
	}

	total, err := s.AddLTV(ctx, decimal.RequireFromString("1.10"))
	if err != nil {
		t.Fatalf("AddLTV: %v", err)
	}
	total, _ = s.AddLTV(ctx, decimal.RequireFromString("2.04"))
	if !total.Equal(decimal.RequireFromString("3.14")) {
		t.Errorf("expected 3.14, got %s", total)
	}
	if prefs.m[KeyLTV] != "3.14" {
		t.Errorf("expected stored 3.14, got %q", prefs.m[KeyLTV])
	}

	prefs.m[KeyLTV] = "lots"
	if _, err := s.LTV(ctx); !errors.Is(err, ErrInvalidStoredData) {
		t.Errorf("expected ErrInvalidStoredData, got %v", err)
	}
}
