// Package identity maintains the API-key-scoped user state that upload
// envelopes carry: user identities with their first-seen marker, user
// attributes, deleted attributes and lifetime value.
//
// Everything is persisted through a KVStore as JSON strings.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// KVStore is the persistent preferences capability. storage.Prefs
// implements it.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// IdentityType is the numeric identity kind.
type IdentityType int

const (
	TypeOther      IdentityType = 0
	TypeCustomerID IdentityType = 1
	TypeFacebook   IdentityType = 2
	TypeTwitter    IdentityType = 3
	TypeGoogle     IdentityType = 4
	TypeMicrosoft  IdentityType = 5
	TypeYahoo      IdentityType = 6
	TypeEmail      IdentityType = 7
)

// Identity is one stored user identity.
type Identity struct {
	Type        IdentityType `json:"n"`
	ID          string       `json:"i"`
	FirstSeenMs int64        `json:"dfs"`
	FirstSeen   bool         `json:"f"`
}

// Store is safe for concurrent use. Writers outside this Store (the batch
// assembler) must not run concurrently with it for the same API key.
type Store struct {
	mu     sync.Mutex
	prefs  KVStore
	apiKey string
	clock  func() time.Time
}

// NewStore creates a store for the user state of apiKey.
func NewStore(prefs KVStore, apiKey string) *Store {
	return &Store{prefs: prefs, apiKey: apiKey, clock: time.Now}
}

// SetIdentity records id for the identity type. A new or changed identity
// is marked first-seen so the next envelope reports it once. An empty id
// removes the identity.
func (s *Store) SetIdentity(ctx context.Context, typ IdentityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identities, err := s.loadIdentities(ctx)
	if err != nil {
		return err
	}

	out := identities[:0:0]
	for _, ident := range identities {
		if ident.Type != typ {
			out = append(out, ident)
			continue
		}
		if ident.ID == id {
			return nil
		}
	}
	if id != "" {
		out = append(out, Identity{
			Type:        typ,
			ID:          id,
			FirstSeenMs: s.clock().UnixMilli(),
			FirstSeen:   true,
		})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal identities: %w", err)
	}
	if err := s.prefs.Put(ctx, UserIdentitiesKey(s.apiKey), string(raw)); err != nil {
		return fmt.Errorf("save identities: %w", err)
	}
	return nil
}

// Identities returns the stored identities.
func (s *Store) Identities(ctx context.Context) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadIdentities(ctx)
}

// SetAttribute stores a user attribute and clears any pending deletion of
// the same key.
func (s *Store) SetAttribute(ctx context.Context, key string, value any) error {
	if key == "" {
		return ErrEmptyAttributeKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := s.loadMap(ctx, UserAttributesKey(s.apiKey))
	if err != nil {
		return err
	}
	attrs[key] = value
	if err := s.saveMap(ctx, UserAttributesKey(s.apiKey), attrs); err != nil {
		return err
	}

	deleted, err := s.loadMap(ctx, DeletedUserAttributesKey(s.apiKey))
	if err != nil {
		return err
	}
	if _, ok := deleted[key]; ok {
		delete(deleted, key)
		return s.saveMap(ctx, DeletedUserAttributesKey(s.apiKey), deleted)
	}
	return nil
}

// RemoveAttribute deletes a user attribute and records the deletion for the
// next history upload.
func (s *Store) RemoveAttribute(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyAttributeKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := s.loadMap(ctx, UserAttributesKey(s.apiKey))
	if err != nil {
		return err
	}
	if _, ok := attrs[key]; !ok {
		return nil
	}
	delete(attrs, key)
	if err := s.saveMap(ctx, UserAttributesKey(s.apiKey), attrs); err != nil {
		return err
	}

	deleted, err := s.loadMap(ctx, DeletedUserAttributesKey(s.apiKey))
	if err != nil {
		return err
	}
	deleted[key] = nil
	return s.saveMap(ctx, DeletedUserAttributesKey(s.apiKey), deleted)
}

// Attributes returns a copy of the user attributes.
func (s *Store) Attributes(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := s.loadMap(ctx, UserAttributesKey(s.apiKey))
	if err != nil {
		return nil, err
	}
	return maps.Clone(attrs), nil
}

// LTV returns the stored lifetime value, zero if none.
func (s *Store) LTV(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLTV(ctx)
}

// AddLTV increases the lifetime value by amount and returns the new total.
func (s *Store) AddLTV(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLTV(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := current.Add(amount)
	if err := s.prefs.Put(ctx, KeyLTV, total.String()); err != nil {
		return decimal.Zero, fmt.Errorf("save ltv: %w", err)
	}
	return total, nil
}

func (s *Store) loadLTV(ctx context.Context) (decimal.Decimal, error) {
	raw, ok, err := s.prefs.Get(ctx, KeyLTV)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load ltv: %w", err)
	}
	if !ok || raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: ltv %q", ErrInvalidStoredData, raw)
	}
	return d, nil
}

func (s *Store) loadIdentities(ctx context.Context) ([]Identity, error) {
	raw, ok, err := s.prefs.Get(ctx, UserIdentitiesKey(s.apiKey))
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var identities []Identity
	if err := json.Unmarshal([]byte(raw), &identities); err != nil {
		return nil, fmt.Errorf("%w: identities: %w", ErrInvalidStoredData, err)
	}
	return identities, nil
}

func (s *Store) loadMap(ctx context.Context, key string) (map[string]any, error) {
	raw, ok, err := s.prefs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	out := make(map[string]any)
	if !ok || raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidStoredData, key, err)
	}
	if out == nil {
		out = make(map[string]any)
	}
	return out, nil
}

func (s *Store) saveMap(ctx context.Context, key string, m map[string]any) error {
	if len(m) == 0 {
		if err := s.prefs.Remove(ctx, key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.prefs.Put(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *Store) setClockForTesting(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}
