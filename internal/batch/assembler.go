// Package batch assembles upload envelopes from queued analytics messages
// and runs the periodic upload loop.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SebastienMelki/causality-push/internal/device"
	"github.com/SebastienMelki/causality-push/internal/identity"
)

// Push fields merged into device_info.
const (
	PushTokenKey            = "push_token"
	PushTokenTypeKey        = "push_token_type"
	PushSoundEnabledKey     = "push_sound_enabled"
	PushVibrationEnabledKey = "push_vibration_enabled"

	PushTokenTypeGCM = "gcm"
)

// KVStore is the persistent preferences capability. storage.Prefs
// implements it.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Updater is implemented by stores that apply several changes atomically.
// storage.Prefs implements it.
type Updater interface {
	Update(ctx context.Context, puts map[string]string, removes []string) error
}

// Settings is the configuration read by the assembler. config.Manager
// implements it.
type Settings interface {
	APIKey() string
	SDKVersion() string
	OptedOut() bool
	UploadIntervalMs() int
	SessionTimeoutMs() int
	IsDevelopment() bool
	PushSoundEnabled() bool
	PushVibrationEnabled() bool
	Cookies() map[string]any
	ProviderPersistence() map[string]any
}

// Input is the per-call data for Assemble.
type Input struct {
	Messages   []json.RawMessage
	History    bool
	AppInfo    map[string]any
	DeviceInfo map[string]any
	// Cookies overrides the configured cookies when non-nil.
	Cookies map[string]any
}

// Assembler builds envelopes. It reads and updates the API-key-scoped user
// state in prefs; callers must not assemble concurrently for one API key.
type Assembler struct {
	settings Settings
	prefs    KVStore
	clock    func() time.Time
	newID    func() string
}

// NewAssembler creates an assembler.
func NewAssembler(settings Settings, prefs KVStore) *Assembler {
	return &Assembler{
		settings: settings,
		prefs:    prefs,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// Assemble builds one envelope. Prefs are only modified once every field
// has been built; a *FieldError aborts without side effects.
//
// History envelopes consume the pending deleted user attributes. Identities
// marked first-seen are reported as stored and persisted with the marker
// cleared, so each is reported once.
func (a *Assembler) Assemble(ctx context.Context, in Input) (*Envelope, error) {
	apiKey := a.settings.APIKey()

	env := &Envelope{
		Type:                TypeRequestHeader,
		ID:                  a.newID(),
		Timestamp:           a.clock().UnixMilli(),
		SDKVersion:          a.settings.SDKVersion(),
		OptedOut:            a.settings.OptedOut(),
		UploadIntervalSec:   int64(a.settings.UploadIntervalMs() / 1000),
		SessionTimeoutSec:   int64(a.settings.SessionTimeoutMs() / 1000),
		AppInfo:             nonNil(maps.Clone(in.AppInfo)),
		Sandbox:             a.settings.IsDevelopment(),
		Cookies:             nonNil(a.settings.Cookies()),
		ProviderPersistence: nonNil(a.settings.ProviderPersistence()),
	}
	if in.Cookies != nil {
		env.Cookies = maps.Clone(in.Cookies)
	}

	di, err := a.deviceInfo(ctx, in.DeviceInfo)
	if err != nil {
		return nil, &FieldError{Field: "di", Err: err}
	}
	env.DeviceInfo = di

	ltv, err := a.ltv(ctx)
	if err != nil {
		return nil, &FieldError{Field: "ltv", Err: err}
	}
	env.LTV = LTV{ltv}

	if env.UserAttributes, _, err = a.readMap(ctx, identity.UserAttributesKey(apiKey)); err != nil {
		return nil, &FieldError{Field: "ua", Err: err}
	}

	var consumeDeleted bool
	if in.History {
		deleted, found, err := a.readMap(ctx, identity.DeletedUserAttributesKey(apiKey))
		if err != nil {
			return nil, &FieldError{Field: "uad", Err: err}
		}
		if found {
			env.DeletedUserAttributes = nonNil(deleted)
			consumeDeleted = true
		}
	}

	identities, original, normalized, err := a.identities(ctx, apiKey)
	if err != nil {
		return nil, &FieldError{Field: "ui", Err: err}
	}
	env.UserIdentities = identities

	msgs, err := encodeMessages(in.Messages)
	if err != nil {
		field := "msgs"
		if in.History {
			field = "hist"
		}
		return nil, &FieldError{Field: field, Err: err}
	}
	if in.History {
		env.History = msgs
	} else {
		env.Messages = msgs
	}

	var puts map[string]string
	var removes []string
	if normalized != "" {
		puts = map[string]string{identity.UserIdentitiesKey(apiKey): normalized}
	}
	if consumeDeleted {
		removes = []string{identity.DeletedUserAttributesKey(apiKey)}
	}
	if err := a.commit(ctx, puts, removes, original); err != nil {
		return nil, err
	}

	return env, nil
}

// commit applies the envelope's prefs changes all-or-nothing. Stores
// without Update get the identity write undone when the later removal
// fails; original is the identity JSON as read.
func (a *Assembler) commit(ctx context.Context, puts map[string]string, removes []string, original string) error {
	if len(puts) == 0 && len(removes) == 0 {
		return nil
	}
	if u, ok := a.prefs.(Updater); ok {
		if err := u.Update(ctx, puts, removes); err != nil {
			return &FieldError{Field: "ui", Err: fmt.Errorf("commit user state: %w", err)}
		}
		return nil
	}

	for key, value := range puts {
		if err := a.prefs.Put(ctx, key, value); err != nil {
			return &FieldError{Field: "ui", Err: fmt.Errorf("persist identities: %w", err)}
		}
	}
	for _, key := range removes {
		if err := a.prefs.Remove(ctx, key); err != nil {
			err = fmt.Errorf("clear deleted attributes: %w", err)
			for k := range puts {
				if rbErr := a.prefs.Put(ctx, k, original); rbErr != nil {
					err = errors.Join(err, fmt.Errorf("restore identities: %w", rbErr))
				}
			}
			return &FieldError{Field: "uad", Err: err}
		}
	}
	return nil
}

func (a *Assembler) deviceInfo(ctx context.Context, base map[string]any) (map[string]any, error) {
	di := nonNil(maps.Clone(base))

	regID, _, err := a.prefs.Get(ctx, device.KeyPushRegistrationID)
	if err != nil {
		return nil, fmt.Errorf("load push registration: %w", err)
	}
	if regID != "" {
		di[PushTokenKey] = regID
		di[PushTokenTypeKey] = PushTokenTypeGCM
	} else {
		delete(di, PushTokenKey)
		delete(di, PushTokenTypeKey)
	}

	di[PushSoundEnabledKey] = a.settings.PushSoundEnabled()
	di[PushVibrationEnabledKey] = a.settings.PushVibrationEnabled()
	return di, nil
}

func (a *Assembler) ltv(ctx context.Context) (decimal.Decimal, error) {
	raw, ok, err := a.prefs.Get(ctx, identity.KeyLTV)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok || raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidPrefs, err)
	}
	return d, nil
}

// readMap returns nil, false when the key is absent.
func (a *Assembler) readMap(ctx context.Context, key string) (map[string]any, bool, error) {
	raw, ok, err := a.prefs.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok || raw == "" {
		return nil, false, nil
	}
	var m map[string]any
	if err := decodeJSON(raw, &m); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// identities returns the stored list, its raw JSON and, if any entry was
// first-seen, the JSON of the list with those markers cleared.
func (a *Assembler) identities(ctx context.Context, apiKey string) ([]map[string]any, string, string, error) {
	raw, ok, err := a.prefs.Get(ctx, identity.UserIdentitiesKey(apiKey))
	if err != nil {
		return nil, "", "", err
	}
	if !ok || raw == "" {
		return nil, "", "", nil
	}

	var stored []map[string]any
	if err := decodeJSON(raw, &stored); err != nil {
		return nil, "", "", err
	}

	normalized := make([]map[string]any, len(stored))
	changed := false
	for i, ident := range stored {
		normalized[i] = maps.Clone(ident)
		v, present := ident[identity.FieldFirstSeen]
		if !present || v == nil {
			continue
		}
		seen, isBool := v.(bool)
		if !isBool {
			return nil, "", "", fmt.Errorf("%w: entry %d has %T", ErrInvalidFirstSeen, i, v)
		}
		if seen {
			normalized[i][identity.FieldFirstSeen] = false
			changed = true
		}
	}

	if !changed {
		return stored, raw, "", nil
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, "", "", fmt.Errorf("marshal identities: %w", err)
	}
	return stored, raw, string(out), nil
}

func encodeMessages(msgs []json.RawMessage) (json.RawMessage, error) {
	if len(msgs) == 0 {
		return json.RawMessage("[]"), nil
	}
	for i, m := range msgs {
		if !json.Valid(m) {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidMessage, i)
		}
	}
	return json.Marshal(msgs)
}

// decodeJSON keeps numbers as json.Number so stored values round-trip.
func decodeJSON(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrefs, err)
	}
	return nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
