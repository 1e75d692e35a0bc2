package messaging

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultDelayTolerance is the window within which a future delivery time is
// still treated as immediate.
const DefaultDelayTolerance = time.Second

// providerBodyKeys are checked in order for the text of a provider push.
var providerBodyKeys = []string{"body", "message", "alert"}

// Decoder turns raw push payloads into CloudMessage values.
type Decoder struct {
	pushKeys  []string
	tolerance time.Duration
	clockFunc func() time.Time
	logger    *slog.Logger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDelayTolerance overrides DefaultDelayTolerance.
func WithDelayTolerance(d time.Duration) DecoderOption {
	return func(dec *Decoder) { dec.tolerance = d }
}

// WithClock injects the wall clock used for delay and expiry checks.
func WithClock(now func() time.Time) DecoderOption {
	return func(dec *Decoder) { dec.clockFunc = now }
}

// WithLogger sets the logger used to report rejected payloads.
func WithLogger(logger *slog.Logger) DecoderOption {
	return func(dec *Decoder) { dec.logger = logger }
}

// NewDecoder creates a decoder recognizing the given push keys.
func NewDecoder(pushKeys []string, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		pushKeys:  append([]string(nil), pushKeys...),
		tolerance: DefaultDelayTolerance,
		clockFunc: time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "push-decoder")
	return d
}

// Decode returns nil when the payload cannot be parsed. The failure is
// logged and never propagated.
func (d *Decoder) Decode(extras map[string]string) CloudMessage {
	msg, err := d.Parse(extras)
	if err != nil {
		d.logger.Warn("dropping push payload", "error", err)
		return nil
	}
	return msg
}

// Parse is Decode with the error exposed.
func (d *Decoder) Parse(extras map[string]string) (CloudMessage, error) {
	if len(extras) == 0 {
		return nil, ErrEmptyPayload
	}

	data := cloneMap(extras)

	if isSilent(data) {
		id, err := messageID(data)
		if err != nil {
			return nil, err
		}
		return &SilentMessage{ID: id, Data: data}, nil
	}

	body, found := d.pushText(data)
	if !found {
		return decodeProvider(data), nil
	}
	return d.decodeNotification(data, body)
}

func (d *Decoder) decodeNotification(data map[string]string, body string) (*NotificationMessage, error) {
	now := d.clockFunc()

	id, err := messageID(data)
	if err != nil {
		return nil, err
	}

	msg := &NotificationMessage{
		ID:           id,
		Title:        data[KeyTitle],
		Body:         body,
		DeliveryTime: now,
		Displayable:  strings.TrimSpace(body) != "",
		Data:         data,
	}

	if raw, ok := data[KeyCampaignID]; ok && raw != "" {
		cid, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrMalformedPayload, KeyCampaignID, raw)
		}
		msg.CampaignID = cid
	}

	if raw, ok := data[KeyDeliveryTime]; ok && raw != "" {
		ts, err := parseMillis(KeyDeliveryTime, raw)
		if err != nil {
			return nil, err
		}
		msg.DeliveryTime = ts
	}

	if raw, ok := data[KeyExpiration]; ok && raw != "" {
		ts, err := parseMillis(KeyExpiration, raw)
		if err != nil {
			return nil, err
		}
		if !ts.After(now) {
			return nil, fmt.Errorf("%w: id %d expired at %s", ErrExpired, id, ts.UTC().Format(time.RFC3339))
		}
		msg.Expiration = ts
	}

	msg.Delayed = msg.DeliveryTime.After(now.Add(d.tolerance))
	return msg, nil
}

func decodeProvider(data map[string]string) *ProviderMessage {
	msg := &ProviderMessage{
		ID:    providerID(data),
		Title: data["title"],
		Data:  data,
	}
	for _, k := range providerBodyKeys {
		if v := data[k]; v != "" {
			msg.Body = v
			break
		}
	}
	return msg
}

// pushText reports whether any push key is present and returns the first
// non-empty value among them.
func (d *Decoder) pushText(data map[string]string) (string, bool) {
	var found bool
	for _, k := range d.pushKeys {
		v, ok := data[k]
		if !ok {
			continue
		}
		found = true
		if v != "" {
			return v, true
		}
	}
	return "", found
}

func isSilent(data map[string]string) bool {
	raw, ok := data[KeySilent]
	if !ok {
		return false
	}
	silent, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && silent
}

// messageID prefers the explicit content id and falls back to a stable hash.
func messageID(data map[string]string) (int, error) {
	raw, ok := data[KeyContentID]
	if !ok || raw == "" {
		return hashPayload(data), nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedPayload, KeyContentID, raw)
	}
	return id, nil
}

func providerID(data map[string]string) int {
	if raw := data[KeyProviderID]; raw != "" {
		return hashString(raw)
	}
	return hashPayload(data)
}

func parseMillis(key, raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s=%q", ErrMalformedPayload, key, raw)
	}
	return time.UnixMilli(ms), nil
}

func hashPayload(data map[string]string) int {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(data[k])
		b.WriteByte(';')
	}
	return hashString(b.String())
}

func hashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// DedupKey returns a key identifying a raw push payload across redeliveries
// by the provider, or "" when the payload carries no provider-assigned id.
// Payloads with equal content but no id are distinct pushes.
func DedupKey(data map[string]string) string {
	if raw := data[KeyProviderID]; raw != "" {
		return "pid:" + raw
	}
	if raw := data[KeyContentID]; raw != "" {
		return "cid:" + raw + ":" + data[KeyDeliveryTime]
	}
	return ""
}
