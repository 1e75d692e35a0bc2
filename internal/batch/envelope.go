package batch

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// TypeRequestHeader is the envelope type marker.
const TypeRequestHeader = "request-header"

// Envelope is one upload document. Exactly one of Messages and History is
// set; an empty batch still serializes as "[]".
type Envelope struct {
	Type                  string           `json:"type"`
	ID                    string           `json:"id"`
	Timestamp             int64            `json:"ct"`
	SDKVersion            string           `json:"sdk"`
	OptedOut              bool             `json:"oo"`
	UploadIntervalSec     int64            `json:"uitl"`
	SessionTimeoutSec     int64            `json:"stl"`
	AppInfo               map[string]any   `json:"ai"`
	DeviceInfo            map[string]any   `json:"di"`
	Sandbox               bool             `json:"sb"`
	LTV                   LTV              `json:"ltv"`
	UserAttributes        map[string]any   `json:"ua,omitempty"`
	DeletedUserAttributes map[string]any   `json:"uad,omitempty"`
	UserIdentities        []map[string]any `json:"ui,omitempty"`
	Messages              json.RawMessage  `json:"msgs,omitempty"`
	History               json.RawMessage  `json:"hist,omitempty"`
	Cookies               map[string]any   `json:"ck"`
	ProviderPersistence   map[string]any   `json:"cms"`
}

// IsHistory reports whether the envelope carries history messages.
func (e *Envelope) IsHistory() bool {
	return len(e.History) > 0
}

// LTV is a decimal serialized as a bare JSON number.
type LTV struct {
	decimal.Decimal
}

func (l LTV) MarshalJSON() ([]byte, error) {
	return []byte(l.Decimal.String()), nil
}

func (l *LTV) UnmarshalJSON(data []byte) error {
	return l.Decimal.UnmarshalJSON(data)
}
