package messaging

import "strings"

// Flags is the bit set reported with a notification analytics event.
type Flags int

const (
	FlagReceived Flags = 1 << iota
	FlagDirectOpen
	FlagRead
	FlagInfluenceOpen
	FlagDisplayed
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagReceived, "RECEIVED"},
	{FlagDirectOpen, "DIRECT_OPEN"},
	{FlagRead, "READ"},
	{FlagInfluenceOpen, "INFLUENCE_OPEN"},
	{FlagDisplayed, "DISPLAYED"},
}

// Has reports whether every bit of other is set.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}
