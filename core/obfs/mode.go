package obfs

import (
	"fmt"
	"strings"
)

// Mode selects how payloads are disguised on the wire.
type Mode int

const (
	ModeNone Mode = iota
	ModeXor
	ModeTLSMimic
	ModeDNSMimic
)

var modeNames = map[Mode]string{
	ModeNone:     "none",
	ModeXor:      "xor",
	ModeTLSMimic: "tls",
	ModeDNSMimic: "dns",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the configuration spelling of a mode ("none", "xor",
// "tls", "dns"), case-insensitively.
func ParseMode(s string) (Mode, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == want {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// UnmarshalText lets Mode be decoded straight from YAML.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}
