package negotiate

import (
	"fmt"
	"strings"
	"time"
)

// Protocol identifies a transport the client knows how to bring up.
type Protocol int

const (
	WireGuard Protocol = iota + 1
	Shadowsocks
	OpenVPN
	Socks5
)

var protocolNames = map[Protocol]string{
	WireGuard:   "wireguard",
	Shadowsocks: "shadowsocks",
	OpenVPN:     "openvpn",
	Socks5:      "socks5",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// ParseProtocol maps a configuration name to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if name == want {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// UnmarshalText parses a protocol name, case-insensitively.
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText encodes the protocol as its lowercase name.
func (p Protocol) MarshalText() ([]byte, error) {
	if _, ok := protocolNames[p]; !ok {
		return nil, fmt.Errorf("unknown protocol %d", int(p))
	}
	return []byte(p.String()), nil
}

const (
	// MaxProbeAttempts caps how often a probe is retried after socket errors.
	MaxProbeAttempts = 3
	// DefaultProbeTimeout applies when a candidate leaves Timeout unset.
	DefaultProbeTimeout = 2 * time.Second
)

// Candidate is one transport considered during negotiation. It is a plain
// value; the switcher never mutates it.
type Candidate struct {
	Protocol Protocol
	Port     int
	Timeout  time.Duration
	// Retries lowers the attempt ceiling below MaxProbeAttempts. Zero means
	// the ceiling.
	Retries int
}

// String renders the candidate as "protocol/port".
func (c Candidate) String() string {
	return fmt.Sprintf("%s:%d", c.Protocol, c.Port)
}

func (c Candidate) attempts() int {
	if c.Retries > 0 && c.Retries < MaxProbeAttempts {
		return c.Retries
	}
	return MaxProbeAttempts
}

func (c Candidate) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultProbeTimeout
}

// DefaultCandidates is the built-in priority order.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{Protocol: WireGuard, Port: 51820, Timeout: 1500 * time.Millisecond, Retries: 3},
		{Protocol: Shadowsocks, Port: 8388, Timeout: 2 * time.Second, Retries: 3},
		{Protocol: OpenVPN, Port: 1194, Timeout: 2500 * time.Millisecond, Retries: 2},
		{Protocol: Socks5, Port: 1080, Timeout: 3 * time.Second, Retries: 3},
	}
}
