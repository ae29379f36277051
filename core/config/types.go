package config

import "time"

// FileConfig is the YAML document shared by the client and the relay server.
type FileConfig struct {
	Server      Server      `yaml:"server"`
	Protocol    string      `yaml:"protocol,omitempty"`
	Candidates  []Candidate `yaml:"candidates,omitempty"`
	Probe       Probe       `yaml:"probe"`
	Obfuscation Obfuscation `yaml:"obfuscation"`
	Socks       Socks       `yaml:"socks"`
	Tunnel      Tunnel      `yaml:"tunnel"`
	Watchdog    Watchdog    `yaml:"watchdog"`
	Relay       Relay       `yaml:"relay"`
	Logging     Logging     `yaml:"logging"`
}

// Server is the remote endpoint: probes go to Host on each candidate port,
// tunnel connections to Host:RelayPort.
type Server struct {
	Host      string `yaml:"host"`
	RelayPort int    `yaml:"relay_port"`
}

// Candidate is one entry of the negotiation priority list.
type Candidate struct {
	Protocol string        `yaml:"protocol"`
	Port     int           `yaml:"port"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Retries  int           `yaml:"retries,omitempty"`
}

// Probe paces and backs off transport probes.
type Probe struct {
	// RateLimit is datagrams per second; zero is unlimited.
	RateLimit float64       `yaml:"rate_limit,omitempty"`
	Burst     int           `yaml:"burst,omitempty"`
	Backoff   time.Duration `yaml:"backoff,omitempty"`
}

// Obfuscation selects the framing mode. A passphrase also seals payloads with
// a key derived from it and Salt.
type Obfuscation struct {
	Mode       string `yaml:"mode"`
	Passphrase string `yaml:"passphrase,omitempty"`
	Salt       string `yaml:"salt,omitempty"`
}

// Socks configures the local SOCKS5 listener.
type Socks struct {
	Listen           string        `yaml:"listen"`
	Username         string        `yaml:"username,omitempty"`
	Password         string        `yaml:"password,omitempty"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout,omitempty"`
	IdleTimeout      time.Duration `yaml:"idle_timeout,omitempty"`
}

// Tunnel configures the client transport to the relay.
type Tunnel struct {
	Transport   string        `yaml:"transport"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
	Retries     int           `yaml:"retries,omitempty"`
	RateLimit   float64       `yaml:"rate_limit,omitempty"`
	TLS         *TLS          `yaml:"tls,omitempty"`
}

// TLS configures the uTLS client layer.
type TLS struct {
	ServerName    string   `yaml:"server_name,omitempty"`
	ClientHelloID string   `yaml:"client_hello_id"`
	MinVersion    string   `yaml:"min_version,omitempty"`
	MaxVersion    string   `yaml:"max_version,omitempty"`
	ALPN          []string `yaml:"alpn,omitempty"`
	// CAFile adds a PEM bundle to the system roots. Verification cannot be
	// turned off.
	CAFile string `yaml:"ca_file,omitempty"`
}

// Watchdog configures link monitoring and the lockdown.
type Watchdog struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	// Interface is polled when set; otherwise the active candidate is probed.
	Interface       string        `yaml:"interface,omitempty"`
	Interval        time.Duration `yaml:"interval,omitempty"`
	StopTimeout     time.Duration `yaml:"stop_timeout,omitempty"`
	LockdownTimeout time.Duration `yaml:"lockdown_timeout,omitempty"`
}

// Relay configures cmd/veiltun-server.
type Relay struct {
	Listen      string        `yaml:"listen"`
	Transport   string        `yaml:"transport"`
	CertFile    string        `yaml:"cert_file,omitempty"`
	KeyFile     string        `yaml:"key_file,omitempty"`
	ALPN        []string      `yaml:"alpn,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
	// Responders answers probes on every candidate port.
	Responders *bool `yaml:"responders,omitempty"`
}

// Logging selects the log level and encoder.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WatchdogEnabled defaults to true.
func (w Watchdog) WatchdogEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// RespondersEnabled defaults to true.
func (r Relay) RespondersEnabled() bool {
	return r.Responders == nil || *r.Responders
}
