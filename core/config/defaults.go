package config

import (
	"time"

	"github.com/sourceshift/veiltun/core/negotiate"
	"github.com/sourceshift/veiltun/core/socks"
	"github.com/sourceshift/veiltun/core/transport"
	"github.com/sourceshift/veiltun/core/watchdog"
)

const (
	DefaultSocksListen = "127.0.0.1:1080"
	DefaultRelayListen = "0.0.0.0:8443"
	DefaultRelayPort   = 8443
	DefaultMode        = "tls"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
)

// ApplyDefaults fills every unset field.
func (fc *FileConfig) ApplyDefaults() {
	if fc.Server.RelayPort == 0 {
		fc.Server.RelayPort = DefaultRelayPort
	}
	if len(fc.Candidates) == 0 {
		for _, c := range negotiate.DefaultCandidates() {
			fc.Candidates = append(fc.Candidates, Candidate{
				Protocol: c.Protocol.String(),
				Port:     c.Port,
				Timeout:  c.Timeout,
				Retries:  c.Retries,
			})
		}
	}
	for i := range fc.Candidates {
		if fc.Candidates[i].Timeout == 0 {
			fc.Candidates[i].Timeout = negotiate.DefaultProbeTimeout
		}
	}
	if fc.Probe.Burst == 0 {
		fc.Probe.Burst = 1
	}
	if fc.Probe.Backoff == 0 {
		fc.Probe.Backoff = 100 * time.Millisecond
	}

	if fc.Obfuscation.Mode == "" {
		fc.Obfuscation.Mode = DefaultMode
	}

	if fc.Socks.Listen == "" {
		fc.Socks.Listen = DefaultSocksListen
	}
	if fc.Socks.HandshakeTimeout == 0 {
		fc.Socks.HandshakeTimeout = socks.DefaultHandshakeTimeout
	}
	if fc.Socks.IdleTimeout == 0 {
		fc.Socks.IdleTimeout = socks.DefaultIdleTimeout
	}

	if fc.Tunnel.Transport == "" {
		fc.Tunnel.Transport = transport.KindTCP
	}
	if fc.Tunnel.DialTimeout == 0 {
		fc.Tunnel.DialTimeout = transport.DefaultDialTimeout
	}

	if fc.Watchdog.Interval == 0 {
		fc.Watchdog.Interval = watchdog.DefaultInterval
	}
	if fc.Watchdog.StopTimeout == 0 {
		fc.Watchdog.StopTimeout = watchdog.DefaultStopTimeout
	}
	if fc.Watchdog.LockdownTimeout == 0 {
		fc.Watchdog.LockdownTimeout = watchdog.DefaultLockdownTimeout
	}

	if fc.Relay.Listen == "" {
		fc.Relay.Listen = DefaultRelayListen
	}
	if fc.Relay.Transport == "" {
		fc.Relay.Transport = transport.KindTCP
	}
	if fc.Relay.IdleTimeout == 0 {
		fc.Relay.IdleTimeout = socks.DefaultIdleTimeout
	}

	if fc.Logging.Level == "" {
		fc.Logging.Level = DefaultLogLevel
	}
	if fc.Logging.Format == "" {
		fc.Logging.Format = DefaultLogFormat
	}
}
