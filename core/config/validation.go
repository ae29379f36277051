package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/sourceshift/veiltun/core/negotiate"
	"github.com/sourceshift/veiltun/core/obfs"
	"github.com/sourceshift/veiltun/core/transport"
)

// Validate returns the first problem found. It expects ApplyDefaults to have
// run.
func (fc *FileConfig) Validate() error {
	if fc.Server.RelayPort < 1 || fc.Server.RelayPort > 65535 {
		return fmt.Errorf("server.relay_port %d is out of range", fc.Server.RelayPort)
	}

	if fc.Protocol != "" && !strings.EqualFold(fc.Protocol, "auto") {
		if _, err := negotiate.ParseProtocol(fc.Protocol); err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
	}
	for i, c := range fc.Candidates {
		if _, err := negotiate.ParseProtocol(c.Protocol); err != nil {
			return fmt.Errorf("candidate %d: %w", i, err)
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("candidate %d (%s) has an invalid port: %d", i, c.Protocol, c.Port)
		}
		if c.Timeout < 0 {
			return fmt.Errorf("candidate %d (%s) has a negative timeout", i, c.Protocol)
		}
		if c.Retries < 0 || c.Retries > negotiate.MaxProbeAttempts {
			return fmt.Errorf("candidate %d (%s) retries must be between 0 and %d", i, c.Protocol, negotiate.MaxProbeAttempts)
		}
	}
	if fc.Protocol != "" && !strings.EqualFold(fc.Protocol, "auto") {
		if len(fc.filteredCandidates()) == 0 {
			return fmt.Errorf("protocol %q matches no candidate", fc.Protocol)
		}
	}

	if fc.Probe.RateLimit < 0 {
		return fmt.Errorf("probe.rate_limit must not be negative")
	}

	if _, err := obfs.ParseMode(fc.Obfuscation.Mode); err != nil {
		return fmt.Errorf("obfuscation.mode: %w", err)
	}
	if fc.Obfuscation.Passphrase != "" && len(fc.Obfuscation.Salt) < 8 {
		return fmt.Errorf("obfuscation.salt must be at least 8 bytes when a passphrase is set")
	}

	if _, _, err := net.SplitHostPort(fc.Socks.Listen); err != nil {
		return fmt.Errorf("socks.listen: %w", err)
	}
	if (fc.Socks.Username == "") != (fc.Socks.Password == "") {
		return fmt.Errorf("socks.username and socks.password must be set together")
	}
	if len(fc.Socks.Username) > 255 || len(fc.Socks.Password) > 255 {
		return fmt.Errorf("socks credentials are limited to 255 bytes")
	}

	if err := validateTransport("tunnel.transport", fc.Tunnel.Transport); err != nil {
		return err
	}
	if fc.Tunnel.Retries < 0 {
		return fmt.Errorf("tunnel.retries must not be negative")
	}
	if fc.Tunnel.TLS != nil {
		if err := fc.Tunnel.TLS.Validate(); err != nil {
			return err
		}
	}

	if fc.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog.interval must be positive")
	}

	if _, _, err := net.SplitHostPort(fc.Relay.Listen); err != nil {
		return fmt.Errorf("relay.listen: %w", err)
	}
	if err := validateTransport("relay.transport", fc.Relay.Transport); err != nil {
		return err
	}
	if (fc.Relay.CertFile == "") != (fc.Relay.KeyFile == "") {
		return fmt.Errorf("relay.cert_file and relay.key_file must be set together")
	}

	switch fc.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", fc.Logging.Format)
	}
	return nil
}

// Validate checks the TLS section on its own.
func (t *TLS) Validate() error {
	if t.ClientHelloID == "" {
		return fmt.Errorf("tunnel.tls.client_hello_id must be specified")
	}
	if _, ok := transport.HelloIDMap[t.ClientHelloID]; !ok {
		return fmt.Errorf("invalid tunnel.tls.client_hello_id '%s'. Supported IDs are: %s", t.ClientHelloID, transport.SupportedNames(transport.HelloIDMap))
	}
	if t.MinVersion != "" {
		if _, ok := transport.TLSVersionMap[t.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS MinVersion '%s'. Supported versions are: %s", t.MinVersion, transport.SupportedNames(transport.TLSVersionMap))
		}
	}
	if t.MaxVersion != "" {
		if _, ok := transport.TLSVersionMap[t.MaxVersion]; !ok {
			return fmt.Errorf("invalid TLS MaxVersion '%s'. Supported versions are: %s", t.MaxVersion, transport.SupportedNames(transport.TLSVersionMap))
		}
	}
	return nil
}

func validateTransport(field, kind string) error {
	switch strings.ToLower(kind) {
	case transport.KindTCP, transport.KindQUIC:
		return nil
	}
	return fmt.Errorf("%s has an invalid value: %s", field, kind)
}
