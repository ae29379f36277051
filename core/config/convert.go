package config

import (
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/armon/go-socks5"
	"github.com/sourceshift/veiltun/core/negotiate"
	"github.com/sourceshift/veiltun/core/obfs"
	"github.com/sourceshift/veiltun/core/relay"
	"github.com/sourceshift/veiltun/core/transport"
)

func (fc *FileConfig) filteredCandidates() []Candidate {
	if fc.Protocol == "" || strings.EqualFold(fc.Protocol, "auto") {
		return fc.Candidates
	}
	var out []Candidate
	for _, c := range fc.Candidates {
		if strings.EqualFold(c.Protocol, fc.Protocol) {
			out = append(out, c)
		}
	}
	return out
}

// NegotiationCandidates returns the priority list, narrowed to Protocol when
// one is pinned.
func (fc *FileConfig) NegotiationCandidates() ([]negotiate.Candidate, error) {
	src := fc.filteredCandidates()
	out := make([]negotiate.Candidate, 0, len(src))
	for _, c := range src {
		p, err := negotiate.ParseProtocol(c.Protocol)
		if err != nil {
			return nil, err
		}
		out = append(out, negotiate.Candidate{Protocol: p, Port: c.Port, Timeout: c.Timeout, Retries: c.Retries})
	}
	return out, nil
}

// RelayAddress is where tunnel connections are dialed.
func (fc *FileConfig) RelayAddress() string {
	return net.JoinHostPort(fc.Server.Host, strconv.Itoa(fc.Server.RelayPort))
}

// ObfuscationSettings resolves the framing mode and, with a passphrase, the
// sealing key.
func (fc *FileConfig) ObfuscationSettings() (relay.Obfuscation, error) {
	mode, err := obfs.ParseMode(fc.Obfuscation.Mode)
	if err != nil {
		return relay.Obfuscation{}, err
	}
	o := relay.Obfuscation{Mode: mode}
	if fc.Obfuscation.Passphrase != "" {
		o.Key = obfs.DeriveKey(fc.Obfuscation.Passphrase, []byte(fc.Obfuscation.Salt))
	}
	return o, nil
}

// Credentials returns nil when SOCKS auth is disabled.
func (fc *FileConfig) Credentials() socks5.CredentialStore {
	if fc.Socks.Username == "" {
		return nil
	}
	return socks5.StaticCredentials{fc.Socks.Username: fc.Socks.Password}
}

// TransportOptions builds the client transport settings.
func (fc *FileConfig) TransportOptions() (transport.Options, error) {
	opts := transport.Options{
		Kind:        fc.Tunnel.Transport,
		DialTimeout: fc.Tunnel.DialTimeout,
		Retries:     fc.Tunnel.Retries,
		RateLimit:   fc.Tunnel.RateLimit,
	}
	if t := fc.Tunnel.TLS; t != nil {
		tlsOpts := &transport.TLSOptions{
			ServerName:    t.ServerName,
			ClientHelloID: t.ClientHelloID,
			MinVersion:    t.MinVersion,
			MaxVersion:    t.MaxVersion,
			NextProtos:    t.ALPN,
		}
		if t.CAFile != "" {
			pool, err := loadCAFile(t.CAFile)
			if err != nil {
				return opts, err
			}
			tlsOpts.RootCAs = pool
		}
		opts.TLS = tlsOpts
	}
	return opts, nil
}

// ServerTransportOptions builds the relay listener settings.
func (fc *FileConfig) ServerTransportOptions() transport.ServerOptions {
	return transport.ServerOptions{
		Kind:       fc.Relay.Transport,
		CertFile:   fc.Relay.CertFile,
		KeyFile:    fc.Relay.KeyFile,
		NextProtos: fc.Relay.ALPN,
	}
}

func loadCAFile(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file '%s': %w", path, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA file '%s'", path)
	}
	return pool, nil
}
