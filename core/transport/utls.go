package transport

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"sort"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// TLSVersionMap maps configuration strings to TLS version constants.
var TLSVersionMap = map[string]uint16{
	"1.2": utls.VersionTLS12,
	"1.3": utls.VersionTLS13,
}

// HelloIDMap maps configuration strings to uTLS ClientHello fingerprints.
var HelloIDMap = map[string]utls.ClientHelloID{
	"HelloChrome_Auto":       utls.HelloChrome_Auto,
	"HelloFirefox_Auto":      utls.HelloFirefox_Auto,
	"HelloIOS_Auto":          utls.HelloIOS_Auto,
	"HelloAndroid_11_OkHttp": utls.HelloAndroid_11_OkHttp,
	"HelloEdge_Auto":         utls.HelloEdge_Auto,
	"HelloSafari_Auto":       utls.HelloSafari_Auto,
	"HelloRandomized":        utls.HelloRandomized,
	"HelloRandomizedALPN":    utls.HelloRandomizedALPN,
	"HelloRandomizedNoALPN":  utls.HelloRandomizedNoALPN,
}

// TLSOptions describes the client TLS layer of a tunnel transport.
type TLSOptions struct {
	// ServerName overrides the SNI derived from the dialed address.
	ServerName    string
	ClientHelloID string
	MinVersion    string
	MaxVersion    string
	NextProtos    []string
	RootCAs       *x509.CertPool
}

// SupportedNames lists the keys of a lookup map, sorted, for error messages.
func SupportedNames[V any](m map[string]V) string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// BuildUTLSConfig turns options into a uTLS config. Certificate verification
// is always on.
func BuildUTLSConfig(opts TLSOptions) (*utls.Config, error) {
	minVersion, maxVersion := uint16(utls.VersionTLS12), uint16(utls.VersionTLS13)
	if opts.MinVersion != "" {
		v, ok := TLSVersionMap[opts.MinVersion]
		if !ok {
			return nil, fmt.Errorf("unknown min TLS version %q (supported: %s)", opts.MinVersion, SupportedNames(TLSVersionMap))
		}
		minVersion = v
	}
	if opts.MaxVersion != "" {
		v, ok := TLSVersionMap[opts.MaxVersion]
		if !ok {
			return nil, fmt.Errorf("unknown max TLS version %q (supported: %s)", opts.MaxVersion, SupportedNames(TLSVersionMap))
		}
		maxVersion = v
	}
	if minVersion > maxVersion {
		return nil, fmt.Errorf("min TLS version %s is above max %s", opts.MinVersion, opts.MaxVersion)
	}

	return &utls.Config{
		ServerName: opts.ServerName,
		MinVersion: minVersion,
		MaxVersion: maxVersion,
		NextProtos: opts.NextProtos,
		RootCAs:    opts.RootCAs,
	}, nil
}

func helloID(name string) (utls.ClientHelloID, error) {
	if name == "" {
		return utls.HelloRandomized, nil
	}
	id, ok := HelloIDMap[name]
	if !ok {
		return utls.ClientHelloID{}, fmt.Errorf("unknown client hello ID %q (supported: %s)", name, SupportedNames(HelloIDMap))
	}
	return id, nil
}

// NewUTLSClient performs a fingerprinted TLS handshake over rawConn. rawConn is
// closed if the handshake fails.
func NewUTLSClient(ctx context.Context, rawConn net.Conn, opts TLSOptions, sni string) (net.Conn, error) {
	cfg, err := BuildUTLSConfig(opts)
	if err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("failed to build uTLS config: %w", err)
	}
	if cfg.ServerName == "" {
		cfg.ServerName = sni
	}
	id, err := helloID(opts.ClientHelloID)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}

	uconn := utls.UClient(rawConn, cfg, id)
	if err := uconn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("%w: uTLS: %v", ErrHandshake, err)
	}
	return uconn, nil
}

type utlsTransport struct {
	Transport
	opts TLSOptions
}

// DialContext dials through the wrapped transport and runs the uTLS handshake
// on the result.
func (t *utlsTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	raw, err := t.Transport.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	return NewUTLSClient(ctx, raw, t.opts, host)
}

// UTLSMiddleware layers a uTLS client handshake over every dialed connection.
// Listen is passed through untouched.
func UTLSMiddleware(opts TLSOptions) Middleware {
	return func(base Transport) Transport {
		return &utlsTransport{Transport: base, opts: opts}
	}
}
