package transport

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	quic "github.com/refraction-networking/uquic"
	utls "github.com/refraction-networking/utls"
	"github.com/sourceshift/veiltun/pkg/logging"
	"golang.org/x/time/rate"
)

// Transport kinds accepted by New and NewServer.
const (
	KindTCP  = "tcp"
	KindQUIC = "quic"
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultKeepAlive   = 30 * time.Second
	DefaultRetryDelay  = 500 * time.Millisecond
)

// Options selects and tunes the client side of a tunnel transport.
type Options struct {
	Kind        string
	DialTimeout time.Duration
	KeepAlive   time.Duration
	// TLS enables the uTLS client layer on TCP. QUIC always uses TLS and
	// falls back to defaults when TLS is nil.
	TLS *TLSOptions
	// Retries is the number of extra dial attempts after the first.
	Retries    int
	RetryDelay time.Duration
	// RateLimit caps dials per second; zero disables throttling.
	RateLimit float64
	Burst     int
}

// New builds a client transport wrapped in the standard middleware chain:
// logging outermost, then throttling, retries and a per-attempt timeout.
func New(opts Options, logger logging.Logger) (Transport, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	var (
		base Transport
		mws  = []Middleware{LoggingMiddleware(logger)}
	)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		mws = append(mws, ThrottlingMiddleware(rate.Limit(opts.RateLimit), burst))
	}
	mws = append(mws, RetryMiddleware(opts.Retries+1, opts.RetryDelay), TimeoutMiddleware(opts.DialTimeout))

	switch strings.ToLower(opts.Kind) {
	case "", KindTCP:
		base = NewTCPTransport(&TCPConfig{DialTimeout: opts.DialTimeout, KeepAlive: opts.KeepAlive})
		if opts.TLS != nil {
			// The handshake sits inside the timeout so a stalled server
			// cannot hold a dial forever.
			mws = append(mws, UTLSMiddleware(*opts.TLS))
		}
	case KindQUIC:
		tlsOpts := TLSOptions{}
		if opts.TLS != nil {
			tlsOpts = *opts.TLS
		}
		tlsCfg, err := BuildUTLSConfig(tlsOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to build QUIC TLS config: %w", err)
		}
		qt, err := NewQUICTransport(&QUICConfig{
			TLSConfig:  tlsCfg,
			QUICConfig: &quic.Config{KeepAlivePeriod: opts.KeepAlive},
		})
		if err != nil {
			return nil, err
		}
		base = qt
	default:
		return nil, fmt.Errorf("unsupported transport %q (supported: %s, %s)", opts.Kind, KindTCP, KindQUIC)
	}

	return Chain(mws...)(base), nil
}

// ServerOptions configures the listening side of a tunnel transport.
type ServerOptions struct {
	Kind string
	// CertFile and KeyFile enable TLS on TCP listeners; QUIC requires them.
	CertFile   string
	KeyFile    string
	NextProtos []string
}

// NewServer builds a transport suitable for Listen on the relay side.
func NewServer(opts ServerOptions, logger logging.Logger) (Transport, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	hasCert := opts.CertFile != "" && opts.KeyFile != ""

	var base Transport
	switch strings.ToLower(opts.Kind) {
	case "", KindTCP:
		cfg := &TCPConfig{}
		if hasCert {
			cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load server certificate: %w", err)
			}
			cfg.ServerTLS = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
				NextProtos:   opts.NextProtos,
			}
		}
		base = NewTCPTransport(cfg)
	case KindQUIC:
		if !hasCert {
			return nil, fmt.Errorf("quic server requires cert_file and key_file")
		}
		cert, err := utls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load server certificate: %w", err)
		}
		qt, err := NewQUICTransport(&QUICConfig{
			TLSConfig: &utls.Config{
				Certificates: []utls.Certificate{cert},
				MinVersion:   utls.VersionTLS13,
				NextProtos:   opts.NextProtos,
			},
		})
		if err != nil {
			return nil, err
		}
		base = qt
	default:
		return nil, fmt.Errorf("unsupported transport %q (supported: %s, %s)", opts.Kind, KindTCP, KindQUIC)
	}
	return LoggingMiddleware(logger)(base), nil
}
