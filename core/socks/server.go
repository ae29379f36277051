package socks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/armon/go-socks5"
	"github.com/google/uuid"
	"github.com/sourceshift/veiltun/core/stats"
	"github.com/sourceshift/veiltun/pkg/logging"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
)

// Dialer opens the upstream connection for a "host:port" target. This is
// where the tunnel transport plugs in.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Gate reports whether the tunnel may carry new connections.
type Gate interface {
	Active() bool
}

// Config tunes a Server. Zero timeouts fall back to the defaults; a nil Gate
// always admits.
type Config struct {
	// Credentials enables username/password auth when set.
	Credentials      socks5.CredentialStore
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	Gate             Gate
	Stats            *stats.Counters
}

// Server accepts local SOCKS5 clients and relays them through a Dialer.
// Every connection is handled on its own goroutine; there is no admission
// limit.
type Server struct {
	cfg      Config
	dial     Dialer
	logger   logging.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New listens on addr. Serve must be called to accept connections.
func New(addr string, dial Dialer, cfg Config, logger logging.Logger) (*Server, error) {
	if dial == nil {
		return nil, errors.New("socks: dialer is required")
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		dial:     dial,
		logger:   logger.With("component", "socks5"),
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Serve blocks until Stop is called.
func (s *Server) Serve() error {
	s.logger.Info("SOCKS5 proxy listening", "addr", s.Addr(), "auth", s.cfg.Credentials != nil)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handle(conn)
	}
}

// Stop closes the listener and every open client connection, then waits for
// the handlers to return.
func (s *Server) Stop() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr returns the listening address of the proxy.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stats exposes the traffic counters.
func (s *Server) Stats() *stats.Counters {
	return s.cfg.Stats
}

// track registers a handler; it fails once Stop has begun.
func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != nil {
		delete(s.conns, c)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	st := s.cfg.Stats
	st.ConnOpened()
	defer st.ConnClosed()

	logger := s.logger.With("conn_id", uuid.NewString(), "remote", conn.RemoteAddr().String())

	if s.cfg.Gate != nil && !s.cfg.Gate.Active() {
		logger.Warn("Rejecting connection: tunnel is not active")
		return
	}

	_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	h := NewHandshake(s.cfg.Credentials)
	if err := h.Run(conn); err != nil {
		st.HandshakeFailed()
		logger.Warn("SOCKS5 handshake failed", "phase", h.Phase().String(), "error", err)
		return
	}
	defer h.Close()

	req := h.Request()
	if req.Command != socks5.ConnectCommand {
		logger.Warn("Unsupported SOCKS5 command", "command", req.Command)
		return
	}
	target, err := ReadTarget(conn, req.AddrType)
	if err != nil {
		st.HandshakeFailed()
		logger.Warn("Invalid SOCKS5 target", "error", err)
		return
	}
	_ = conn.SetDeadline(time.Time{})

	logger = logger.With("target", target.Address())
	if h.Username() != "" {
		logger = logger.With("user", h.Username())
	}

	upstream, err := s.dial(s.ctx, "tcp", target.Address())
	if err != nil {
		st.DialFailed()
		logger.Error("Failed to reach target", "error", err)
		return
	}
	defer upstream.Close()

	logger.Debug("Relaying")
	res, err := Relay(conn, upstream, s.cfg.IdleTimeout)
	st.AddTraffic(res.Up, res.Down)
	if err != nil {
		logger.Debug("Relay ended with error", "error", err, "up", res.Up, "down", res.Down)
		return
	}
	logger.Debug("Relay finished", "up", res.Up, "down", res.Down)
}
