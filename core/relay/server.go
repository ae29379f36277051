package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourceshift/veiltun/core/socks"
	"github.com/sourceshift/veiltun/core/stats"
	"github.com/sourceshift/veiltun/pkg/logging"
)

const DefaultDialTimeout = 10 * time.Second

// ServerConfig tunes a relay Server. Zero durations fall back to defaults.
type ServerConfig struct {
	Obfuscation  Obfuscation
	DialTimeout  time.Duration
	SetupTimeout time.Duration
	IdleTimeout  time.Duration
	Stats        *stats.Counters
}

// Server terminates tunnel connections accepted from a listener.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	dial     socks.Dialer
	logger   logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer serves on ln. A nil dial uses a plain net.Dialer.
func NewServer(ln net.Listener, cfg ServerConfig, dial socks.Dialer, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = DefaultSetupTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = socks.DefaultIdleTimeout
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New()
	}
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		listener: ln,
		dial:     dial,
		logger:   logger.With("component", "relay-server"),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve blocks until Stop is called or the listener fails.
func (s *Server) Serve() error {
	s.logger.Info("Relay server listening", "addr", s.Addr(), "mode", s.cfg.Obfuscation.Mode.String(), "sealed", s.cfg.Obfuscation.Key != nil)
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

// Stop closes the listener and all tunnel connections and waits for handlers.
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

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stats returns the counters shared by every tunnel on this server.
func (s *Server) Stats() *stats.Counters {
	return s.cfg.Stats
}

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

func (s *Server) handle(raw net.Conn) {
	defer s.wg.Done()
	defer s.untrack(raw)
	defer raw.Close()

	st := s.cfg.Stats
	st.ConnOpened()
	defer st.ConnClosed()

	logger := s.logger.With("conn_id", uuid.NewString(), "remote", raw.RemoteAddr().String())

	conn, err := s.cfg.Obfuscation.Wrap(raw)
	if err != nil {
		logger.Error("Failed to set up obfuscation", "error", err)
		return
	}

	_ = conn.SetDeadline(time.Now().Add(s.cfg.SetupTimeout))
	target, err := readTarget(conn)
	if err != nil {
		st.HandshakeFailed()
		logger.Warn("Bad tunnel header", "error", err)
		return
	}
	logger = logger.With("target", target)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	upstream, err := s.dial(ctx, "tcp", target)
	cancel()
	if err != nil {
		st.DialFailed()
		logger.Warn("Failed to reach target", "error", err)
		_, _ = conn.Write([]byte{statusFailed})
		return
	}
	defer upstream.Close()

	if _, err := conn.Write([]byte{statusOK}); err != nil {
		logger.Warn("Failed to confirm target", "error", err)
		return
	}
	_ = conn.SetDeadline(time.Time{})

	res, err := socks.Relay(conn, upstream, s.cfg.IdleTimeout)
	st.AddTraffic(res.Up, res.Down)
	if err != nil {
		logger.Debug("Relay ended with error", "error", err, "up", res.Up, "down", res.Down)
		return
	}
	logger.Debug("Relay finished", "up", res.Up, "down", res.Down)
}
