package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourceshift/veiltun/core/config"
	"github.com/sourceshift/veiltun/core/negotiate"
	"github.com/sourceshift/veiltun/core/relay"
	"github.com/sourceshift/veiltun/core/socks"
	"github.com/sourceshift/veiltun/core/stats"
	"github.com/sourceshift/veiltun/core/transport"
	"github.com/sourceshift/veiltun/core/watchdog"
	"github.com/sourceshift/veiltun/pkg/logging"
	"golang.org/x/time/rate"
)

var (
	ErrAlreadyConnected = errors.New("engine is already connected")
	ErrNotConnected     = errors.New("engine is not connected")
)

// Engine drives one client session: negotiate a transport, guard it with the
// watchdog and serve local SOCKS5 clients through the tunnel.
type Engine struct {
	config    *config.FileConfig
	root      logging.Logger
	logger    logging.Logger
	prober    negotiate.Prober
	activator negotiate.Activator
	switcher  *negotiate.Switcher
	lockdown  watchdog.Lockdown
	checker   watchdog.LinkChecker
	dial      socks.Dialer
	stats     *stats.Counters

	mu             sync.Mutex
	activeProxy    *socks.Server
	dog            *watchdog.Watchdog
	proxyErrorChan chan error
	lastProxyError error
}

// Option overrides one of the engine's collaborators.
type Option func(*Engine)

// WithProber replaces the UDP prober built from the probe settings.
func WithProber(p negotiate.Prober) Option {
	return func(e *Engine) { e.prober = p }
}

// WithActivator sets the hook that brings up the selected protocol.
func WithActivator(a negotiate.Activator) Option {
	return func(e *Engine) { e.activator = a }
}

// WithLockdown sets the egress blocker engaged when the link is lost.
func WithLockdown(l watchdog.Lockdown) Option {
	return func(e *Engine) { e.lockdown = l }
}

// WithLinkChecker replaces the liveness check derived from the config.
func WithLinkChecker(c watchdog.LinkChecker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithDialer replaces the tunnel dialer used for SOCKS targets.
func WithDialer(d socks.Dialer) Option {
	return func(e *Engine) { e.dial = d }
}

// NewEngine builds an engine from a validated configuration.
func NewEngine(cfg *config.FileConfig, logger logging.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	candidates, err := cfg.NegotiationCandidates()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("engine must be initialized with at least one candidate")
	}

	e := &Engine{
		config:         cfg,
		root:           logger,
		logger:         logger.With("component", "engine"),
		stats:          stats.New(),
		proxyErrorChan: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.prober == nil {
		var proberOpts []negotiate.ProberOption
		if cfg.Probe.RateLimit > 0 {
			proberOpts = append(proberOpts, negotiate.WithRateLimit(rate.Limit(cfg.Probe.RateLimit), cfg.Probe.Burst))
		}
		if cfg.Probe.Backoff > 0 {
			proberOpts = append(proberOpts, negotiate.WithBackoff(cfg.Probe.Backoff))
		}
		e.prober = negotiate.NewUDPProber(logger, proberOpts...)
	}
	if e.activator == nil {
		e.activator = negotiate.LogActivator{Logger: logger}
	}
	if e.lockdown == nil {
		e.lockdown = watchdog.LogLockdown{Logger: logger}
	}
	if e.dial == nil {
		dial, err := newTunnelDialer(cfg, logger)
		if err != nil {
			return nil, err
		}
		e.dial = dial
	}

	e.switcher = negotiate.NewSwitcher(candidates, e.prober, e.activator, logger)
	return e, nil
}

func newTunnelDialer(cfg *config.FileConfig, logger logging.Logger) (socks.Dialer, error) {
	topts, err := cfg.TransportOptions()
	if err != nil {
		return nil, err
	}
	tr, err := transport.New(topts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tunnel transport: %w", err)
	}
	o, err := cfg.ObfuscationSettings()
	if err != nil {
		return nil, err
	}
	return relay.NewClient(tr, cfg.RelayAddress(), o, logger).DialContext, nil
}

// Connect negotiates a transport, starts the watchdog and the SOCKS5 listener.
// When no candidate works the error wraps negotiate.ErrAllCandidatesExhausted.
func (e *Engine) Connect(ctx context.Context) (negotiate.Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeProxy != nil {
		return negotiate.Candidate{}, fmt.Errorf("%w on %s", ErrAlreadyConnected, e.activeProxy.Addr())
	}
	e.lastProxyError = nil

	host := e.config.Server.Host
	e.logger.Info("Negotiating transport", "host", host, "candidates", len(e.switcher.Candidates()))
	cand, err := e.switcher.SelectBest(ctx, host)
	if err != nil {
		e.logger.Error("Negotiation failed", "error", err)
		return negotiate.Candidate{}, err
	}

	var gate socks.Gate
	var dog *watchdog.Watchdog
	if e.config.Watchdog.WatchdogEnabled() {
		dog = e.newWatchdog(host, cand)
		if err := dog.Start(context.Background()); err != nil {
			e.switcher.Reset()
			return negotiate.Candidate{}, fmt.Errorf("failed to start watchdog: %w", err)
		}
		gate = dog
	}

	p, err := socks.New(e.config.Socks.Listen, e.dial, socks.Config{
		Credentials:      e.config.Credentials(),
		HandshakeTimeout: e.config.Socks.HandshakeTimeout,
		IdleTimeout:      e.config.Socks.IdleTimeout,
		Gate:             gate,
		Stats:            e.stats,
	}, e.root)
	if err != nil {
		if dog != nil {
			dog.Stop()
		}
		e.switcher.Reset()
		return negotiate.Candidate{}, fmt.Errorf("failed to create socks5 server: %w", err)
	}
	e.activeProxy = p
	e.dog = dog

	go func() {
		e.logger.Info("Starting proxy", "candidate", cand.String(), "address", p.Addr())
		err := p.Serve() // This is a blocking call

		e.mu.Lock()
		defer e.mu.Unlock()

		// If the proxy instance is the one we started, it means it wasn't a planned Disconnect().
		if e.activeProxy == p && err != nil {
			e.logger.Error("Proxy stopped with an error", "error", err)
			select {
			case e.proxyErrorChan <- err:
			default:
			}
		}
	}()

	return cand, nil
}

func (e *Engine) newWatchdog(host string, cand negotiate.Candidate) *watchdog.Watchdog {
	checker := e.checker
	transportID := e.config.Watchdog.Interface
	if checker == nil {
		if transportID != "" {
			checker = watchdog.InterfaceChecker{Name: transportID}
		} else {
			checker = &negotiate.ProbeChecker{Prober: e.prober, Host: host, Candidate: cand}
		}
	}
	if transportID == "" {
		transportID = cand.String()
	}
	return watchdog.New(watchdog.Config{
		TransportID:     transportID,
		Interval:        e.config.Watchdog.Interval,
		StopTimeout:     e.config.Watchdog.StopTimeout,
		LockdownTimeout: e.config.Watchdog.LockdownTimeout,
	}, checker, e.lockdown, e.root)
}

// Disconnect stops the proxy and the watchdog. A lockdown engaged during the
// session is released.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeProxy == nil {
		return ErrNotConnected
	}

	var errs []error
	if err := e.activeProxy.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop proxy: %w", err))
	}
	e.activeProxy = nil

	if e.dog != nil {
		e.dog.Stop()
		if e.dog.State() == watchdog.StateEmergency {
			if err := e.lockdown.Reset(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to release lockdown: %w", err))
			}
		}
		e.dog = nil
	}
	e.switcher.Reset()
	e.logger.Info("Disconnected")
	return errors.Join(errs...)
}

// Rearm releases the lockdown after an emergency and resumes monitoring.
func (e *Engine) Rearm(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dog == nil {
		return ErrNotConnected
	}
	return e.dog.Rearm(ctx)
}

// Emergency is closed when the watchdog engages the lockdown. It is nil when
// no watchdog runs.
func (e *Engine) Emergency() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dog == nil {
		return nil
	}
	return e.dog.Emergency()
}

// Start connects with a background context. It satisfies interfaces.Engine.
func (e *Engine) Start() error {
	_, err := e.Connect(context.Background())
	return err
}

// Stop satisfies interfaces.Engine.
func (e *Engine) Stop() error {
	return e.Disconnect(context.Background())
}

// Status returns a one-line description of the session.
func (e *Engine) Status() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case err := <-e.proxyErrorChan:
		e.lastProxyError = err
		e.logger.Error("Proxy has failed", "error", err)
	default:
	}
	if e.lastProxyError != nil {
		return "Proxy failed", e.lastProxyError
	}

	if e.activeProxy == nil {
		return "Disconnected", nil
	}
	status := fmt.Sprintf("Proxy running on %s", e.activeProxy.Addr())
	if cur, ok := e.switcher.Current(); ok {
		status += " via " + cur.String()
	}
	if e.dog != nil {
		status += fmt.Sprintf(" (link %s)", e.dog.State())
	}
	return status, nil
}

// Report is a structured snapshot of the session.
type Report struct {
	Connected bool
	ProxyAddr string
	Candidate *negotiate.Candidate
	Watchdog  *watchdog.Status
	Traffic   stats.Snapshot
}

// Report returns the session state, the selected candidate and traffic counters.
func (e *Engine) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := Report{Traffic: e.stats.Snapshot()}
	if cur, ok := e.switcher.Current(); ok {
		r.Candidate = &cur
	}
	if e.activeProxy != nil {
		r.Connected = true
		r.ProxyAddr = e.activeProxy.Addr()
	}
	if e.dog != nil {
		st := e.dog.Status()
		r.Watchdog = &st
	}
	return r
}

// ProxyAddr returns the SOCKS5 listen address, or "" when disconnected.
func (e *Engine) ProxyAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeProxy == nil {
		return ""
	}
	return e.activeProxy.Addr()
}

// ProbeAll probes every candidate without activating any.
func (e *Engine) ProbeAll(ctx context.Context) []negotiate.ProbeResult {
	e.logger.Info("Probing all candidates", "host", e.config.Server.Host)
	return e.switcher.ProbeAll(ctx, e.config.Server.Host)
}
