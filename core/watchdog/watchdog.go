//go:generate mockgen -package=mocks -destination=../../mocks/mock_watchdog.go github.com/sourceshift/veiltun/core/watchdog LinkChecker,Lockdown

// Package watchdog polls the active tunnel link and engages a lockdown the
// first time it is found down.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourceshift/veiltun/pkg/logging"
)

const (
	DefaultInterface       = "tun0"
	DefaultInterval        = 5 * time.Second
	DefaultStopTimeout     = 5 * time.Second
	DefaultLockdownTimeout = 10 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("watchdog already running")
	ErrEmergency      = errors.New("watchdog is in emergency state; rearm first")
)

// LinkChecker reports whether the monitored transport is up.
type LinkChecker interface {
	IsUp(ctx context.Context) (bool, error)
}

// Lockdown blocks all non-loopback egress until Reset.
type Lockdown interface {
	Engage(ctx context.Context) error
	Reset(ctx context.Context) error
}

// State is the watchdog's view of the link.
type State int32

const (
	StateActive State = iota
	StateDegraded
	StateEmergency
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config tunes a Watchdog. Zero values fall back to the Default constants.
type Config struct {
	// TransportID names the monitored transport in logs and status.
	TransportID     string
	Interval        time.Duration
	StopTimeout     time.Duration
	LockdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TransportID == "" {
		c.TransportID = DefaultInterface
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.LockdownTimeout <= 0 {
		c.LockdownTimeout = DefaultLockdownTimeout
	}
	return c
}

// Status is a point-in-time copy of the watchdog state.
type Status struct {
	TransportID string
	State       State
	Running     bool
	Failures    int
	Interval    time.Duration
}

// Watchdog polls a LinkChecker on a fixed interval. A single failed check
// engages the lockdown exactly once and moves to StateEmergency, after which
// polling stops until Rearm.
type Watchdog struct {
	cfg      Config
	checker  LinkChecker
	lockdown Lockdown
	logger   logging.Logger

	state    atomic.Int32
	running  atomic.Bool
	failures atomic.Int32

	mu        sync.Mutex
	parent    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	emergency chan struct{}
}

// New returns a stopped watchdog. A nil logger uses the process default.
func New(cfg Config, checker LinkChecker, lockdown Lockdown, logger logging.Logger) *Watchdog {
	if logger == nil {
		logger = logging.GetLogger()
	}
	cfg = cfg.withDefaults()
	return &Watchdog{
		cfg:       cfg,
		checker:   checker,
		lockdown:  lockdown,
		logger:    logger.With("component", "watchdog", "transport", cfg.TransportID),
		emergency: make(chan struct{}),
	}
}

// Start launches the poll loop. The loop ends when ctx is done, Stop is
// called or the link is lost.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked(ctx)
}

func (w *Watchdog) startLocked(ctx context.Context) error {
	if w.State() == StateEmergency {
		return ErrEmergency
	}
	if w.cancel != nil {
		if w.running.Load() {
			return ErrAlreadyRunning
		}
		// The previous loop ended with its parent context.
		w.cancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.parent = ctx
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running.Store(true)

	w.logger.Info("Watchdog started", "interval", w.cfg.Interval.String())
	go w.run(loopCtx, w.done, w.emergency)
	return nil
}

// Stop asks the loop to exit and waits up to StopTimeout for it. An in-flight
// check is not interrupted; if it outlives the timeout this is logged and Stop
// returns anyway.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watchdog) stopLocked() {
	if w.cancel == nil {
		return
	}
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	cancel()

	select {
	case <-done:
	case <-time.After(w.cfg.StopTimeout):
		w.logger.Warn("Watchdog did not stop in time", "timeout", w.cfg.StopTimeout.String())
	}
}

// Rearm resets the lockdown and resumes polling from StateActive, using the
// context the watchdog was last started with.
func (w *Watchdog) Rearm(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	if err := w.lockdown.Reset(ctx); err != nil {
		return fmt.Errorf("reset lockdown: %w", err)
	}

	w.state.Store(int32(StateActive))
	w.failures.Store(0)
	w.emergency = make(chan struct{})
	w.logger.Info("Watchdog rearmed")

	parent := w.parent
	if parent == nil {
		parent = context.Background()
	}
	return w.startLocked(parent)
}

// State returns the current state.
func (w *Watchdog) State() State {
	return State(w.state.Load())
}

// Active reports whether the monitored transport is still considered alive.
// Connection handlers read it without locking.
func (w *Watchdog) Active() bool {
	return w.State() == StateActive
}

// Running reports whether the poll loop is alive.
func (w *Watchdog) Running() bool {
	return w.running.Load()
}

// Emergency is closed when the watchdog enters StateEmergency.
func (w *Watchdog) Emergency() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emergency
}

// Status returns a snapshot for reporting.
func (w *Watchdog) Status() Status {
	return Status{
		TransportID: w.cfg.TransportID,
		State:       w.State(),
		Running:     w.Running(),
		Failures:    int(w.failures.Load()),
		Interval:    w.cfg.Interval,
	}
}

func (w *Watchdog) run(ctx context.Context, done, emergency chan struct{}) {
	defer close(done)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Watchdog loop exiting")
			return
		case <-ticker.C:
		}

		up := w.check()
		if ctx.Err() != nil {
			// Stopped while the check was in flight; a deliberate teardown
			// is not a link loss.
			return
		}
		if up {
			continue
		}

		w.trip()
		close(emergency)
		return
	}
}

// check runs on its own context so that Stop never interrupts it.
func (w *Watchdog) check() bool {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Interval)
	defer cancel()

	up, err := w.checker.IsUp(ctx)
	if err != nil {
		w.logger.Warn("Liveness check failed", "error", err)
		return false
	}
	return up
}

func (w *Watchdog) trip() {
	w.failures.Add(1)
	w.state.Store(int32(StateDegraded))
	w.logger.Error("Tunnel link lost, engaging lockdown")

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.LockdownTimeout)
	defer cancel()
	if err := w.lockdown.Engage(ctx); err != nil {
		w.logger.Error("Lockdown failed", "error", err)
	}
	w.state.Store(int32(StateEmergency))
}

// LogLockdown records lockdown requests without touching the firewall.
type LogLockdown struct {
	Logger logging.Logger
}

// Engage only logs.
func (l LogLockdown) Engage(context.Context) error {
	l.log().Warn("Lockdown engaged: non-loopback egress must be blocked")
	return nil
}

// Reset only logs.
func (l LogLockdown) Reset(context.Context) error {
	l.log().Info("Lockdown released")
	return nil
}

func (l LogLockdown) log() logging.Logger {
	if l.Logger == nil {
		return logging.GetLogger()
	}
	return l.Logger
}
