package negotiate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourceshift/veiltun/pkg/logging"
)

var (
	ErrActivationFailed       = errors.New("candidate activation failed")
	ErrAllCandidatesExhausted = errors.New("no working protocols available")
)

// Activator brings up the transport for a candidate that answered its probe.
type Activator interface {
	Activate(ctx context.Context, c Candidate) error
}

// ActivatorFunc adapts a function to Activator.
type ActivatorFunc func(ctx context.Context, c Candidate) error

// Activate calls f(ctx, c).
func (f ActivatorFunc) Activate(ctx context.Context, c Candidate) error {
	return f(ctx, c)
}

// LogActivator only records the switch. It is used when the transport itself
// is started elsewhere.
type LogActivator struct {
	Logger logging.Logger
}

// Activate logs the hand-off and always succeeds.
func (a LogActivator) Activate(_ context.Context, c Candidate) error {
	logger := a.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	logger.Info("Activating transport", "protocol", c.Protocol.String(), "port", c.Port)
	return nil
}

// Switcher walks the candidate list in priority order and keeps the first one
// that both answers its probe and activates.
type Switcher struct {
	mu         sync.Mutex
	candidates []Candidate
	prober     Prober
	activator  Activator
	logger     logging.Logger
	current    *Candidate
}

// NewSwitcher copies candidates so later edits by the caller have no effect.
func NewSwitcher(candidates []Candidate, prober Prober, activator Activator, logger logging.Logger) *Switcher {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if activator == nil {
		activator = LogActivator{Logger: logger}
	}
	return &Switcher{
		candidates: append([]Candidate(nil), candidates...),
		prober:     prober,
		activator:  activator,
		logger:     logger.With("component", "switcher"),
	}
}

// Candidates returns a copy of the priority list.
func (s *Switcher) Candidates() []Candidate {
	return append([]Candidate(nil), s.candidates...)
}

// Current returns the active candidate, if any.
func (s *Switcher) Current() (Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Candidate{}, false
	}
	return *s.current, true
}

// Reset forgets the active candidate.
func (s *Switcher) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// SelectBest probes candidates strictly in order and stops at the first
// success. Candidates after the winner are never contacted. Only one
// negotiation runs at a time.
func (s *Switcher) SelectBest(ctx context.Context, host string) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil

	if len(s.candidates) == 0 {
		return Candidate{}, fmt.Errorf("%w: no candidates configured", ErrAllCandidatesExhausted)
	}

	var causes []error
	for _, c := range s.candidates {
		if err := ctx.Err(); err != nil {
			return Candidate{}, fmt.Errorf("negotiation aborted: %w", err)
		}
		logger := s.logger.With("candidate", c.String())

		if err := s.prober.Probe(ctx, host, c); err != nil {
			if errors.Is(err, ErrProbeTimeout) {
				logger.Debug("Candidate did not answer", "error", err)
			} else {
				logger.Warn("Candidate probe failed", "error", err)
			}
			causes = append(causes, fmt.Errorf("%s: %w", c, err))
			continue
		}

		if err := s.activator.Activate(ctx, c); err != nil {
			logger.Error("Failed to activate candidate", "error", err)
			causes = append(causes, fmt.Errorf("%s: %w: %v", c, ErrActivationFailed, err))
			continue
		}

		selected := c
		s.current = &selected
		logger.Info("Switched transport", "host", host)
		return c, nil
	}

	s.logger.Error("No working protocols available", "host", host, "tried", len(s.candidates))
	return Candidate{}, fmt.Errorf("%w: %w", ErrAllCandidatesExhausted, errors.Join(causes...))
}

// ProbeResult is the outcome of probing one candidate.
type ProbeResult struct {
	Candidate Candidate
	Latency   time.Duration
	Err       error
}

// OK reports whether the candidate answered.
func (r ProbeResult) OK() bool { return r.Err == nil }

// ProbeAll probes every candidate in order without activating any of them.
// It stops early only when ctx is done.
func ProbeAll(ctx context.Context, prober Prober, host string, candidates []Candidate) []ProbeResult {
	results := make([]ProbeResult, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			results = append(results, ProbeResult{Candidate: c, Err: err})
			continue
		}
		start := time.Now()
		err := prober.Probe(ctx, host, c)
		results = append(results, ProbeResult{Candidate: c, Latency: time.Since(start), Err: err})
	}
	return results
}

// ProbeAll runs the package-level ProbeAll over the switcher's candidates.
func (s *Switcher) ProbeAll(ctx context.Context, host string) []ProbeResult {
	return ProbeAll(ctx, s.prober, host, s.candidates)
}
