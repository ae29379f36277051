//go:generate mockgen -package=mocks -destination=../../mocks/mock_negotiate.go github.com/sourceshift/veiltun/core/negotiate Prober,Activator

package negotiate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sourceshift/veiltun/pkg/logging"
	"github.com/sourceshift/veiltun/pkg/securerandom"
	"golang.org/x/time/rate"
)

var (
	// ErrProbeTimeout means the candidate did not answer in time. It is a
	// "not available" verdict and is never retried.
	ErrProbeTimeout = errors.New("probe timed out")
	// ErrProbeUnavailable means the candidate answered wrongly or the socket
	// kept failing until the attempt ceiling.
	ErrProbeUnavailable = errors.New("probe failed")
)

var (
	pingPayload = []byte("ping")
	pongPayload = []byte("pong")
)

const (
	defaultBackoff = 100 * time.Millisecond
	maxReplySize   = 1024
)

// Prober checks whether a single candidate is reachable on host.
type Prober interface {
	Probe(ctx context.Context, host string, c Candidate) error
}

// DialFunc opens the datagram socket used by a probe.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// UDPProber sends a "ping" datagram and expects "pong" back.
type UDPProber struct {
	logger  logging.Logger
	limiter *rate.Limiter
	backoff time.Duration
	dial    DialFunc
}

// ProberOption configures a UDPProber.
type ProberOption func(*UDPProber)

// WithRateLimit paces every datagram the prober sends, retries included.
func WithRateLimit(r rate.Limit, burst int) ProberOption {
	return func(p *UDPProber) {
		p.limiter = rate.NewLimiter(r, burst)
	}
}

// WithBackoff sets the first retry delay; later delays double.
func WithBackoff(base time.Duration) ProberOption {
	return func(p *UDPProber) {
		p.backoff = base
	}
}

// WithDialFunc replaces the socket dialer.
func WithDialFunc(dial DialFunc) ProberOption {
	return func(p *UDPProber) {
		p.dial = dial
	}
}

// NewUDPProber creates a prober. Without options it is unthrottled and backs
// off from 100ms.
func NewUDPProber(logger logging.Logger, opts ...ProberOption) *UDPProber {
	if logger == nil {
		logger = logging.GetLogger()
	}
	var d net.Dialer
	p := &UDPProber{
		logger:  logger.With("component", "prober"),
		limiter: rate.NewLimiter(rate.Inf, 1),
		backoff: defaultBackoff,
		dial:    d.DialContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns nil when the candidate answered "pong". Timeouts and wrong
// replies end the probe at once; other socket errors are retried with
// exponential backoff up to the candidate's attempt ceiling.
func (p *UDPProber) Probe(ctx context.Context, host string, c Candidate) error {
	addr := net.JoinHostPort(host, strconv.Itoa(c.Port))
	attempts := c.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("probe rate limiter: %w", err)
		}

		err := p.probeOnce(ctx, addr, c.timeout())
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrProbeTimeout) || errors.Is(err, ErrProbeUnavailable) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = err
		p.logger.Warn("Socket error while probing", "candidate", c.String(), "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrProbeUnavailable, c, attempts, lastErr)
}

// delay is base * 2^(attempt-1) plus up to 50% random jitter.
func (p *UDPProber) delay(attempt int) time.Duration {
	d := p.backoff << (attempt - 1)
	jitter, err := securerandom.Duration(0, d/2)
	if err != nil {
		return d
	}
	return d + jitter
}

func (p *UDPProber) probeOnce(ctx context.Context, addr string, timeout time.Duration) error {
	conn, err := p.dial(ctx, "udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	if _, err := conn.Write(pingPayload); err != nil {
		return err
	}

	buf := make([]byte, maxReplySize)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %s after %s", ErrProbeTimeout, addr, timeout)
		}
		return err
	}
	if !bytes.Equal(buf[:n], pongPayload) {
		return fmt.Errorf("%w: %s sent an unexpected %d byte reply", ErrProbeUnavailable, addr, n)
	}
	return nil
}
