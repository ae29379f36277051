package transport

import (
	"context"
	"net"
	"time"

	"github.com/sourceshift/veiltun/pkg/logging"
	"golang.org/x/time/rate"
)

// Chain creates a single Middleware from a series of middlewares.
// The first middleware is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(base Transport) Transport {
		for i := len(middlewares) - 1; i >= 0; i-- {
			base = middlewares[i](base)
		}
		return base
	}
}

// loggingTransport is a transport wrapper that logs method calls.
type loggingTransport struct {
	Transport
	logger logging.Logger
}

// DialContext logs the dial call and then calls the underlying transport's DialContext.
func (t *loggingTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	start := time.Now()
	conn, err := t.Transport.DialContext(ctx, network, address)
	if err != nil {
		t.logger.Warn("Dial failed", "network", network, "address", address, "error", err)
		return nil, err
	}
	t.logger.Debug("Dial succeeded", "network", network, "remote", conn.RemoteAddr().String(), "took", time.Since(start).String())
	return conn, nil
}

// Listen logs the listen call and then calls the underlying transport's Listen.
func (t *loggingTransport) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	listener, err := t.Transport.Listen(ctx, network, address)
	if err != nil {
		t.logger.Error("Listen failed", "network", network, "address", address, "error", err)
		return nil, err
	}
	t.logger.Info("Listening", "network", network, "addr", listener.Addr().String())
	return listener, nil
}

// Close logs the close call and then calls the underlying transport's Close.
func (t *loggingTransport) Close() error {
	t.logger.Debug("Closing transport")
	return t.Transport.Close()
}

// LoggingMiddleware creates a middleware that logs transport operations.
func LoggingMiddleware(logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return func(base Transport) Transport {
		return &loggingTransport{
			Transport: base,
			logger:    logger.With("component", "transport"),
		}
	}
}

// timeoutTransport is a transport wrapper that applies a timeout to operations.
type timeoutTransport struct {
	Transport
	timeout time.Duration
}

// DialContext applies a timeout to the dial operation.
func (t *timeoutTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.Transport.DialContext(ctx, network, address)
}

// TimeoutMiddleware bounds every dial, handshakes included.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(base Transport) Transport {
		return &timeoutTransport{
			Transport: base,
			timeout:   timeout,
		}
	}
}

// retryTransport is a transport wrapper that retries failed dial attempts.
type retryTransport struct {
	Transport
	attempts int
	delay    time.Duration
}

// DialContext retries dialing on failure up to the configured number of attempts.
func (t *retryTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < t.attempts; i++ {
		conn, err := t.Transport.DialContext(ctx, network, address)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i == t.attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.delay):
		}
	}
	return nil, lastErr
}

// RetryMiddleware creates a middleware that retries failed dial attempts.
func RetryMiddleware(attempts int, delay time.Duration) Middleware {
	if attempts < 1 {
		attempts = 1
	}
	return func(base Transport) Transport {
		return &retryTransport{
			Transport: base,
			attempts:  attempts,
			delay:     delay,
		}
	}
}

// throttlingTransport is a transport wrapper that rate limits dial attempts.
type throttlingTransport struct {
	Transport
	limiter *rate.Limiter
}

// DialContext waits for a token from the rate limiter before dialing.
func (t *throttlingTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Transport.DialContext(ctx, network, address)
}

// ThrottlingMiddleware creates a middleware for rate limiting dial attempts.
func ThrottlingMiddleware(r rate.Limit, b int) Middleware {
	limiter := rate.NewLimiter(r, b)
	return func(base Transport) Transport {
		return &throttlingTransport{
			Transport: base,
			limiter:   limiter,
		}
	}
}
