package negotiate

import (
	"context"
	"errors"
)

// ProbeChecker reports a link as up while one candidate keeps answering its
// probe. It lets the watchdog follow the tunnel endpoint instead of a local
// interface.
type ProbeChecker struct {
	Prober    Prober
	Host      string
	Candidate Candidate
}

// IsUp treats timeouts and failed probes as "down". Anything else, such as
// a cancelled context, is returned as an error.
func (c *ProbeChecker) IsUp(ctx context.Context) (bool, error) {
	err := c.Prober.Probe(ctx, c.Host, c.Candidate)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrProbeTimeout), errors.Is(err, ErrProbeUnavailable):
		return false, nil
	default:
		return false, err
	}
}
