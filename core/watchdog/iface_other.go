//go:build !linux

package watchdog

import (
	"context"
	"net"
)

// InterfaceChecker reports a network interface as up when its flags say so.
// A missing interface is down, not an error.
type InterfaceChecker struct {
	Name string
}

// IsUp reads the interface flags.
func (c InterfaceChecker) IsUp(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	iface, err := net.InterfaceByName(c.Name)
	if err != nil {
		return false, nil
	}
	return iface.Flags&net.FlagUp != 0, nil
}
