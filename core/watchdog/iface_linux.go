package watchdog

import (
	"context"
	"errors"
	"net"

	"github.com/vishvananda/netlink"
)

// InterfaceChecker reports a network interface as up when the kernel says it
// is operational. A missing interface is down, not an error.
type InterfaceChecker struct {
	Name string
}

// IsUp looks the interface up over netlink.
func (c InterfaceChecker) IsUp(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	link, err := netlink.LinkByName(c.Name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}

	attrs := link.Attrs()
	switch attrs.OperState {
	case netlink.OperUp:
		return true, nil
	case netlink.OperUnknown:
		// tun devices and loopback never report a carrier.
		return attrs.Flags&net.FlagUp != 0, nil
	default:
		return false, nil
	}
}
