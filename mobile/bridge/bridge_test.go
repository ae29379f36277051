package bridge_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/sourceshift/veiltun/mobile/bridge"
	"github.com/sourceshift/veiltun/mocks"
	"github.com/sourceshift/veiltun/testutils"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func bridgeConfig(port int, watchdog string) string {
	return fmt.Sprintf(`
server:
  host: 127.0.0.1
candidates:
  - protocol: shadowsocks
    port: %d
    timeout: 200ms
obfuscation:
  mode: xor
socks:
  listen: 127.0.0.1:0
%s
logging:
  level: error
`, port, watchdog)
}

const watchdogOff = `
watchdog:
  enabled: false
`

func TestStartEngine_InvalidConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	updater := mocks.NewMockStatusUpdater(ctrl)
	updater.EXPECT().OnStatusUpdate(bridge.StatusError, gomock.Any()).Times(1)

	bridge.StartEngine("server: [unterminated", updater)
}

func TestStartEngine_NoWorkingTransport(t *testing.T) {
	silent := testutils.NewMockUDPServer(nil)
	defer silent.Close()

	ctrl := gomock.NewController(t)
	updater := mocks.NewMockStatusUpdater(ctrl)
	gomock.InOrder(
		updater.EXPECT().OnStatusUpdate(bridge.StatusConnecting, gomock.Any()),
		updater.EXPECT().OnStatusUpdate(bridge.StatusDisconnected, gomock.Any()),
	)

	bridge.StartEngine(bridgeConfig(silent.Port(), watchdogOff), updater)
}

func TestStartStopEngine(t *testing.T) {
	pong := testutils.NewMockPongServer()
	defer pong.Close()

	ctrl := gomock.NewController(t)
	updater := mocks.NewMockStatusUpdater(ctrl)
	gomock.InOrder(
		updater.EXPECT().OnStatusUpdate(bridge.StatusConnecting, gomock.Any()),
		updater.EXPECT().OnStatusUpdate(bridge.StatusConnected, gomock.Any()),
		updater.EXPECT().OnStatusUpdate(bridge.StatusError, "Engine already started"),
		updater.EXPECT().OnStatusUpdate(bridge.StatusDisconnected, "Engine stopped."),
		updater.EXPECT().OnStatusUpdate(bridge.StatusError, "Engine not running"),
	)

	cfg := bridgeConfig(pong.Port(), watchdogOff)
	bridge.StartEngine(cfg, updater)
	bridge.StartEngine(cfg, updater)
	bridge.StopEngine(updater)
	bridge.StopEngine(updater)
}

func TestStartEngine_LinkLossReportsLockdown(t *testing.T) {
	pong := testutils.NewMockPongServer()
	defer pong.Close()

	ctrl := gomock.NewController(t)
	updater := mocks.NewMockStatusUpdater(ctrl)

	locked := make(chan struct{})
	gomock.InOrder(
		updater.EXPECT().OnStatusUpdate(bridge.StatusConnecting, gomock.Any()),
		updater.EXPECT().OnStatusUpdate(bridge.StatusConnected, gomock.Any()),
	)
	updater.EXPECT().OnStatusUpdate(bridge.StatusLockdown, gomock.Any()).Do(func(string, string) {
		close(locked)
	})
	updater.EXPECT().OnStatusUpdate(bridge.StatusDisconnected, "Engine stopped.")

	bridge.StartEngine(bridgeConfig(pong.Port(), `
watchdog:
  interface: veiltun-missing0
  interval: 20ms
`), updater)

	select {
	case <-locked:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "lockdown was never reported")
	}
	bridge.StopEngine(updater)
}

func TestRearmEngine_NotRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	updater := mocks.NewMockStatusUpdater(ctrl)
	updater.EXPECT().OnStatusUpdate(bridge.StatusError, "Engine not running")

	bridge.RearmEngine(updater)
}

func TestRearmEngine_ReportsEveryLinkLoss(t *testing.T) {
	pong := testutils.NewMockPongServer()
	defer pong.Close()

	ctrl := gomock.NewController(t)
	updater := mocks.NewMockStatusUpdater(ctrl)

	locked := make(chan struct{}, 2)
	updater.EXPECT().OnStatusUpdate(bridge.StatusConnecting, gomock.Any())
	updater.EXPECT().OnStatusUpdate(bridge.StatusConnected, gomock.Any()).Times(2)
	updater.EXPECT().OnStatusUpdate(bridge.StatusLockdown, gomock.Any()).Times(2).Do(func(string, string) {
		locked <- struct{}{}
	})
	updater.EXPECT().OnStatusUpdate(bridge.StatusDisconnected, "Engine stopped.")

	waitLockdown := func(which string) {
		t.Helper()
		select {
		case <-locked:
		case <-time.After(5 * time.Second):
			require.FailNow(t, which+" lockdown was never reported")
		}
	}

	bridge.StartEngine(bridgeConfig(pong.Port(), `
watchdog:
  interface: veiltun-missing0
  interval: 20ms
`), updater)

	waitLockdown("first")
	bridge.RearmEngine(updater)
	waitLockdown("second")
	bridge.StopEngine(updater)
}
