//go:generate mockgen -package=mocks -destination=../../mocks/mock_bridge.go github.com/sourceshift/veiltun/mobile/bridge StatusUpdater

// Package bridge provides a gomobile-compatible wrapper around the core veiltun library.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourceshift/veiltun/core"
	"github.com/sourceshift/veiltun/core/config"
	"github.com/sourceshift/veiltun/pkg/logging"
)

// Status values passed to StatusUpdater.
const (
	StatusConnecting   = "CONNECTING"
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
	StatusLockdown     = "LOCKDOWN"
	StatusError        = "ERROR"
)

var (
	mu sync.Mutex
	// engine is a single, global instance of the core engine.
	engine *core.Engine
	// cancel stops the goroutine watching for link loss.
	cancel context.CancelFunc
)

// StatusUpdater is an interface that native mobile code must implement
// to receive status updates from the Go library.
type StatusUpdater interface {
	// OnStatusUpdate is called with one of the Status constants and a
	// descriptive message.
	OnStatusUpdate(status, message string)
}

// StartEngine parses configYAML, negotiates a transport and starts the SOCKS5
// proxy. It returns once the engine is connected or has failed.
func StartEngine(configYAML string, updater StatusUpdater) {
	mu.Lock()
	defer mu.Unlock()

	if engine != nil {
		updater.OnStatusUpdate(StatusError, "Engine already started")
		return
	}

	cfg, err := config.Parse([]byte(configYAML))
	if err != nil {
		updater.OnStatusUpdate(StatusError, "Invalid configuration: "+err.Error())
		return
	}
	logger := logging.GetLogger().With("component", "bridge")

	e, err := core.NewEngine(cfg, logger)
	if err != nil {
		updater.OnStatusUpdate(StatusError, "Failed to create engine: "+err.Error())
		return
	}

	updater.OnStatusUpdate(StatusConnecting, "Negotiating a transport with "+cfg.Server.Host)
	cand, err := e.Connect(context.Background())
	if err != nil {
		updater.OnStatusUpdate(StatusDisconnected, "No working transport: "+err.Error())
		return
	}

	engine = e
	updater.OnStatusUpdate(StatusConnected, fmt.Sprintf("Proxy is running on %s via %s", e.ProxyAddr(), cand))
	watchEmergency(e, updater)
}

// watchEmergency replaces the link-loss watcher with one bound to the
// engine's current emergency channel. Callers hold mu.
func watchEmergency(e *core.Engine, updater StatusUpdater) {
	if cancel != nil {
		cancel()
	}
	var ctx context.Context
	ctx, cancel = context.WithCancel(context.Background())

	emergency := e.Emergency()
	go func() {
		select {
		case <-ctx.Done():
		case <-emergency:
			updater.OnStatusUpdate(StatusLockdown, "Tunnel link lost; traffic is blocked until the engine is stopped or re-armed")
		}
	}()
}

// RearmEngine releases the lockdown after a link loss and resumes monitoring.
// A later link loss is reported again as StatusLockdown.
func RearmEngine(updater StatusUpdater) {
	mu.Lock()
	defer mu.Unlock()

	if engine == nil {
		updater.OnStatusUpdate(StatusError, "Engine not running")
		return
	}
	if err := engine.Rearm(context.Background()); err != nil {
		updater.OnStatusUpdate(StatusError, "Failed to re-arm: "+err.Error())
		return
	}
	updater.OnStatusUpdate(StatusConnected, "Link monitoring resumed")
	watchEmergency(engine, updater)
}

// StopEngine stops the engine and the proxy.
func StopEngine(updater StatusUpdater) {
	mu.Lock()
	defer mu.Unlock()

	if engine == nil {
		updater.OnStatusUpdate(StatusError, "Engine not running")
		return
	}

	if cancel != nil {
		cancel()
	}
	err := engine.Disconnect(context.Background())
	engine = nil
	cancel = nil

	if err != nil {
		updater.OnStatusUpdate(StatusError, "Engine stopped with errors: "+err.Error())
		return
	}
	updater.OnStatusUpdate(StatusDisconnected, "Engine stopped.")
}
