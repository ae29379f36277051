// Command veiltun-server terminates obfuscated tunnels and answers transport
// probes on every candidate port.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sourceshift/veiltun/core/config"
	"github.com/sourceshift/veiltun/core/negotiate"
	"github.com/sourceshift/veiltun/core/relay"
	"github.com/sourceshift/veiltun/core/transport"
	"github.com/sourceshift/veiltun/pkg/logging"
)

func main() {
	configFile := flag.String("config", "veiltun.yaml", "Path to the YAML configuration file.")
	listen := flag.String("listen", "", "Relay listen address (overrides relay.listen).")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides logging.level")
	logFormat := flag.String("log-format", "", "Log format (console, json); overrides logging.format")
	flag.Parse()

	cfg, err := config.LoadFileConfig(*configFile)
	if err != nil {
		logging.GetLogger().Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *logLevel == "" {
		*logLevel = cfg.Logging.Level
	}
	if *logFormat == "" {
		*logFormat = cfg.Logging.Format
	}
	logging.InitLogger(*logLevel, *logFormat, nil)
	logger := logging.GetLogger()

	if *listen != "" {
		cfg.Relay.Listen = *listen
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Relay server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.FileConfig, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, err := cfg.ObfuscationSettings()
	if err != nil {
		return err
	}
	tr, err := transport.NewServer(cfg.ServerTransportOptions(), logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	network := "tcp"
	if cfg.Relay.Transport == transport.KindQUIC {
		network = "udp"
	}
	ln, err := tr.Listen(ctx, network, cfg.Relay.Listen)
	if err != nil {
		return err
	}

	srv := relay.NewServer(ln, relay.ServerConfig{
		Obfuscation: o,
		DialTimeout: cfg.Relay.DialTimeout,
		IdleTimeout: cfg.Relay.IdleTimeout,
	}, nil, logger)

	var responders []*negotiate.Responder
	if cfg.Relay.RespondersEnabled() {
		responders = startResponders(cfg, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, stopping relay...")
	case err = <-errCh:
	}

	for _, r := range responders {
		_ = r.Close()
	}
	if stopErr := srv.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}

	snap := srv.Stats().Snapshot()
	logger.Info("Relay stopped.", "connections", snap.ConnsTotal, "bytes_up", snap.BytesUp, "bytes_down", snap.BytesDown, "uptime", snap.Uptime.String())
	return err
}

// startResponders binds one probe responder per candidate port on the relay's
// host. A port that cannot be bound is logged and skipped.
func startResponders(cfg *config.FileConfig, logger logging.Logger) []*negotiate.Responder {
	host, _, err := net.SplitHostPort(cfg.Relay.Listen)
	if err != nil {
		host = ""
	}
	candidates, err := cfg.NegotiationCandidates()
	if err != nil {
		logger.Error("Invalid candidates, no probe responders started", "error", err)
		return nil
	}

	seen := make(map[int]bool)
	var out []*negotiate.Responder
	for _, c := range candidates {
		if seen[c.Port] {
			continue
		}
		seen[c.Port] = true

		r, err := negotiate.NewResponder(net.JoinHostPort(host, strconv.Itoa(c.Port)), logger)
		if err != nil {
			logger.Warn("Failed to start probe responder", "candidate", c.String(), "error", err)
			continue
		}
		out = append(out, r)
		go func(r *negotiate.Responder) {
			if err := r.Serve(); err != nil {
				logger.Error("Probe responder stopped", "addr", r.Addr().String(), "error", err)
			}
		}(r)
	}
	return out
}
