package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sourceshift/veiltun/core"
	"github.com/sourceshift/veiltun/core/config"
	"github.com/sourceshift/veiltun/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		logging.GetLogger().Error("expected 'connect' or 'probe' subcommands")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "connect":
		connectCmd := flag.NewFlagSet("connect", flag.ExitOnError)
		configFile := connectCmd.String("config", "veiltun.yaml", "Path to the YAML configuration file.")
		listen := connectCmd.String("listen", "", "SOCKS5 listen address (overrides socks.listen).")
		protocol := connectCmd.String("protocol", "", "Pin one protocol instead of walking the candidate list.")
		logLevel := connectCmd.String("log-level", "", "Log level (debug, info, warn, error); overrides logging.level")
		logFormat := connectCmd.String("log-format", "", "Log format (console, json); overrides logging.format")
		if err := connectCmd.Parse(os.Args[2:]); err != nil {
			logging.GetLogger().Error("Failed to parse connect flags", "error", err)
			os.Exit(1)
		}
		cfg := loadConfig(*configFile, *logLevel, *logFormat)
		if *listen != "" {
			cfg.Socks.Listen = *listen
		}
		if *protocol != "" {
			cfg.Protocol = *protocol
			if err := cfg.Validate(); err != nil {
				logging.GetLogger().Error("Invalid protocol override", "error", err)
				os.Exit(1)
			}
		}
		runConnect(cfg)

	case "probe":
		probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
		configFile := probeCmd.String("config", "veiltun.yaml", "Path to the YAML configuration file.")
		host := probeCmd.String("host", "", "Probe this host instead of server.host.")
		logLevel := probeCmd.String("log-level", "", "Log level (debug, info, warn, error); overrides logging.level")
		logFormat := probeCmd.String("log-format", "", "Log format (console, json); overrides logging.format")
		if err := probeCmd.Parse(os.Args[2:]); err != nil {
			logging.GetLogger().Error("Failed to parse probe flags", "error", err)
			os.Exit(1)
		}
		cfg := loadConfig(*configFile, *logLevel, *logFormat)
		if *host != "" {
			cfg.Server.Host = *host
		}
		runProbe(cfg)

	default:
		logging.GetLogger().Error("expected 'connect' or 'probe' subcommands", "command", os.Args[1])
		os.Exit(1)
	}
}

func loadConfig(path, level, format string) *config.FileConfig {
	cfg, err := config.LoadFileConfig(path)
	if err != nil {
		logging.GetLogger().Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if level == "" {
		level = cfg.Logging.Level
	}
	if format == "" {
		format = cfg.Logging.Format
	}
	logging.InitLogger(level, format, nil)
	return cfg
}

func runConnect(cfg *config.FileConfig) {
	logger := logging.GetLogger()

	engine, err := core.NewEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to create core engine", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cand, err := engine.Connect(ctx)
	if err != nil {
		logger.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
	logger.Info("Tunnel up. Press Ctrl+C to exit.", "candidate", cand.String(), "socks", engine.ProxyAddr())

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, disconnecting...")
	case <-engine.Emergency():
		// A nil channel (watchdog disabled) never fires.
		logger.Error("Tunnel link lost; lockdown engaged. Press Ctrl+C to release it and exit.")
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Disconnect(shutdownCtx); err != nil {
		logger.Error("Error while disconnecting", "error", err)
		os.Exit(1)
	}
	report := engine.Report()
	logger.Info("Disconnected.", "bytes_up", report.Traffic.BytesUp, "bytes_down", report.Traffic.BytesDown, "connections", report.Traffic.ConnsTotal)
}

func runProbe(cfg *config.FileConfig) {
	logger := logging.GetLogger()

	engine, err := core.NewEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to create core engine", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	results := engine.ProbeAll(ctx)

	// Print results in a nice table format.
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	fmt.Fprintln(w, "PRIORITY\tCANDIDATE\tSTATUS\tLATENCY\tDETAIL")
	fmt.Fprintln(w, "--------\t---------\t------\t-------\t------")

	for i, res := range results {
		status, latency, detail := "FAIL", "N/A", ""
		if res.OK() {
			status = "SUCCESS"
			latency = res.Latency.Round(time.Millisecond).String()
		} else {
			detail = res.Err.Error()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, res.Candidate.String(), status, latency, detail)
	}
	w.Flush()
}
