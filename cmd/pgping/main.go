package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pgping/internal/client"
	"pgping/internal/config"
	"pgping/internal/telemetry"
	"pgping/pkg/logger"
)

func main() {
	watch := flag.Bool("watch", false, "keep probing at the configured interval and serve metrics")
	flag.Parse()

	// Config file path as the first positional argument; empty means
	// defaults plus environment.
	configPath := ""
	if flag.NArg() > 0 {
		configPath = flag.Arg(0)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetDefaultLevelFromString(cfg.Logging.Level)
	if configPath != "" {
		logger.Info("using config file: %s", configPath)
	}

	params := cfg.Target.ConnectionParameters()
	if params.TLSMode == client.TLSDisable && params.Password != "" {
		logger.Warn("tls_mode=disable: the password will travel unencrypted")
	}

	timeout := cfg.Target.ConnectTimeout.Duration

	if !*watch {
		if probe(params, timeout, false) != nil {
			os.Exit(1)
		}
		return
	}

	telemetry.Init(cfg.Probe.TelemetryAddress)
	logger.Info("probing %s every %s. Press Ctrl+C to stop.", params.Addr(), cfg.Probe.Interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Probe.Interval.Duration)
	defer ticker.Stop()

	probe(params, timeout, true)
	for {
		select {
		case <-ticker.C:
			probe(params, timeout, true)
		case <-sigChan:
			logger.Info("shutting down")
			return
		}
	}
}

// probe runs one handshake attempt and logs the result. Metrics are only
// recorded in watch mode; a one-shot check never calls telemetry.Init, so
// updating them there would mutate collectors nothing serves.
func probe(params client.ConnectionParameters, timeout time.Duration, record bool) error {
	start := time.Now()
	conn, err := client.Connect(context.Background(), params, timeout)
	elapsed := time.Since(start)

	if err != nil {
		if record {
			telemetry.ProbesTotal.WithLabelValues(outcome(err)).Inc()
		}
		logger.Error("probe %s failed after %s: %v", params.Addr(), elapsed.Round(time.Millisecond), err)
		return err
	}
	defer conn.Close()

	if record {
		telemetry.ProbesTotal.WithLabelValues("ready").Inc()
		telemetry.HandshakeDuration.Observe(elapsed.Seconds())
		telemetry.LastSuccessTimestamp.SetToCurrentTime()
	}
	logger.Info("probe %s ready in %s (server %s, pid %d)",
		params.Addr(), elapsed.Round(time.Millisecond),
		conn.ServerParameter("server_version"), conn.BackendKey().ProcessID)
	return nil
}

// outcome maps a connect failure to its metric label.
func outcome(err error) string {
	var cerr *client.ConnectError
	if errors.As(err, &cerr) {
		return cerr.Kind.String()
	}
	return "unknown"
}
