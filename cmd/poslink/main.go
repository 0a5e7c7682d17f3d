// poslink is the terminal agent: it keeps a point-of-sale terminal connected
// to the order backend and streams received business events to the console.
//
// The bearer token normally comes from the terminal's token manager; here it
// is read from the config (with ${VAR} expansion) and refreshed on SIGHUP,
// which stands in for the token manager's refresh signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tablekit/poslink/internal/auth"
	"github.com/tablekit/poslink/internal/config"
	"github.com/tablekit/poslink/internal/connection"
	"github.com/tablekit/poslink/internal/envelope"
	"github.com/tablekit/poslink/internal/events"
	"github.com/tablekit/poslink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/poslink.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	recordPath := flag.String("record", "", "append received envelopes to this NDJSON file")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting poslink",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"ws_url", cfg.Server.WSURL,
		"restaurant_id", cfg.Identity.RestaurantID,
		"user_id", cfg.Identity.UserID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec *recorder
	if *recordPath != "" {
		rec, err = newRecorder(*recordPath)
		if err != nil {
			logger.Error("failed to open record file", "error", err, "path", *recordPath)
			os.Exit(1)
		}
		defer rec.Close()
		logger.Info("recording envelopes", "path", *recordPath)
	}

	tokens := auth.Static(auth.Credential{
		Token:        cfg.Identity.Token,
		UserID:       cfg.Identity.UserID,
		RestaurantID: cfg.Identity.RestaurantID,
	})

	bus := events.NewBus(logger)
	sup := connection.NewSupervisor(connection.SupervisorConfig{
		Endpoint:             cfg.Server.WSURL,
		APIBaseURL:           cfg.Server.APIURL,
		ConnectTimeout:       cfg.Connection.ConnectTimeout,
		WriteTimeout:         cfg.Connection.WriteTimeout,
		BufferSize:           cfg.Connection.BufferSize,
		SendRate:             cfg.Connection.SendRate,
		SendBurst:            cfg.Connection.SendBurst,
		HeartbeatInterval:    cfg.Heartbeat.Interval,
		MaxMissedPongs:       cfg.Heartbeat.MaxMissedPongs,
		ReconnectBase:        cfg.Reconnect.BaseDelay,
		ReconnectCap:         cfg.Reconnect.MaxDelay,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		PollInterval:         cfg.Polling.Interval,
		APITimeout:           cfg.API.Timeout,
		APIMaxRetries:        cfg.API.MaxRetries,
		APIRetryBackoff:      cfg.API.RetryBackoff,
	}, tokens, bus, logger)

	subscribeLifecycle(bus, logger)
	subscribeBusiness(bus, logger, rec)

	// Handle shutdown signals; SIGHUP re-reads nothing but tells the
	// supervisor fresh credentials are available.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, signaling credential refresh")
				sup.RefreshCredentials()
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			return
		}
	}()

	if err := sup.Connect(ctx); err != nil {
		logger.Error("initial connect failed", "error", err)
		os.Exit(1)
	}

	// Periodic status line so operators can see the connection state even
	// when no events arrive.
	statusTicker := time.NewTicker(time.Minute)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			if err := sup.Disconnect(); err != nil {
				logger.Warn("disconnect failed", "error", err)
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := sup.Close(shutdownCtx); err != nil {
				logger.Warn("supervisor close timed out", "error", err)
			}
			logger.Info("poslink stopped")
			return

		case <-statusTicker.C:
			st := sup.Status()
			logger.Info("status",
				"state", st.State.String(),
				"attempt", st.Attempt,
				"messages_received", st.MessagesReceived,
				"parse_errors", st.ParseErrors,
				"reconnects", st.Reconnects,
			)
		}
	}
}

func subscribeLifecycle(bus *events.Bus, logger *slog.Logger) {
	bus.Subscribe(envelope.EventConnected, func(env envelope.Envelope) {
		logger.Info("event: connected", "restaurant_id", env.RestaurantID)
	})
	bus.Subscribe(envelope.EventDisconnected, func(env envelope.Envelope) {
		var d envelope.DisconnectData
		_ = env.DecodeData(&d)
		logger.Warn("event: disconnected", "code", d.Code, "reason", d.Reason)
	})
	bus.Subscribe(envelope.EventReconnecting, func(env envelope.Envelope) {
		var r envelope.ReconnectData
		_ = env.DecodeData(&r)
		logger.Info("event: reconnecting", "attempt", r.Attempt, "delay_ms", r.DelayMs)
	})
	bus.Subscribe(envelope.EventError, func(env envelope.Envelope) {
		var e envelope.ErrorData
		_ = env.DecodeData(&e)
		logger.Error("event: error", "code", e.Code, "message", e.Message)
	})
}

func subscribeBusiness(bus *events.Bus, logger *slog.Logger, rec *recorder) {
	for _, eventType := range envelope.BusinessEvents() {
		bus.Subscribe(eventType, func(env envelope.Envelope) {
			logger.Info("event: "+env.Type,
				"source", sourceLabel(env.Source),
				"restaurant_id", env.RestaurantID,
				"bytes", len(env.Data),
			)
			if rec != nil {
				if err := rec.Write(env); err != nil {
					logger.Warn("failed to record envelope", "error", err)
				}
			}
		})
	}
}

func sourceLabel(source string) string {
	if source == envelope.SourcePolling {
		return "polling"
	}
	return "socket"
}

// recorder appends envelopes to a file as NDJSON, one envelope per line.
type recorder struct {
	mu sync.Mutex
	f  *os.File
}

func newRecorder(path string) (*recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	return &recorder{f: f}, nil
}

func (r *recorder) Write(env envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.f.Write(append(data, '\n'))
	return err
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
