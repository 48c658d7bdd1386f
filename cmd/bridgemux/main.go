// bridgemux - shared broker connection multiplexer
//
// bridgemux holds one physical connection per configured broker
// endpoint and multiplexes publishers and subscribers over shared
// topics, so many local owners reuse a single connection and a single
// physical subscription per topic configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbeckett/bridgemux/internal/auth"
	"github.com/mbeckett/bridgemux/internal/connection"
	"github.com/mbeckett/bridgemux/internal/infrastructure/config"
	"github.com/mbeckett/bridgemux/internal/infrastructure/logging"
	"github.com/mbeckett/bridgemux/internal/infrastructure/telemetry"
	"github.com/mbeckett/bridgemux/internal/session"
	"github.com/mbeckett/bridgemux/internal/topic"
	"github.com/mbeckett/bridgemux/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// gaugeInterval is how often topic gauges are pushed to telemetry.
const gaugeInterval = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting bridgemux",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to InfluxDB telemetry (optional)
	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting telemetry: %w", err)
		}
		defer func() {
			log.Info("closing telemetry")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		recorder.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
		log.Info("telemetry connected", "url", cfg.Telemetry.URL, "bucket", cfg.Telemetry.Bucket)
	} else {
		log.Info("telemetry disabled")
	}

	// Build the shared connection registry over a transport factory
	// that picks the implementation configured for each endpoint.
	registry, err := connection.NewRegistry(transportFactory(cfg, log), nil, log)
	if err != nil {
		return fmt.Errorf("creating connection registry: %w", err)
	}
	cache := topic.NewCache(log)

	sess, err := session.NewSession(registry, cache, nil, log)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		log.Info("closing session")
		sess.Close()
	}()

	// Bring up each configured endpoint and observe its lifecycle.
	handles := make([]*session.ConnectionHandle, 0, len(cfg.Connections))
	for _, cc := range cfg.Connections {
		handle, err := acquireEndpoint(sess, cc, recorder, log)
		if err != nil {
			return fmt.Errorf("acquiring %s: %w", cc.Name, err)
		}
		handles = append(handles, handle)
	}
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"endpoints", len(handles),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return gaugeLoop(groupCtx, cfg, sess, recorder)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	log.Info("bridgemux stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BRIDGEMUX_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BRIDGEMUX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// transportFactory returns a connection factory that builds the
// transport kind configured for each endpoint URL. Endpoints without
// explicit configuration default to websocket.
func transportFactory(cfg *config.Config, log *logging.Logger) transport.Factory {
	kinds := make(map[string]config.ConnectionConfig, len(cfg.Connections))
	for _, cc := range cfg.Connections {
		kinds[cc.URL] = cc
	}

	return func(url string) transport.Transport {
		cc := kinds[url]
		switch cc.Transport {
		case config.TransportMQTT:
			return transport.NewMQTT(cc.ClientID, log)
		default:
			return transport.NewWS(log)
		}
	}
}

// acquireEndpoint acquires one configured connection and wires its
// lifecycle transitions into the log and the telemetry recorder.
func acquireEndpoint(sess *session.Session, cc config.ConnectionConfig, recorder *telemetry.Recorder, log *logging.Logger) (*session.ConnectionHandle, error) {
	opts := session.ConnectionOptions{
		URL:                cc.URL,
		AutoConnect:        cc.Auto.Enabled,
		AutoConnectTimeout: cc.AutoConnectTimeout(),
	}
	if cc.Auth.Enabled {
		opts.Authenticate = true
		opts.User = cc.Auth.User
		opts.Secret = cc.Auth.Secret
		opts.Provider = auth.NewSHA512Provider("user", time.Minute)
	}

	handle, err := sess.AcquireConnection(opts)
	if err != nil {
		return nil, err
	}

	name, url := cc.Name, cc.URL
	if _, err := handle.Observe(func(connected bool, obsErr error) {
		state := handle.State().String()
		if obsErr != nil {
			log.Warn("endpoint error", "name", name, "url", url, "error", obsErr)
		} else if connected {
			log.Info("endpoint connected", "name", name, "url", url)
		} else {
			log.Info("endpoint disconnected", "name", name, "url", url)
		}
		recorder.RecordConnectionState(url, state, connected)
	}); err != nil {
		handle.Release()
		return nil, err
	}

	return handle, nil
}

// gaugeLoop periodically pushes per-endpoint topic gauges to telemetry
// until the context is cancelled.
func gaugeLoop(ctx context.Context, cfg *config.Config, sess *session.Session, recorder *telemetry.Recorder) error {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, cc := range cfg.Connections {
				stats := sess.StatsFor(cc.URL)
				recorder.RecordTopicGauges(cc.URL, stats.Topics, stats.Publishers, stats.Listeners)
			}
		}
	}
}
