package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mbeckett/bridgemux/internal/infrastructure/config"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Recorder wraps the InfluxDB v2 client for bridgemux metrics.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - A nil *Recorder is valid; all write methods are no-ops on nil.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.TelemetryConfig

	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server.
//
// Parameters:
//   - cfg: Telemetry configuration from config.yaml
//
// Returns:
//   - *Recorder: Connected recorder ready for use
//   - error: ErrDisabled if telemetry is off, or a connection failure
func Connect(cfg config.TelemetryConfig) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &Recorder{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}

	errorsCh := r.writeAPI.Errors()
	go r.handleWriteErrors(errorsCh)

	return r, nil
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		r.mu.RLock()
		callback := r.onError
		r.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// RecordConnectionState writes a connection state transition.
//
// Parameters:
//   - url: The broker endpoint URL (tag)
//   - state: The new state name (e.g., "connected", "reconnecting")
//   - connected: Whether the connection is currently usable
func (r *Recorder) RecordConnectionState(url string, state string, connected bool) {
	if r == nil || !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"connection_state",
		map[string]string{
			"endpoint": url,
		},
		map[string]interface{}{
			"state":     state,
			"connected": connected,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordTopicGauges writes current topic cache gauges for one endpoint.
//
// Parameters:
//   - url: The broker endpoint URL (tag)
//   - topics: Number of cached topics
//   - publishers: Total publisher owners across topics
//   - listeners: Total listeners across topics
func (r *Recorder) RecordTopicGauges(url string, topics, publishers, listeners int) {
	if r == nil || !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"topic_gauges",
		map[string]string{
			"endpoint": url,
		},
		map[string]interface{}{
			"topics":     topics,
			"publishers": publishers,
			"listeners":  listeners,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// SetOnError sets a callback to be invoked when async write errors occur.
func (r *Recorder) SetOnError(callback func(err error)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = callback
}

// IsConnected returns the current connection state.
func (r *Recorder) IsConnected() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Close flushes pending writes and shuts the recorder down.
// Safe to call on nil and safe to call twice.
func (r *Recorder) Close() error {
	if r == nil || r.client == nil {
		return nil
	}

	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return nil
	}
	r.connected = false
	r.mu.Unlock()

	r.writeAPI.Flush()
	r.client.Close()

	return nil
}
