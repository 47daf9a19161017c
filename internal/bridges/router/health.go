package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// StatusSource supplies the engine snapshot reported in health messages.
type StatusSource interface {
	Status() routing.Status
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	routerID  string
	version   string
	topic     string
	clock     clock.Clock
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    StatusSource

	// onTick runs after every periodic report (stats telemetry).
	onTick func(routing.Status)

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	RouterID string
	Version  string

	// Topic is the retained health topic.
	Topic string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Clock drives the report ticker and uptime. Defaults to the wall clock.
	Clock clock.Clock

	Publisher HealthPublisher
	Source    StatusSource
	Logger    Logger

	// OnTick is called with the reported status after each periodic
	// report. Optional.
	OnTick func(routing.Status)
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &HealthReporter{
		routerID:  cfg.RouterID,
		version:   cfg.Version,
		topic:     cfg.Topic,
		clock:     clk,
		startTime: clk.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		onTick:    cfg.OnTick,
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "router stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "router starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
			if h.onTick != nil && h.source != nil {
				h.onTick(h.source.Status())
			}
		}
	}
}

// determineStatus maps the engine state and MQTT link to a health status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source == nil {
		return HealthHealthy, ""
	}

	st := h.source.Status()
	switch st.State {
	case routing.StateRouting:
		return HealthHealthy, ""
	case routing.StateNeighborBusy:
		return HealthDegraded, "neighbour busy"
	case routing.StateFailure:
		reason := "routing failure"
		if st.LastError != nil {
			reason = st.LastError.Error()
		}
		return HealthUnhealthy, reason
	default:
		return HealthDegraded, "not routing"
	}
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	now := h.clock.Now()
	msg := HealthMessage{
		RouterID:      h.routerID,
		Timestamp:     now.UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.source != nil {
		st := h.source.Status()
		msg.State = st.State.String()
		msg.Statistics = NewStatistics(st.Stats)
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}
