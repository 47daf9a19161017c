package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-router/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-router/internal/knxnetip"
	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// Bridge defaults.
const (
	defaultQueueSize  = 256
	defaultAlarmRate  = rate.Limit(1)
	defaultAlarmBurst = 5

	// persistTimeout bounds repository writes triggered by remote config.
	persistTimeout = 5 * time.Second
)

// Bridge connects the routing engine to the outside world:
//   - engine events are published as JSON over MQTT
//   - routing mode and filter table updates arrive on the config topic
//   - restart and send requests arrive on the command topic
//
// It also feeds Prometheus metrics and InfluxDB telemetry from the same
// event stream.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	routerID  string
	engine    Engine
	mqtt      MQTTClient
	topics    mqtt.Topics
	store     Store
	telemetry Telemetry
	metrics   *Metrics
	health    *HealthReporter
	clock     clock.Clock
	logger    Logger

	// alarms limits busy, lost message and error publications.
	alarms *rate.Limiter

	queue chan outbound

	unsubscribe func()

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// Engine is the part of *routing.Engine the bridge drives.
type Engine interface {
	Subscribe(h routing.EventHandler) func()
	Status() routing.Status
	FilterTable() routing.FilterTable
	Restart(ctx context.Context) error
	SetRoutingMode(mode routing.RoutingMode)
	SetFilterTable(table routing.FilterTable)
	SendRoutingIndication(f *knxnetip.RoutingIndication) error
	SendRoutingSystemBroadcast(f *knxnetip.RoutingSystemBroadcast) error
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests; *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Store persists settings changed at runtime. *routingstore.SQLiteRepository
// satisfies it.
type Store interface {
	SaveFilterTable(ctx context.Context, table routing.FilterTable) error
	SaveRoutingMode(ctx context.Context, mode routing.RoutingMode) error
}

// Telemetry receives time-series points. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteStateChange(state, previous string)
	WriteBusy(direction string, waitTime time.Duration, counter int, stage string)
	WriteRoutingError(kind, message string)
	WriteFrame(service, action string, hopCount int)
	WriteStats(counters map[string]uint64)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// RouterID names the router in topics and messages. Required.
	RouterID string

	// Version is reported in health messages.
	Version string

	// Engine is the routing engine. Required.
	Engine Engine

	// MQTT is optional; without it the bridge only feeds metrics and
	// telemetry.
	MQTT MQTTClient

	// Store persists remote config changes. Optional.
	Store Store

	// Telemetry receives InfluxDB points. Optional.
	Telemetry Telemetry

	// Metrics receives Prometheus updates. Optional.
	Metrics *Metrics

	// HealthInterval is the health and stats reporting period.
	HealthInterval time.Duration

	// AlarmRate and AlarmBurst limit alarm publications.
	// Defaults: one per second, burst of five.
	AlarmRate  rate.Limit
	AlarmBurst int

	// QueueSize bounds pending MQTT publications. Default 256.
	QueueSize int

	Clock  clock.Clock
	Logger Logger
}

// outbound is one queued MQTT publication.
type outbound struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.RouterID == "" {
		return nil, fmt.Errorf("router ID is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.AlarmRate == 0 {
		opts.AlarmRate = defaultAlarmRate
	}
	if opts.AlarmBurst <= 0 {
		opts.AlarmBurst = defaultAlarmBurst
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		routerID:  opts.RouterID,
		engine:    opts.Engine,
		mqtt:      opts.MQTT,
		topics:    mqtt.NewTopics(opts.RouterID),
		store:     opts.Store,
		telemetry: opts.Telemetry,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		logger:    opts.Logger,
		alarms:    rate.NewLimiter(opts.AlarmRate, opts.AlarmBurst),
		queue:     make(chan outbound, opts.QueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
	}

	hcfg := HealthReporterConfig{
		RouterID: opts.RouterID,
		Version:  opts.Version,
		Topic:    b.topics.Health(),
		Interval: opts.HealthInterval,
		Clock:    opts.Clock,
		Source:   opts.Engine,
		Logger:   opts.Logger,
		OnTick:   b.reportStats,
	}
	if opts.MQTT != nil {
		hcfg.Publisher = opts.MQTT
	}
	b.health = NewHealthReporter(hcfg)

	return b, nil
}

// Start subscribes to engine events and the MQTT control topics and begins
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.logger.Info("starting router bridge", "router_id", b.routerID)

	if b.mqtt != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logger.Warn("failed to publish starting status", "error", err)
		}
		if err := b.mqtt.Subscribe(b.topics.Config(), 1, b.handleConfigMessage); err != nil {
			return fmt.Errorf("subscribing to config topic: %w", err)
		}
		if err := b.mqtt.Subscribe(b.topics.Command(), 1, b.handleCommandMessage); err != nil {
			return fmt.Errorf("subscribing to command topic: %w", err)
		}

		b.wg.Add(1)
		go b.publishLoop()
	}

	b.unsubscribe = b.engine.Subscribe(b.handleEvent)
	b.publishState()
	b.health.Start(ctx)

	b.logger.Info("router bridge started",
		"state_topic", b.topics.State(),
		"config_topic", b.topics.Config(),
		"command_topic", b.topics.Command(),
	)
	return nil
}

// Stop stops health reporting, detaches from the engine and flushes queued
// publications. It does not stop the engine. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.logger.Info("stopping router bridge")

		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.health.Stop()
		b.ctxCancel()
		close(b.done)
		b.wg.Wait()

		b.logger.Info("router bridge stopped")
	})
}

// handleEvent runs on the engine's dispatch path. Frames are converted to
// messages before returning; publishing happens on publishLoop.
func (b *Bridge) handleEvent(ev routing.Event) {
	if b.metrics != nil {
		b.metrics.Observe(ev)
	}
	b.recordTelemetry(ev)

	if _, ok := ev.(routing.StateChanged); ok {
		b.publishState()
	}

	if b.mqtt == nil {
		return
	}

	qos := byte(0)
	if isAlarm(ev) {
		if !b.alarms.AllowN(b.clock.Now(), 1) {
			if b.metrics != nil {
				b.metrics.AlarmSuppressed(ev.EventName())
			}
			return
		}
		qos = 1
	}

	msg := NewEventMessage(b.routerID, ev, b.clock.Now())
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal event", "event", ev.EventName(), "error", err)
		return
	}
	b.enqueue(outbound{topic: b.topics.Event(ev.EventName()), payload: payload, qos: qos})
}

// isAlarm reports whether ev is rate limited.
func isAlarm(ev routing.Event) bool {
	switch ev.(type) {
	case routing.BusyReceived, routing.LostMessageReceived, routing.ErrorOccurred:
		return true
	}
	return false
}

func (b *Bridge) recordTelemetry(ev routing.Event) {
	if b.telemetry == nil {
		return
	}

	switch e := ev.(type) {
	case routing.StateChanged:
		b.telemetry.WriteStateChange(e.State.String(), e.Previous.String())
	case routing.BusyReceived:
		st := b.engine.Status()
		b.telemetry.WriteBusy("received", e.Frame.WaitTime, st.BusyCounter, st.BusyStage.String())
	case routing.BusySent:
		st := b.engine.Status()
		b.telemetry.WriteBusy("sent", e.Frame.WaitTime, st.BusyCounter, st.BusyStage.String())
	case routing.ErrorOccurred:
		if e.Err != nil {
			b.telemetry.WriteRoutingError(e.Err.Kind.String(), e.Err.Message)
		}
	case routing.IndicationReceived:
		b.telemetry.WriteFrame(knxnetip.ServiceRoutingIndication.String(), e.Action.String(), int(e.Frame.CEMI.HopCount))
	case routing.IndicationSent:
		b.telemetry.WriteFrame(knxnetip.ServiceRoutingIndication.String(), "sent", int(e.Frame.CEMI.HopCount))
	}
}

// reportStats runs on every health tick.
func (b *Bridge) reportStats(st routing.Status) {
	if b.metrics != nil {
		b.metrics.SetStatus(st)
	}
	if b.telemetry != nil {
		b.telemetry.WriteStats(StatsCounters(st.Stats))
	}
}

// publishState queues the retained state message and refreshes gauges.
func (b *Bridge) publishState() {
	st := b.engine.Status()
	if b.metrics != nil {
		b.metrics.SetStatus(st)
	}
	if b.mqtt == nil {
		return
	}

	payload, err := json.Marshal(NewStateMessage(b.routerID, st, b.clock.Now()))
	if err != nil {
		b.logger.Error("failed to marshal state", "error", err)
		return
	}
	b.enqueue(outbound{topic: b.topics.State(), payload: payload, qos: 1, retained: true})
}

func (b *Bridge) publishAck(ack AckMessage) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	b.enqueue(outbound{topic: b.topics.Response(), payload: payload, qos: 1})
}

// enqueue never blocks; a full queue drops the message.
func (b *Bridge) enqueue(msg outbound) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queue <- msg:
	default:
		if b.metrics != nil {
			b.metrics.MessageDropped()
		}
		b.logger.Debug("publish queue full, dropping message", "topic", msg.topic)
	}
}

// publishLoop drains the queue until Stop, then flushes what is left.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case msg := <-b.queue:
			b.publish(msg)
		case <-b.done:
			for {
				select {
				case msg := <-b.queue:
					b.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(msg outbound) {
	if err := b.mqtt.Publish(msg.topic, msg.payload, msg.qos, msg.retained); err != nil {
		b.logger.Debug("failed to publish", "topic", msg.topic, "error", err)
	}
}

// Status returns the engine status.
func (b *Bridge) Status() routing.Status {
	return b.engine.Status()
}

// FilterTable returns the engine's filter table.
func (b *Bridge) FilterTable() routing.FilterTable {
	return b.engine.FilterTable()
}

// ApplyRoutingMode sets the engine's routing mode, persists it and publishes
// the new state.
func (b *Bridge) ApplyRoutingMode(ctx context.Context, mode routing.RoutingMode) error {
	b.engine.SetRoutingMode(mode)
	b.logger.Info("routing mode changed", "mode", mode.String())
	defer b.publishState()

	if b.store == nil {
		return nil
	}
	if err := b.store.SaveRoutingMode(ctx, mode); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

// ApplyFilterTable replaces the engine's filter table, persists it and
// publishes the new state.
func (b *Bridge) ApplyFilterTable(ctx context.Context, table routing.FilterTable) error {
	b.engine.SetFilterTable(table)
	b.logger.Info("filter table replaced", "entries", table.Len())
	defer b.publishState()

	if b.store == nil {
		return nil
	}
	if err := b.store.SaveFilterTable(ctx, table); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

// Restart restarts the engine.
func (b *Bridge) Restart(ctx context.Context) error {
	b.logger.Info("restarting routing engine")
	return b.engine.Restart(ctx)
}

// handleConfigMessage applies a ConfigMessage. All fields are validated
// before any is applied.
func (b *Bridge) handleConfigMessage(_ string, payload []byte) error {
	var msg ConfigMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishAck(NewAckError("", "config", ErrCodeInvalidPayload, err.Error(), b.clock.Now()))
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var (
		mode  routing.RoutingMode
		table routing.FilterTable
	)
	if msg.RoutingMode != nil {
		m, err := routing.ParseRoutingMode(*msg.RoutingMode)
		if err != nil {
			b.publishAck(NewAckError(msg.ID, "config", ErrCodeInvalidParameters, err.Error(), b.clock.Now()))
			return err
		}
		mode = m
	}
	if msg.FilterTable != nil {
		t, err := ParseFilterTable(*msg.FilterTable)
		if err != nil {
			b.publishAck(NewAckError(msg.ID, "config", ErrCodeInvalidParameters, err.Error(), b.clock.Now()))
			return err
		}
		table = t
	}

	ctx, cancel := context.WithTimeout(b.ctx, persistTimeout)
	defer cancel()

	var errs []error
	if msg.RoutingMode != nil {
		errs = append(errs, b.ApplyRoutingMode(ctx, mode))
	}
	if msg.FilterTable != nil {
		errs = append(errs, b.ApplyFilterTable(ctx, table))
	}

	if err := errors.Join(errs...); err != nil {
		b.publishAck(NewAckError(msg.ID, "config", ErrCodePersistFailed, err.Error(), b.clock.Now()))
		return err
	}
	b.publishAck(NewAck(msg.ID, "config", b.clock.Now()))
	return nil
}

// handleCommandMessage executes a CommandMessage and acknowledges it.
func (b *Bridge) handleCommandMessage(_ string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(NewAckError("", "command", ErrCodeInvalidPayload, err.Error(), b.clock.Now()))
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	code, err := b.executeCommand(cmd)
	if err != nil {
		b.publishAck(NewAckError(cmd.ID, cmd.Command, code, err.Error(), b.clock.Now()))
		return err
	}
	b.publishAck(NewAck(cmd.ID, cmd.Command, b.clock.Now()))
	return nil
}

// executeCommand returns an error code alongside any failure.
func (b *Bridge) executeCommand(cmd CommandMessage) (string, error) {
	switch cmd.Command {
	case CommandRestart:
		if err := b.Restart(b.ctx); err != nil {
			return ErrCodeRestartFailed, err
		}
		return "", nil

	case CommandSendIndication:
		ldata, err := ldataParameter(cmd.Parameters)
		if err != nil {
			return ErrCodeInvalidParameters, err
		}
		if err := b.engine.SendRoutingIndication(knxnetip.NewRoutingIndication(ldata)); err != nil {
			return ErrCodeSendFailed, err
		}
		return "", nil

	case CommandSendSystemBroadcast:
		ldata, err := ldataParameter(cmd.Parameters)
		if err != nil {
			return ErrCodeInvalidParameters, err
		}
		if err := b.engine.SendRoutingSystemBroadcast(knxnetip.NewRoutingSystemBroadcast(ldata)); err != nil {
			return ErrCodeSendFailed, err
		}
		return "", nil

	default:
		return ErrCodeInvalidCommand, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}
