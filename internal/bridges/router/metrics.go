package router

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-router/internal/routing"
)

const metricsNamespace = "knxrouter"

// Metrics exports engine activity to Prometheus.
//
// Counters are updated from the event handler; gauges are refreshed from a
// status snapshot on every state change and health tick.
type Metrics struct {
	events      *prometheus.CounterVec
	actions     *prometheus.CounterVec
	suppressed  *prometheus.CounterVec
	dropped     prometheus.Counter
	state       *prometheus.GaugeVec
	busyCounter prometheus.Gauge
	busyStage   prometheus.Gauge
	tableSize   prometheus.Gauge
}

var allStates = []routing.OperationalState{
	routing.StateNotInit,
	routing.StateRouting,
	routing.StateNeighborBusy,
	routing.StateStop,
	routing.StateFailure,
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Engine events by name.",
		}, []string{"event"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "filter",
			Name:      "decisions_total",
			Help:      "Filter decisions for received routing indications.",
		}, []string{"action"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bridge",
			Name:      "alarms_suppressed_total",
			Help:      "Alarm messages not published because of rate limiting.",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bridge",
			Name:      "messages_dropped_total",
			Help:      "Event messages dropped because the publish queue was full.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "state",
			Help:      "Current operational state (1 for the active state label, 0 for others).",
		}, []string{"state"}),
		busyCounter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "busy",
			Name:      "counter",
			Help:      "Busy frames received within the current episode.",
		}),
		busyStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "busy",
			Name:      "stage",
			Help:      "Busy flow control stage (0 not_init, 1 wait, 2 random_wait, 3 slow_duration, 4 decrement_busy_counter).",
		}),
		tableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "filter",
			Name:      "table_size",
			Help:      "Number of top-level group addresses in the filter table.",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("registering router metrics: %w", err)
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.events, m.actions, m.suppressed, m.dropped,
		m.state, m.busyCounter, m.busyStage, m.tableSize,
	}
}

// Observe counts one engine event.
func (m *Metrics) Observe(ev routing.Event) {
	m.events.WithLabelValues(ev.EventName()).Inc()
	if ind, ok := ev.(routing.IndicationReceived); ok {
		m.actions.WithLabelValues(ind.Action.String()).Inc()
	}
}

// SetStatus refreshes the gauges from a status snapshot.
func (m *Metrics) SetStatus(st routing.Status) {
	for _, s := range allStates {
		v := 0.0
		if s == st.State {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
	m.busyCounter.Set(float64(st.BusyCounter))
	m.busyStage.Set(float64(st.BusyStage))
	m.tableSize.Set(float64(st.FilterTableSize))
}

// AlarmSuppressed counts an alarm dropped by the rate limiter.
func (m *Metrics) AlarmSuppressed(event string) {
	m.suppressed.WithLabelValues(event).Inc()
}

// MessageDropped counts an event dropped on a full publish queue.
func (m *Metrics) MessageDropped() {
	m.dropped.Inc()
}
