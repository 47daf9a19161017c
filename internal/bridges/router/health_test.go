package router

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-router/internal/routing"
)

func newTestReporter(pub *MockMQTTClient, engine *fakeEngine, clk clock.Clock) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		RouterID:  "health-test",
		Version:   "2.0.0",
		Topic:     "knxrouter/health-test/health",
		Interval:  10 * time.Second,
		Clock:     clk,
		Publisher: pub,
		Source:    engine,
	})
}

func TestHealthReporterDefaultInterval(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{RouterID: "r1"})
	if hr.interval != 30*time.Second {
		t.Errorf("default interval = %v, want 30s", hr.interval)
	}
}

func TestHealthReporterPublishNow(t *testing.T) {
	pub := NewMockMQTTClient()
	engine := newFakeEngine()
	engine.status.Stats = routing.Stats{FramesReceived: 12, FramesSent: 3}

	clk := clock.NewMock()
	hr := newTestReporter(pub, engine, clk)
	clk.Add(90 * time.Second)

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	messages := pub.GetPublished()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Topic != "knxrouter/health-test/health" {
		t.Errorf("topic = %q", msg.Topic)
	}
	if msg.QoS != 1 || !msg.Retained {
		t.Errorf("qos=%d retained=%v, want 1/true", msg.QoS, msg.Retained)
	}

	var health HealthMessage
	if err := json.Unmarshal(msg.Payload, &health); err != nil {
		t.Fatalf("failed to unmarshal health message: %v", err)
	}
	if health.RouterID != "health-test" || health.Version != "2.0.0" {
		t.Errorf("health = %+v", health)
	}
	if health.Status != HealthHealthy || health.State != "routing" {
		t.Errorf("status = %q state = %q, want healthy/routing", health.Status, health.State)
	}
	if health.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds = %d, want 90", health.UptimeSeconds)
	}
	if health.Statistics == nil || health.Statistics.FramesReceived != 12 || health.Statistics.FramesSent != 3 {
		t.Errorf("Statistics = %+v", health.Statistics)
	}
}

func TestHealthReporterDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		state      routing.OperationalState
		lastErr    *routing.Error
		wantStatus HealthStatus
		wantReason string
	}{
		{"routing", true, routing.StateRouting, nil, HealthHealthy, ""},
		{"neighbour busy", true, routing.StateNeighborBusy, nil, HealthDegraded, "neighbour busy"},
		{"stopped", true, routing.StateStop, nil, HealthDegraded, "not routing"},
		{"not started", true, routing.StateNotInit, nil, HealthDegraded, "not routing"},
		{"failure without error", true, routing.StateFailure, nil, HealthUnhealthy, "routing failure"},
		{
			"failure with error", true, routing.StateFailure,
			&routing.Error{Kind: routing.ErrorNetwork, Message: "send failed"},
			HealthUnhealthy, "routing: network: send failed",
		},
		{"mqtt down", false, routing.StateRouting, nil, HealthDegraded, "MQTT disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.setConnected(tt.connected)
			engine := newFakeEngine()
			engine.setState(tt.state)
			engine.status.LastError = tt.lastErr

			hr := newTestReporter(pub, engine, clock.NewMock())
			status, reason := hr.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %q, %q; want %q, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterNilPublisher(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{RouterID: "r1"})
	if err := hr.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher = %v", err)
	}
}

func TestHealthReporterTicks(t *testing.T) {
	pub := NewMockMQTTClient()
	engine := newFakeEngine()
	clk := clock.NewMock()

	var ticks atomic.Int32
	hr := NewHealthReporter(HealthReporterConfig{
		RouterID:  "r1",
		Topic:     "knxrouter/r1/health",
		Interval:  10 * time.Second,
		Clock:     clk,
		Publisher: pub,
		Source:    engine,
		OnTick:    func(routing.Status) { ticks.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hr.Start(ctx)

	// The ticker is created on the report goroutine; keep advancing until
	// it has fired at least once.
	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() == 0 && time.Now().Before(deadline) {
		clk.Add(10 * time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	if ticks.Load() == 0 {
		t.Fatal("OnTick never called")
	}

	hr.Stop()
	hr.Stop()

	msgs := pub.GetPublished()
	if len(msgs) < 3 {
		t.Fatalf("published %d health messages, want initial, periodic and stopping", len(msgs))
	}
	var last HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last status = %q, want stopping", last.Status)
	}
}
