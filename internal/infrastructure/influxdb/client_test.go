package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-router/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeWriter) last(t *testing.T) *write.Point {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.points) == 0 {
		t.Fatal("no points written")
	}
	return f.points[len(f.points)-1]
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := newClient(w, "router-7")
	c.now = func() time.Time { return fixedNow }
	return c, w
}

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false}, "r1")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}
	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1"}, "r1")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteStateChange(t *testing.T) {
	c, w := newTestClient()

	c.WriteStateChange("neighbor_busy", "routing")

	p := w.last(t)
	if p.Name() != MeasurementState {
		t.Errorf("measurement = %q", p.Name())
	}
	tg := tags(p)
	if tg["router_id"] != "router-7" || tg["state"] != "neighbor_busy" {
		t.Errorf("tags = %v", tg)
	}
	if fields(p)["previous"] != "routing" {
		t.Errorf("fields = %v", fields(p))
	}
	if !p.Time().Equal(fixedNow) {
		t.Errorf("time = %v, want %v", p.Time(), fixedNow)
	}
}

func TestWriteBusy(t *testing.T) {
	c, w := newTestClient()

	c.WriteBusy("received", 80*time.Millisecond, 3, "wait")

	p := w.last(t)
	if p.Name() != MeasurementBusy {
		t.Errorf("measurement = %q", p.Name())
	}
	if tg := tags(p); tg["direction"] != "received" || tg["stage"] != "wait" {
		t.Errorf("tags = %v", tg)
	}
	f := fields(p)
	if f["wait_ms"] != int64(80) || f["counter"] != int64(3) {
		t.Errorf("fields = %v", f)
	}
}

func TestWriteRoutingErrorAndFrame(t *testing.T) {
	c, w := newTestClient()

	c.WriteRoutingError("knx_routing", "malformed routing indication")
	if p := w.last(t); p.Name() != MeasurementError || tags(p)["kind"] != "knx_routing" {
		t.Errorf("error point = %s %v", p.Name(), tags(p))
	}

	c.WriteFrame("routing_indication", "route_decremented", 5)
	p := w.last(t)
	if tags(p)["action"] != "route_decremented" || fields(p)["hop_count"] != int64(5) {
		t.Errorf("frame point tags=%v fields=%v", tags(p), fields(p))
	}

	c.WriteFrame("routing_busy", "", 0)
	if _, ok := tags(w.last(t))["action"]; ok {
		t.Error("empty action should not become a tag")
	}
}

func TestWriteStats(t *testing.T) {
	c, w := newTestClient()

	c.WriteStats(nil)
	if len(w.points) != 0 {
		t.Fatal("empty stats should not write a point")
	}

	c.WriteStats(map[string]uint64{"frames_received": 10, "busy_episodes": 2})
	f := fields(w.last(t))
	if f["frames_received"] != uint64(10) || f["busy_episodes"] != uint64(2) {
		t.Errorf("fields = %v", f)
	}
}

func TestWritePointDoesNotMutateTags(t *testing.T) {
	c, w := newTestClient()
	in := map[string]string{"a": "b"}

	c.WritePoint("custom", in, map[string]any{"v": 1.5})

	if _, ok := in["router_id"]; ok {
		t.Error("caller's tag map was modified")
	}
	if tags(w.last(t))["router_id"] != "router-7" {
		t.Error("router_id tag missing")
	}
}

func TestCloseStopsWrites(t *testing.T) {
	c, w := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	c.WriteStateChange("stop", "routing")
	c.Flush()
	if len(w.points) != 0 || w.flushes != 1 {
		t.Error("writes or flushes after Close were not ignored")
	}

	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

func TestForwardErrors(t *testing.T) {
	c, _ := newTestClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("bucket not found")
	close(errs)
	c.forwardErrors(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
