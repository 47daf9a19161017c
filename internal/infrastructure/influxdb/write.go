package influxdb

import (
	"maps"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the router.
const (
	MeasurementState  = "router_state"
	MeasurementBusy   = "router_busy"
	MeasurementError  = "router_error"
	MeasurementStats  = "router_stats"
	MeasurementFrames = "router_frames"
)

// WriteStateChange records an operational state transition.
func (c *Client) WriteStateChange(state, previous string) {
	c.WritePoint(MeasurementState,
		map[string]string{"state": state},
		map[string]any{"previous": previous, "value": 1},
	)
}

// WriteBusy records a busy signal. direction is "received" or "sent";
// counter is the busy counter after the signal was handled.
func (c *Client) WriteBusy(direction string, waitTime time.Duration, counter int, stage string) {
	c.WritePoint(MeasurementBusy,
		map[string]string{"direction": direction, "stage": stage},
		map[string]any{
			"wait_ms": waitTime.Milliseconds(),
			"counter": counter,
		},
	)
}

// WriteRoutingError records an engine error.
func (c *Client) WriteRoutingError(kind, message string) {
	c.WritePoint(MeasurementError,
		map[string]string{"kind": kind},
		map[string]any{"message": message, "value": 1},
	)
}

// WriteFrame records one routed or discarded frame. Only low-cardinality
// values (service and filter action) become tags.
func (c *Client) WriteFrame(service, action string, hopCount int) {
	tags := map[string]string{"service": service}
	if action != "" {
		tags["action"] = action
	}
	c.WritePoint(MeasurementFrames, tags, map[string]any{"hop_count": hopCount})
}

// WriteStats records a snapshot of the engine counters.
func (c *Client) WriteStats(counters map[string]uint64) {
	if len(counters) == 0 {
		return
	}
	fields := make(map[string]any, len(counters))
	for k, v := range counters {
		fields[k] = v
	}
	c.WritePoint(MeasurementStats, nil, fields)
}

// WritePoint writes a custom point stamped with the current time.
// The router_id tag is always added.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || c.writer == nil {
		return
	}

	allTags := make(map[string]string, len(tags)+1)
	maps.Copy(allTags, tags)
	allTags["router_id"] = c.routerID

	c.writer.WritePoint(write.NewPoint(measurement, allTags, fields, ts))
}
