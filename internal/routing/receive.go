package routing

import (
	"net"
	"time"

	"github.com/nerrad567/gray-logic-router/internal/knx"
	"github.com/nerrad567/gray-logic-router/internal/knxnetip"
)

// Overload limits per drain cycle.
const (
	maxFramesPerCycle       = 10
	maxRepeatedDestinations = 5
)

// overloadCounters are reset at the start of every drain cycle.
type overloadCounters struct {
	framesRead      int
	lastDestination knx.Address
	repeated        int
}

func (c *overloadCounters) overloaded() bool {
	return c.framesRead >= maxFramesPerCycle || c.repeated >= maxRepeatedDestinations
}

// track records an indication destination. Repeats of the same individual
// destination count towards the overload limit.
func (c *overloadCounters) track(dst knx.Address) {
	if dst.IsIndividual() && c.lastDestination.IsSet() && dst == c.lastDestination {
		c.repeated++
		return
	}
	c.repeated = 0
	c.lastDestination = dst
}

// drain processes every pending datagram of t. Caller holds e.mu.
func (e *Engine) drain(t Transport) {
	e.counters = overloadCounters{}

	for {
		dg, ok := t.Next()
		if !ok {
			break
		}

		if !e.state.IsRunning() {
			e.stats.discardedInactive.Add(1)
			continue
		}
		if e.isOwnDatagram(dg.Source) {
			e.stats.discardedOwn.Add(1)
			continue
		}
		if e.counters.overloaded() {
			e.stats.discardedOverload.Add(1)
			continue
		}

		frame, err := knxnetip.Decode(dg.Data)
		if err != nil {
			e.stats.discardedMalformed.Add(1)
			e.logger.Debug("discarding malformed datagram",
				"source", dg.Source.String(),
				"size", len(dg.Data),
				"error", err,
			)
			continue
		}

		e.counters.framesRead++
		e.stats.framesReceived.Add(1)
		e.stats.lastActivity.Store(e.clock.Now().UnixNano())
		e.processFrame(frame)
	}

	if e.counters.overloaded() && e.state.IsRunning() {
		e.signalOverload(t)
	}
}

func (e *Engine) isOwnDatagram(src *net.UDPAddr) bool {
	if src == nil || e.local == nil {
		return false
	}
	return src.Port == e.local.Port && src.IP.Equal(e.local.IP)
}

// processFrame dispatches one decoded frame by service type.
func (e *Engine) processFrame(frame knxnetip.Frame) {
	switch f := frame.(type) {
	case *knxnetip.RoutingIndication:
		if err := f.Validate(); err != nil {
			e.raise(ErrorKnxRouting, "received invalid routing indication", err)
			return
		}
		e.counters.track(f.CEMI.Destination)
		action := FilterActionFor(f.CEMI.Destination, f.CEMI.HopCount, e.own, e.mode, e.table)
		e.emit(IndicationReceived{Frame: f, Action: action})

	case *knxnetip.RoutingBusy:
		if err := f.Validate(); err != nil {
			e.logger.Debug("dropping invalid routing busy frame", "error", err)
			return
		}
		e.emit(BusyReceived{Frame: f})
		e.flowControl(f.WaitTime)

	case *knxnetip.RoutingLostMessage:
		if err := f.Validate(); err != nil {
			e.raise(ErrorKnxRouting, "received invalid routing lost message", err)
			return
		}
		e.emit(LostMessageReceived{Frame: f})

	case *knxnetip.RoutingSystemBroadcast:
		if err := f.Validate(); err != nil {
			e.raise(ErrorKnxRouting, "received invalid routing system broadcast", err)
			return
		}
		e.emit(SystemBroadcastReceived{Frame: f})
	}
}

// signalOverload tells the group this router is congested and throttles
// itself with the same wait time. The frame bypasses the Routing-only gate
// of the Send methods so it also goes out while NeighborBusy.
func (e *Engine) signalOverload(t Transport) {
	busy := knxnetip.NewRoutingBusy(knxnetip.DeviceStateKNXFault, e.busyWait, 0)
	data, err := busy.Encode()
	if err != nil {
		e.logger.Error("encoding routing busy frame", "error", err)
		return
	}

	e.logger.Warn("receive overload, signalling busy",
		"frames_read", e.counters.framesRead,
		"repeated_destination", e.counters.repeated,
		"wait_time", e.busyWait,
	)

	if !t.Send(data, e.group, e.port) {
		e.stats.sendFailures.Add(1)
		e.raise(ErrorNetwork, "sending routing busy frame failed", nil)
		return
	}
	e.stats.framesSent.Add(1)
	e.stats.busySignalled.Add(1)
	e.emit(BusySent{Frame: busy})
	e.flowControl(e.busyWait)
}

// flowControl feeds a busy signal into the controller and enters
// NeighborBusy.
func (e *Engine) flowControl(wait time.Duration) {
	if e.busy.Stage() != BusyStageWait {
		e.stats.busyEpisodes.Add(1)
	}
	e.busy.Handle(wait)
	if e.state == StateRouting {
		e.setState(StateNeighborBusy)
	}
}
