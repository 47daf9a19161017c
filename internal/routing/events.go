package routing

import (
	"sync"

	"github.com/nerrad567/gray-logic-router/internal/knxnetip"
)

// Event is emitted by the Engine. Frames carried by events belong to the
// handler for the duration of the call only; copy them to keep them.
type Event interface {
	// EventName returns a stable snake_case name used in topics and logs.
	EventName() string
}

// IndicationReceived reports a received telegram and the routing decision.
type IndicationReceived struct {
	Frame  *knxnetip.RoutingIndication
	Action FilterAction
}

// BusyReceived reports a peer's busy signal.
type BusyReceived struct {
	Frame *knxnetip.RoutingBusy
}

// LostMessageReceived reports a peer's lost message count.
type LostMessageReceived struct {
	Frame *knxnetip.RoutingLostMessage
}

// SystemBroadcastReceived reports a received system broadcast.
type SystemBroadcastReceived struct {
	Frame *knxnetip.RoutingSystemBroadcast
}

// IndicationSent reports a transmitted routing indication.
type IndicationSent struct {
	Frame *knxnetip.RoutingIndication
}

// BusySent reports a transmitted busy frame, including self-generated ones.
type BusySent struct {
	Frame *knxnetip.RoutingBusy
}

// LostMessageSent reports a transmitted lost message frame.
type LostMessageSent struct {
	Frame *knxnetip.RoutingLostMessage
}

// SystemBroadcastSent reports a transmitted system broadcast.
type SystemBroadcastSent struct {
	Frame *knxnetip.RoutingSystemBroadcast
}

// StateChanged reports an operational state transition.
type StateChanged struct {
	State    OperationalState
	Previous OperationalState
}

// ErrorOccurred reports an engine error. The engine is in StateFailure.
type ErrorOccurred struct {
	Err *Error
}

func (IndicationReceived) EventName() string      { return "routing_indication_received" }
func (BusyReceived) EventName() string            { return "routing_busy_received" }
func (LostMessageReceived) EventName() string     { return "routing_lost_message_received" }
func (SystemBroadcastReceived) EventName() string { return "routing_system_broadcast_received" }
func (IndicationSent) EventName() string          { return "routing_indication_sent" }
func (BusySent) EventName() string                { return "routing_busy_sent" }
func (LostMessageSent) EventName() string         { return "routing_lost_message_sent" }
func (SystemBroadcastSent) EventName() string     { return "routing_system_broadcast_sent" }
func (StateChanged) EventName() string            { return "state_changed" }
func (ErrorOccurred) EventName() string           { return "error_occurred" }

// EventHandler receives engine events.
type EventHandler func(Event)

// subscribers is the set of registered handlers, called in registration order.
type subscribers struct {
	mu     sync.RWMutex
	nextID uint64
	ids    []uint64
	byID   map[uint64]EventHandler
	logger Logger
}

func newSubscribers(logger Logger) *subscribers {
	return &subscribers{byID: make(map[uint64]EventHandler), logger: logger}
}

func (s *subscribers) add(h EventHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.ids = append(s.ids, id)
	s.byID[id] = h

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byID, id)
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i:i], s.ids[i+1:]...)
			break
		}
	}
}

func (s *subscribers) snapshot() []EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EventHandler, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.byID[id])
	}
	return out
}

// deliver calls every handler for each event in order. A panicking handler
// is logged and does not stop delivery to the others.
func (s *subscribers) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	handlers := s.snapshot()
	for _, ev := range events {
		for _, h := range handlers {
			s.call(h, ev)
		}
	}
}

func (s *subscribers) call(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in routing event handler",
				"event", ev.EventName(),
				"panic", r,
			)
		}
	}()
	h(ev)
}
