// Package routing implements a KNXnet/IP multicast router.
//
// The Engine relays KNX telegrams between network segments over an IP
// multicast group. It owns the router's operational state, decides for each
// received telegram whether it is routed onward, consumed locally or dropped
// (FilterActionFor), and throttles itself when the multicast group is
// congested (BusyFlowController).
//
// # Architecture
//
//	             ┌──────────────────────────────────────┐
//	 multicast   │ Engine                               │   Subscribe()
//	 224.0.23.12 │  ┌───────────┐   ┌────────────────┐  │  ┌───────────┐
//	◄───────────►│  │ Transport │──►│ receive loop   │──┼─►│ handlers  │
//	             │  └───────────┘   │ (drain, filter)│  │  └───────────┘
//	             │                  └───────┬────────┘  │
//	             │                  ┌───────▼────────┐  │
//	             │                  │ busy control   │  │
//	             │                  │ (Timer)        │  │
//	             │                  └────────────────┘  │
//	             └──────────────────────────────────────┘
//
// # Operational States
//
//	NotInit ──Start──► Routing ◄──busy decay── NeighborBusy
//	   │                  │                        ▲
//	   │                  └──────busy frame────────┘
//	   └──Start fails──► Failure ◄── any error
//	any ──Stop──► Stop ──Start──► Routing
//
// # Busy Flow Control
//
// A ROUTING_BUSY frame (received, or generated locally when a drain cycle
// overflows) moves the controller through Wait, RandomWait, SlowDuration and
// DecrementBusyCounter. The stage machine is the pure function
// NextBusyTransition; the controller only applies its results to a Timer.
//
// # Thread Safety
//
// All Engine methods are safe for concurrent use. State is guarded by a
// single mutex and mutated by one goroutine at a time. Event handlers run
// after the mutex is released and may call back into the Engine.
package routing
