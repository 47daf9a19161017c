package routing

import (
	"fmt"
	"strings"
)

// OperationalState is the router's lifecycle state.
type OperationalState int

// Operational states.
const (
	StateNotInit OperationalState = iota
	StateRouting
	StateNeighborBusy
	StateStop
	StateFailure
)

// String returns the snake_case state name.
func (s OperationalState) String() string {
	switch s {
	case StateNotInit:
		return "not_init"
	case StateRouting:
		return "routing"
	case StateNeighborBusy:
		return "neighbor_busy"
	case StateStop:
		return "stop"
	case StateFailure:
		return "failure"
	default:
		return fmt.Sprintf("state_%d", int(s))
	}
}

// IsRunning reports whether the transport is bound and frames are processed.
func (s OperationalState) IsRunning() bool {
	return s == StateRouting || s == StateNeighborBusy
}

// RoutingMode selects how group telegrams are forwarded.
type RoutingMode int

// Routing modes. Filter is the zero value.
const (
	RoutingModeFilter RoutingMode = iota
	RoutingModeRouteAll
	RoutingModeBlock
)

// String returns the snake_case mode name.
func (m RoutingMode) String() string {
	switch m {
	case RoutingModeFilter:
		return "filter"
	case RoutingModeRouteAll:
		return "route_all"
	case RoutingModeBlock:
		return "block"
	default:
		return fmt.Sprintf("mode_%d", int(m))
	}
}

// ParseRoutingMode parses "filter", "route_all" or "block".
func ParseRoutingMode(s string) (RoutingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "filter":
		return RoutingModeFilter, nil
	case "route_all", "routeall":
		return RoutingModeRouteAll, nil
	case "block":
		return RoutingModeBlock, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRoutingMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m RoutingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *RoutingMode) UnmarshalText(text []byte) error {
	parsed, err := ParseRoutingMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// FilterAction is the forwarding decision for a received telegram.
type FilterAction int

// Filter actions.
const (
	// ActionRouteDecremented forwards the telegram with hop count - 1.
	ActionRouteDecremented FilterAction = iota
	// ActionRouteLast forwards with hop count 0. Never produced by
	// FilterActionFor; kept for consumers that map actions onto wire behaviour.
	ActionRouteLast
	// ActionForwardLocally delivers the telegram to the router itself.
	ActionForwardLocally
	// ActionIgnoreTotally drops the telegram.
	ActionIgnoreTotally
	// ActionIgnoreAcked drops the telegram but acknowledges it.
	ActionIgnoreAcked
)

// String returns the snake_case action name.
func (a FilterAction) String() string {
	switch a {
	case ActionRouteDecremented:
		return "route_decremented"
	case ActionRouteLast:
		return "route_last"
	case ActionForwardLocally:
		return "forward_locally"
	case ActionIgnoreTotally:
		return "ignore_totally"
	case ActionIgnoreAcked:
		return "ignore_acked"
	default:
		return fmt.Sprintf("action_%d", int(a))
	}
}

// BusyStage is the flow control stage.
type BusyStage int

// Busy stages.
const (
	BusyStageNotInit BusyStage = iota
	BusyStageWait
	BusyStageRandomWait
	BusyStageSlowDuration
	BusyStageDecrementBusyCounter
)

// String returns the snake_case stage name.
func (b BusyStage) String() string {
	switch b {
	case BusyStageNotInit:
		return "not_init"
	case BusyStageWait:
		return "wait"
	case BusyStageRandomWait:
		return "random_wait"
	case BusyStageSlowDuration:
		return "slow_duration"
	case BusyStageDecrementBusyCounter:
		return "decrement_busy_counter"
	default:
		return fmt.Sprintf("stage_%d", int(b))
	}
}
