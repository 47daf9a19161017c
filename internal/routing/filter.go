package routing

import (
	"sort"

	"github.com/nerrad567/gray-logic-router/internal/knx"
)

// FilterTable is a set of group addresses allowed through in Filter mode.
//
// Entries are matched at main/middle granularity: a telegram to 1/2/3 is
// routed when the table holds 1/2/0. A FilterTable is treated as immutable
// once handed to the Engine.
type FilterTable struct {
	entries map[knx.GroupAddress]struct{}
}

// NewFilterTable builds a table from the given addresses. Duplicates
// collapse into one entry.
func NewFilterTable(addrs ...knx.GroupAddress) FilterTable {
	t := FilterTable{entries: make(map[knx.GroupAddress]struct{}, len(addrs))}
	for _, ga := range addrs {
		t.entries[ga] = struct{}{}
	}
	return t
}

// Contains reports whether ga is an entry of the table.
func (t FilterTable) Contains(ga knx.GroupAddress) bool {
	_, ok := t.entries[ga]
	return ok
}

// Len returns the number of entries.
func (t FilterTable) Len() int {
	return len(t.entries)
}

// Addresses returns the entries in ascending numeric order.
func (t FilterTable) Addresses() []knx.GroupAddress {
	out := make([]knx.GroupAddress, 0, len(t.entries))
	for ga := range t.entries {
		out = append(out, ga)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToUint16() < out[j].ToUint16() })
	return out
}

// hopCountRoutable is true when a telegram may travel one more hop.
func hopCountRoutable(hopCount uint8) bool {
	return hopCount >= 1 && hopCount <= 7
}

// routeOrAck returns RouteDecremented while hops remain, IgnoreAcked otherwise.
func routeOrAck(hopCount uint8) FilterAction {
	if hopCountRoutable(hopCount) {
		return ActionRouteDecremented
	}
	return ActionIgnoreAcked
}

// FilterActionFor decides what the router does with a telegram.
//
// It encodes the KNX coupling topology: group telegrams are governed by the
// routing mode and filter table, individually addressed telegrams by the
// position of the router's own address (line coupler or area/backbone
// coupler). The function has no side effects.
//
// Parameters:
//   - dst: Telegram destination (group or individual)
//   - hopCount: Routing counter from control field 2
//   - own: Router's own individual address; an unset address drops all
//     individually addressed traffic
//   - mode: Active routing mode
//   - table: Filter table consulted in RoutingModeFilter
//
// Returns:
//   - FilterAction: Forwarding decision
func FilterActionFor(dst knx.Address, hopCount uint8, own knx.Address, mode RoutingMode, table FilterTable) FilterAction {
	switch dst.Type {
	case knx.AddressTypeGroup:
		return groupFilterAction(dst.Group(), hopCount, mode, table)
	case knx.AddressTypeIndividual:
		if !own.IsIndividual() || !own.Individual().IsValid() {
			return ActionIgnoreTotally
		}
		return individualFilterAction(dst.Individual(), hopCount, own.Individual())
	default:
		return ActionIgnoreTotally
	}
}

func groupFilterAction(dst knx.GroupAddress, hopCount uint8, mode RoutingMode, table FilterTable) FilterAction {
	if mode == RoutingModeBlock {
		return ActionIgnoreTotally
	}

	routingCondition := true
	if mode == RoutingModeFilter {
		routingCondition = table.Contains(dst.TopLevel())
	}

	switch {
	case routingCondition && hopCountRoutable(hopCount):
		return ActionRouteDecremented
	case routingCondition && hopCount == 0:
		return ActionIgnoreAcked
	default:
		return ActionIgnoreTotally
	}
}

func individualFilterAction(dst knx.IndividualAddress, hopCount uint8, own knx.IndividualAddress) FilterAction {
	if own.IsLineCoupler() {
		// TODO: "line equals own line" reads inverted for a line coupler;
		// confirm against KNX 03_05_01 before changing which telegrams pass.
		notInOwnSubnetwork := dst.Area != own.Area || dst.Line == own.Line
		if !notInOwnSubnetwork {
			return ActionIgnoreTotally
		}
		if dst.Device == 0 {
			return ActionForwardLocally
		}
		return routeOrAck(hopCount)
	}

	// Area coupler or backbone router.
	if dst.Area == own.Area {
		if dst.Line == 0 && dst.Device == 0 {
			return ActionForwardLocally
		}
		return routeOrAck(hopCount)
	}
	return routeOrAck(hopCount)
}
