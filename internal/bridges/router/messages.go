package router

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-router/internal/knxnetip"
	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// EventMessage is published for every engine event.
// Topic: knxrouter/{id}/event/{event}
// QoS: 0 for frames, 1 for alarms; not retained.
type EventMessage struct {
	// ID uniquely identifies this message.
	ID string `json:"id"`

	RouterID  string    `json:"router_id"`
	Timestamp time.Time `json:"timestamp"`

	// Event is the engine event name, e.g. "routing_busy_received".
	Event string `json:"event"`

	Frame *FrameInfo `json:"frame,omitempty"`

	// State and Previous are set for state_changed.
	State    string `json:"state,omitempty"`
	Previous string `json:"previous,omitempty"`

	Error *ErrorInfo `json:"error,omitempty"`
}

// FrameInfo describes the frame carried by a received or sent event.
type FrameInfo struct {
	Service string `json:"service"`

	// cEMI fields, set for indications and system broadcasts.
	Source          string `json:"source,omitempty"`
	Destination     string `json:"destination,omitempty"`
	DestinationType string `json:"destination_type,omitempty"`
	HopCount        *uint8 `json:"hop_count,omitempty"`
	CEMI            string `json:"cemi,omitempty"`

	// Action is the filter decision for received indications.
	Action string `json:"action,omitempty"`

	// Busy and lost message fields.
	DeviceState  *uint8 `json:"device_state,omitempty"`
	WaitTimeMS   int64  `json:"wait_time_ms,omitempty"`
	ControlField uint16 `json:"control_field,omitempty"`
	LostCount    uint16 `json:"lost_count,omitempty"`
}

// ErrorInfo describes an engine error.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// StateMessage is the retained router state.
// Topic: knxrouter/{id}/state
// QoS: 1, Retained: Yes
type StateMessage struct {
	RouterID          string     `json:"router_id"`
	Timestamp         time.Time  `json:"timestamp"`
	State             string     `json:"state"`
	RoutingMode       string     `json:"routing_mode"`
	IndividualAddress string     `json:"individual_address,omitempty"`
	MulticastAddress  string     `json:"multicast_address"`
	Interface         string     `json:"interface,omitempty"`
	LocalAddress      string     `json:"local_address,omitempty"`
	BusyStage         string     `json:"busy_stage"`
	BusyCounter       int        `json:"busy_counter"`
	FilterTableSize   int        `json:"filter_table_size"`
	LastError         *ErrorInfo `json:"last_error,omitempty"`
}

// HealthStatus represents the operational status of the router.
type HealthStatus string

const (
	// HealthHealthy indicates the engine is routing normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates routing with issues (busy peer, MQTT down,
	// engine stopped).
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the engine is in failure.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports operational status.
// Topic: knxrouter/{id}/health
// QoS: 1, Retained: Yes
// Interval: router.health_interval (default 30 seconds)
type HealthMessage struct {
	RouterID      string       `json:"router_id"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	State         string       `json:"state"`
	Statistics    *Statistics  `json:"statistics,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// Statistics mirrors routing.Stats for JSON output.
type Statistics struct {
	FramesReceived     uint64     `json:"frames_received"`
	FramesSent         uint64     `json:"frames_sent"`
	DiscardedOwn       uint64     `json:"discarded_own"`
	DiscardedOverload  uint64     `json:"discarded_overload"`
	DiscardedMalformed uint64     `json:"discarded_malformed"`
	DiscardedInactive  uint64     `json:"discarded_inactive"`
	BusySignalled      uint64     `json:"busy_signalled"`
	BusyEpisodes       uint64     `json:"busy_episodes"`
	SendFailures       uint64     `json:"send_failures"`
	LastActivity       *time.Time `json:"last_activity,omitempty"`
}

// CommandMessage asks the router to act.
// Topic: knxrouter/{id}/command
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Command is one of "restart", "send_indication" or
	// "send_system_broadcast".
	Command string `json:"command"`

	// Parameters holds command arguments. The send commands take
	// {"cemi": "<hex L_Data.ind>"}.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Supported commands.
const (
	CommandRestart             = "restart"
	CommandSendIndication      = "send_indication"
	CommandSendSystemBroadcast = "send_system_broadcast"
)

// ConfigMessage updates routing settings. Absent fields are left unchanged;
// an empty filter_table clears the table.
// Topic: knxrouter/{id}/config
type ConfigMessage struct {
	ID          string    `json:"id,omitempty"`
	RoutingMode *string   `json:"routing_mode,omitempty"`
	FilterTable *[]string `json:"filter_table,omitempty"`
}

// AckStatus represents the acknowledgement status of a command or config
// update.
type AckStatus string

const (
	// AckAccepted indicates the request was applied.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the request could not be applied.
	AckFailed AckStatus = "failed"
)

// AckMessage answers a command or config update.
// Topic: knxrouter/{id}/response
type AckMessage struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Request   string    `json:"request"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed requests.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed requests.
const (
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeSendFailed        = "SEND_FAILED"
	ErrCodeRestartFailed     = "RESTART_FAILED"
	ErrCodePersistFailed     = "PERSIST_FAILED"
)

// newMessageID returns a random message identifier.
func newMessageID() string {
	return uuid.NewString()
}

// NewEventMessage converts an engine event. Frames are copied into the
// message, so it is safe to keep after the handler returns.
func NewEventMessage(routerID string, ev routing.Event, now time.Time) EventMessage {
	msg := EventMessage{
		ID:        newMessageID(),
		RouterID:  routerID,
		Timestamp: now.UTC(),
		Event:     ev.EventName(),
	}

	switch e := ev.(type) {
	case routing.IndicationReceived:
		msg.Frame = ldataInfo(knxnetip.ServiceRoutingIndication, e.Frame.CEMI)
		msg.Frame.Action = e.Action.String()
	case routing.IndicationSent:
		msg.Frame = ldataInfo(knxnetip.ServiceRoutingIndication, e.Frame.CEMI)
	case routing.SystemBroadcastReceived:
		msg.Frame = ldataInfo(knxnetip.ServiceRoutingSystemBroadcast, e.Frame.CEMI)
	case routing.SystemBroadcastSent:
		msg.Frame = ldataInfo(knxnetip.ServiceRoutingSystemBroadcast, e.Frame.CEMI)
	case routing.BusyReceived:
		msg.Frame = busyInfo(e.Frame)
	case routing.BusySent:
		msg.Frame = busyInfo(e.Frame)
	case routing.LostMessageReceived:
		msg.Frame = lostInfo(e.Frame)
	case routing.LostMessageSent:
		msg.Frame = lostInfo(e.Frame)
	case routing.StateChanged:
		msg.State = e.State.String()
		msg.Previous = e.Previous.String()
	case routing.ErrorOccurred:
		msg.Error = errorInfo(e.Err)
	}
	return msg
}

func ldataInfo(service knxnetip.ServiceType, l knxnetip.LData) *FrameInfo {
	hops := l.HopCount
	info := &FrameInfo{
		Service:         service.String(),
		Source:          l.Source.String(),
		Destination:     l.Destination.String(),
		DestinationType: l.Destination.Type.String(),
		HopCount:        &hops,
	}
	if raw, err := l.Encode(); err == nil {
		info.CEMI = hex.EncodeToString(raw)
	}
	return info
}

func busyInfo(f *knxnetip.RoutingBusy) *FrameInfo {
	state := uint8(f.DeviceState)
	return &FrameInfo{
		Service:      knxnetip.ServiceRoutingBusy.String(),
		DeviceState:  &state,
		WaitTimeMS:   f.WaitTime.Milliseconds(),
		ControlField: f.ControlField,
	}
}

func lostInfo(f *knxnetip.RoutingLostMessage) *FrameInfo {
	state := uint8(f.DeviceState)
	return &FrameInfo{
		Service:     knxnetip.ServiceRoutingLostMessage.String(),
		DeviceState: &state,
		LostCount:   f.LostCount,
	}
}

func errorInfo(err *routing.Error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: err.Kind.String(), Message: err.Message}
	if err.Err != nil {
		info.Cause = err.Err.Error()
	}
	return info
}

// NewStateMessage converts an engine status snapshot.
func NewStateMessage(routerID string, st routing.Status, now time.Time) StateMessage {
	return StateMessage{
		RouterID:          routerID,
		Timestamp:         now.UTC(),
		State:             st.State.String(),
		RoutingMode:       st.RoutingMode.String(),
		IndividualAddress: st.IndividualAddress,
		MulticastAddress:  st.MulticastAddress,
		Interface:         st.Interface,
		LocalAddress:      st.LocalAddress,
		BusyStage:         st.BusyStage.String(),
		BusyCounter:       st.BusyCounter,
		FilterTableSize:   st.FilterTableSize,
		LastError:         errorInfo(st.LastError),
	}
}

// NewStatistics converts engine counters.
func NewStatistics(s routing.Stats) *Statistics {
	out := &Statistics{
		FramesReceived:     s.FramesReceived,
		FramesSent:         s.FramesSent,
		DiscardedOwn:       s.DiscardedOwn,
		DiscardedOverload:  s.DiscardedOverload,
		DiscardedMalformed: s.DiscardedMalformed,
		DiscardedInactive:  s.DiscardedInactive,
		BusySignalled:      s.BusySignalled,
		BusyEpisodes:       s.BusyEpisodes,
		SendFailures:       s.SendFailures,
	}
	if !s.LastActivity.IsZero() {
		ts := s.LastActivity.UTC()
		out.LastActivity = &ts
	}
	return out
}

// StatsCounters flattens engine counters for telemetry.
func StatsCounters(s routing.Stats) map[string]uint64 {
	return map[string]uint64{
		"frames_received":     s.FramesReceived,
		"frames_sent":         s.FramesSent,
		"discarded_own":       s.DiscardedOwn,
		"discarded_overload":  s.DiscardedOverload,
		"discarded_malformed": s.DiscardedMalformed,
		"discarded_inactive":  s.DiscardedInactive,
		"busy_signalled":      s.BusySignalled,
		"busy_episodes":       s.BusyEpisodes,
		"send_failures":       s.SendFailures,
	}
}

// NewAck builds an accepted acknowledgement.
func NewAck(requestID, request string, now time.Time) AckMessage {
	return AckMessage{
		RequestID: requestID,
		Timestamp: now.UTC(),
		Request:   request,
		Status:    AckAccepted,
	}
}

// NewAckError builds a failed acknowledgement.
func NewAckError(requestID, request, code, message string, now time.Time) AckMessage {
	ack := NewAck(requestID, request, now)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}
