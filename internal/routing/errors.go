package routing

import (
	"errors"
	"fmt"
)

// Domain errors for the routing engine.
var (
	// ErrKnxRouting matches errors caused by invalid KNX content: a received
	// frame failing validation, or an unusable individual address.
	ErrKnxRouting = errors.New("routing: knx routing error")

	// ErrNetwork matches errors raised by the network layer: no usable
	// interface, bind or join failure, socket or send errors.
	ErrNetwork = errors.New("routing: network error")

	// ErrInvalidRoutingMode is returned when a routing mode string is unknown.
	ErrInvalidRoutingMode = errors.New("routing: invalid routing mode")

	// ErrNoInterface is returned when no multicast-capable interface is found.
	ErrNoInterface = errors.New("routing: no usable network interface")
)

// ErrorKind classifies engine errors.
type ErrorKind int

// Error kinds.
const (
	ErrorNone ErrorKind = iota
	ErrorKnxRouting
	ErrorNetwork
)

// String returns the snake_case kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorKnxRouting:
		return "knx_routing"
	case ErrorNetwork:
		return "network"
	default:
		return fmt.Sprintf("error_%d", int(k))
	}
}

// Error is an engine error. Every Error raised by the Engine is also
// delivered as an ErrorOccurred event and moves the engine to StateFailure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("routing: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("routing: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrKnxRouting:
		return e.Kind == ErrorKnxRouting
	case ErrNetwork:
		return e.Kind == ErrorNetwork
	}
	return false
}
