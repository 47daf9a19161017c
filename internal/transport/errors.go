package transport

import "errors"

// Transport errors.
var (
	// ErrAlreadyBound is returned when Bind is called twice.
	ErrAlreadyBound = errors.New("transport: already bound")

	// ErrClosed is returned when Bind is called after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrNotMulticast is returned when the group is not an IPv4 multicast address.
	ErrNotMulticast = errors.New("transport: group is not an IPv4 multicast address")
)
