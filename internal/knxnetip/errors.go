package knxnetip

import "errors"

// Codec errors.
var (
	// ErrShortFrame is returned when a datagram is smaller than the header.
	ErrShortFrame = errors.New("knxnetip: frame too short")

	// ErrInvalidHeader is returned when the header length or protocol
	// version is wrong.
	ErrInvalidHeader = errors.New("knxnetip: invalid header")

	// ErrLengthMismatch is returned when the header's total length does not
	// match the datagram size.
	ErrLengthMismatch = errors.New("knxnetip: total length mismatch")

	// ErrUnsupportedService is returned for service types other than the
	// routing services.
	ErrUnsupportedService = errors.New("knxnetip: unsupported service type")

	// ErrInvalidFrame is returned by Validate when a frame body is malformed.
	ErrInvalidFrame = errors.New("knxnetip: invalid frame")

	// ErrInvalidCEMI is returned when a cEMI message cannot be parsed or
	// is not a valid L_Data frame.
	ErrInvalidCEMI = errors.New("knxnetip: invalid cEMI frame")
)
