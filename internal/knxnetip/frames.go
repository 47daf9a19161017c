package knxnetip

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DeviceState is the device state octet carried by busy and lost message
// frames.
type DeviceState uint8

// Device state flags.
const (
	DeviceStateKNXFault DeviceState = 0x01
	DeviceStateIPFault  DeviceState = 0x02
)

// Structure lengths of the fixed-size routing bodies.
const (
	busyStructureLength        = 6
	lostMessageStructureLength = 4
)

// Frame is a decoded or outgoing KNXnet/IP routing frame.
type Frame interface {
	// ServiceType returns the KNXnet/IP service identifier.
	ServiceType() ServiceType

	// Validate reports whether the frame is well formed.
	Validate() error

	// Encode returns the complete datagram including the header.
	Encode() ([]byte, error)
}

// RoutingIndication carries a telegram between routers.
type RoutingIndication struct {
	CEMI LData

	decodeErr error
}

// NewRoutingIndication wraps an L_Data.ind message.
func NewRoutingIndication(cemi LData) *RoutingIndication {
	return &RoutingIndication{CEMI: cemi}
}

// ServiceType implements Frame.
func (f *RoutingIndication) ServiceType() ServiceType { return ServiceRoutingIndication }

// Validate implements Frame.
func (f *RoutingIndication) Validate() error {
	if f.decodeErr != nil {
		return fmt.Errorf("%w: routing indication: %w", ErrInvalidFrame, f.decodeErr)
	}
	if err := f.CEMI.Validate(); err != nil {
		return fmt.Errorf("%w: routing indication: %w", ErrInvalidFrame, err)
	}
	return nil
}

// Encode implements Frame.
func (f *RoutingIndication) Encode() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	body, err := f.CEMI.Encode()
	if err != nil {
		return nil, err
	}
	return appendFrame(ServiceRoutingIndication, body)
}

// RoutingSystemBroadcast carries a system broadcast telegram. The
// destination must be a group address and the broadcast bit must mark a
// system broadcast.
type RoutingSystemBroadcast struct {
	CEMI LData

	decodeErr error
}

// NewRoutingSystemBroadcast wraps an L_Data.ind message, clearing the
// domain broadcast bit.
func NewRoutingSystemBroadcast(cemi LData) *RoutingSystemBroadcast {
	cemi.Control1 &^= Control1DomainBroadcast
	return &RoutingSystemBroadcast{CEMI: cemi}
}

// ServiceType implements Frame.
func (f *RoutingSystemBroadcast) ServiceType() ServiceType { return ServiceRoutingSystemBroadcast }

// Validate implements Frame.
func (f *RoutingSystemBroadcast) Validate() error {
	if f.decodeErr != nil {
		return fmt.Errorf("%w: system broadcast: %w", ErrInvalidFrame, f.decodeErr)
	}
	if err := f.CEMI.Validate(); err != nil {
		return fmt.Errorf("%w: system broadcast: %w", ErrInvalidFrame, err)
	}
	if !f.CEMI.Destination.IsGroup() {
		return fmt.Errorf("%w: system broadcast: destination is not a group address", ErrInvalidFrame)
	}
	if !f.CEMI.IsSystemBroadcast() {
		return fmt.Errorf("%w: system broadcast: broadcast bit marks domain broadcast", ErrInvalidFrame)
	}
	return nil
}

// Encode implements Frame.
func (f *RoutingSystemBroadcast) Encode() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	body, err := f.CEMI.Encode()
	if err != nil {
		return nil, err
	}
	return appendFrame(ServiceRoutingSystemBroadcast, body)
}

// RoutingBusy asks peers to pause sending for WaitTime.
type RoutingBusy struct {
	DeviceState  DeviceState
	WaitTime     time.Duration
	ControlField uint16

	decodeErr error
}

// NewRoutingBusy builds a busy frame. Wait times are carried in whole
// milliseconds on the wire.
func NewRoutingBusy(state DeviceState, wait time.Duration, control uint16) *RoutingBusy {
	return &RoutingBusy{DeviceState: state, WaitTime: wait, ControlField: control}
}

// ServiceType implements Frame.
func (f *RoutingBusy) ServiceType() ServiceType { return ServiceRoutingBusy }

// Validate implements Frame.
func (f *RoutingBusy) Validate() error {
	if f.decodeErr != nil {
		return fmt.Errorf("%w: routing busy: %w", ErrInvalidFrame, f.decodeErr)
	}
	ms := f.WaitTime.Milliseconds()
	if ms < 0 || ms > 0xFFFF {
		return fmt.Errorf("%w: routing busy: wait time %s out of range", ErrInvalidFrame, f.WaitTime)
	}
	return nil
}

// Encode implements Frame.
func (f *RoutingBusy) Encode() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	body := make([]byte, busyStructureLength)
	body[0] = busyStructureLength
	body[1] = byte(f.DeviceState)
	binary.BigEndian.PutUint16(body[2:4], uint16(f.WaitTime.Milliseconds())) //nolint:gosec // range checked in Validate
	binary.BigEndian.PutUint16(body[4:6], f.ControlField)
	return appendFrame(ServiceRoutingBusy, body)
}

// RoutingLostMessage reports telegrams a router had to drop.
type RoutingLostMessage struct {
	DeviceState DeviceState
	LostCount   uint16

	decodeErr error
}

// NewRoutingLostMessage builds a lost message frame.
func NewRoutingLostMessage(state DeviceState, lost uint16) *RoutingLostMessage {
	return &RoutingLostMessage{DeviceState: state, LostCount: lost}
}

// ServiceType implements Frame.
func (f *RoutingLostMessage) ServiceType() ServiceType { return ServiceRoutingLostMessage }

// Validate implements Frame.
func (f *RoutingLostMessage) Validate() error {
	if f.decodeErr != nil {
		return fmt.Errorf("%w: lost message: %w", ErrInvalidFrame, f.decodeErr)
	}
	return nil
}

// Encode implements Frame.
func (f *RoutingLostMessage) Encode() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	body := make([]byte, lostMessageStructureLength)
	body[0] = lostMessageStructureLength
	body[1] = byte(f.DeviceState)
	binary.BigEndian.PutUint16(body[2:4], f.LostCount)
	return appendFrame(ServiceRoutingLostMessage, body)
}

// Decode parses a routing datagram.
//
// A malformed header, a total length that disagrees with len(data), or a
// non-routing service type is reported as an error. A malformed body still
// yields a frame; its Validate method returns the problem.
//
// Parameters:
//   - data: Complete datagram as received from the socket
//
// Returns:
//   - Frame: One of *RoutingIndication, *RoutingBusy, *RoutingLostMessage,
//     *RoutingSystemBroadcast
//   - error: ErrShortFrame, ErrInvalidHeader, ErrLengthMismatch or
//     ErrUnsupportedService
func Decode(data []byte) (Frame, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize:]

	switch h.ServiceType {
	case ServiceRoutingIndication:
		cemi, err := ParseLData(body)
		return &RoutingIndication{CEMI: cemi, decodeErr: err}, nil

	case ServiceRoutingSystemBroadcast:
		cemi, err := ParseLData(body)
		return &RoutingSystemBroadcast{CEMI: cemi, decodeErr: err}, nil

	case ServiceRoutingBusy:
		f := &RoutingBusy{}
		if err := checkStructure(body, busyStructureLength); err != nil {
			f.decodeErr = err
			return f, nil
		}
		f.DeviceState = DeviceState(body[1])
		f.WaitTime = time.Duration(binary.BigEndian.Uint16(body[2:4])) * time.Millisecond
		f.ControlField = binary.BigEndian.Uint16(body[4:6])
		return f, nil

	case ServiceRoutingLostMessage:
		f := &RoutingLostMessage{}
		if err := checkStructure(body, lostMessageStructureLength); err != nil {
			f.decodeErr = err
			return f, nil
		}
		f.DeviceState = DeviceState(body[1])
		f.LostCount = binary.BigEndian.Uint16(body[2:4])
		return f, nil

	default:
		return nil, fmt.Errorf("%w: 0x%04X", ErrUnsupportedService, uint16(h.ServiceType))
	}
}

// checkStructure verifies a fixed-size body and its structure length octet.
func checkStructure(body []byte, want int) error {
	if len(body) != want {
		return fmt.Errorf("body is %d bytes, want %d", len(body), want)
	}
	if int(body[0]) != want {
		return fmt.Errorf("structure length %d, want %d", body[0], want)
	}
	return nil
}
