package knxnetip

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ServiceType identifies a KNXnet/IP service.
type ServiceType uint16

// Routing service types.
const (
	ServiceRoutingIndication      ServiceType = 0x0530
	ServiceRoutingLostMessage     ServiceType = 0x0531
	ServiceRoutingBusy            ServiceType = 0x0532
	ServiceRoutingSystemBroadcast ServiceType = 0x0533
)

// String returns the service name as used in logs and event topics.
func (s ServiceType) String() string {
	switch s {
	case ServiceRoutingIndication:
		return "routing_indication"
	case ServiceRoutingLostMessage:
		return "routing_lost_message"
	case ServiceRoutingBusy:
		return "routing_busy"
	case ServiceRoutingSystemBroadcast:
		return "routing_system_broadcast"
	default:
		return fmt.Sprintf("service_0x%04X", uint16(s))
	}
}

// Protocol constants.
const (
	// HeaderSize is the size of the KNXnet/IP header.
	HeaderSize = 6

	// ProtocolVersion is the KNXnet/IP protocol version 1.0.
	ProtocolVersion = 0x10

	// Port is the IANA-assigned KNXnet/IP port.
	Port = 3671

	// MaxFrameSize bounds a routing datagram.
	MaxFrameSize = 0xFFFF
)

// DefaultMulticastGroup returns the KNX system setup multicast address 224.0.23.12.
func DefaultMulticastGroup() net.IP {
	return net.IPv4(224, 0, 23, 12).To4()
}

// Header is the fixed KNXnet/IP frame header.
type Header struct {
	ServiceType ServiceType
	TotalLength uint16
}

// parseHeader decodes the header and checks it against the datagram size.
func parseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrShortFrame, len(data), HeaderSize)
	}
	if data[0] != HeaderSize {
		return Header{}, fmt.Errorf("%w: header length 0x%02X", ErrInvalidHeader, data[0])
	}
	if data[1] != ProtocolVersion {
		return Header{}, fmt.Errorf("%w: protocol version 0x%02X", ErrInvalidHeader, data[1])
	}

	h := Header{
		ServiceType: ServiceType(binary.BigEndian.Uint16(data[2:4])),
		TotalLength: binary.BigEndian.Uint16(data[4:6]),
	}
	if int(h.TotalLength) != len(data) {
		return Header{}, fmt.Errorf("%w: declared %d, datagram %d", ErrLengthMismatch, h.TotalLength, len(data))
	}
	return h, nil
}

// appendFrame writes header plus body into a single buffer.
func appendFrame(service ServiceType, body []byte) ([]byte, error) {
	total := HeaderSize + len(body)
	if total > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d exceeds %d", ErrInvalidFrame, total, MaxFrameSize)
	}

	buf := make([]byte, total)
	buf[0] = HeaderSize
	buf[1] = ProtocolVersion
	binary.BigEndian.PutUint16(buf[2:4], uint16(service))
	binary.BigEndian.PutUint16(buf[4:6], uint16(total)) //nolint:gosec // bounded by MaxFrameSize
	copy(buf[HeaderSize:], body)
	return buf, nil
}
