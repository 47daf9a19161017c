package knxnetip

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/gray-logic-router/internal/knx"
)

// MessageCode is the cEMI message code.
type MessageCode byte

// cEMI link layer message codes.
const (
	MessageCodeLDataReq MessageCode = 0x11
	MessageCodeLDataInd MessageCode = 0x29
	MessageCodeLDataCon MessageCode = 0x2E
)

// Control field 1 bits.
const (
	// Control1StandardFrame marks a standard (not extended) frame.
	Control1StandardFrame byte = 0x80
	// Control1DoNotRepeat suppresses repetition on the bus.
	Control1DoNotRepeat byte = 0x20
	// Control1DomainBroadcast is set for domain broadcast and cleared for
	// system broadcast.
	Control1DomainBroadcast byte = 0x10
	// Control1PriorityLow is the default priority bit pattern.
	Control1PriorityLow byte = 0x0C
	// Control1AckRequest requests a layer 2 acknowledge.
	Control1AckRequest byte = 0x02
	// Control1ConfirmError flags an error in an L_Data.con.
	Control1ConfirmError byte = 0x01

	// DefaultControl1 is the control field used for ordinary group telegrams.
	DefaultControl1 = Control1StandardFrame | Control1DoNotRepeat | Control1DomainBroadcast | Control1PriorityLow
)

// Control field 2 layout.
const (
	control2GroupAddress byte = 0x80
	control2HopMask      byte = 0x70
	control2HopShift          = 4
	control2ExtFmtMask   byte = 0x0F

	// MaxHopCount is the largest hop count encodable in control field 2.
	MaxHopCount = 7

	// DefaultHopCount is the routing counter of freshly originated frames.
	DefaultHopCount = 6
)

// L_Data layout sizes.
const (
	// cemiMinSize covers message code, additional info length, two control
	// fields, source, destination, NPDU length and one TPCI byte.
	cemiMinSize = 10
	// maxTPDUSize is the largest TPDU an 8-bit NPDU length can describe.
	maxTPDUSize = 256
)

// LData is a cEMI L_Data message.
//
// TPDU holds the transport layer PDU starting at the TPCI byte; its length is
// one more than the NPDU length octet on the wire.
type LData struct {
	MessageCode    MessageCode
	AdditionalInfo []byte
	Control1       byte
	HopCount       uint8
	ExtendedFormat uint8
	Source         knx.IndividualAddress
	Destination    knx.Address
	TPDU           []byte
}

// NewGroupIndication builds an L_Data.ind to a group address with default
// control fields and hop count.
//
// Parameters:
//   - src: Sender's individual address
//   - dst: Destination group address
//   - tpdu: Transport PDU starting at the TPCI byte
//
// Returns:
//   - LData: Ready to wrap in a RoutingIndication
func NewGroupIndication(src knx.IndividualAddress, dst knx.GroupAddress, tpdu []byte) LData {
	return LData{
		MessageCode: MessageCodeLDataInd,
		Control1:    DefaultControl1,
		HopCount:    DefaultHopCount,
		Source:      src,
		Destination: knx.NewGroup(dst),
		TPDU:        tpdu,
	}
}

// IsSystemBroadcast reports whether the broadcast bit marks a system broadcast.
func (l LData) IsSystemBroadcast() bool {
	return l.Control1&Control1DomainBroadcast == 0
}

// Control2 returns the encoded second control field.
func (l LData) Control2() byte {
	c := (l.HopCount << control2HopShift) & control2HopMask
	c |= l.ExtendedFormat & control2ExtFmtMask
	if l.Destination.IsGroup() {
		c |= control2GroupAddress
	}
	return c
}

// Validate checks that the message is a well-formed L_Data.ind.
func (l LData) Validate() error {
	if l.MessageCode != MessageCodeLDataInd {
		return fmt.Errorf("%w: message code 0x%02X is not L_Data.ind", ErrInvalidCEMI, byte(l.MessageCode))
	}
	if len(l.AdditionalInfo) > 0xFF {
		return fmt.Errorf("%w: additional info too long (%d bytes)", ErrInvalidCEMI, len(l.AdditionalInfo))
	}
	if l.HopCount > MaxHopCount {
		return fmt.Errorf("%w: hop count %d out of range", ErrInvalidCEMI, l.HopCount)
	}
	if !l.Destination.IsSet() {
		return fmt.Errorf("%w: destination address not set", ErrInvalidCEMI)
	}
	if len(l.TPDU) == 0 || len(l.TPDU) > maxTPDUSize {
		return fmt.Errorf("%w: TPDU length %d out of range", ErrInvalidCEMI, len(l.TPDU))
	}
	return nil
}

// Encode returns the wire form of the message.
func (l LData) Encode() ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, cemiMinSize-1+len(l.AdditionalInfo)+len(l.TPDU))
	buf = append(buf, byte(l.MessageCode), byte(len(l.AdditionalInfo)))
	buf = append(buf, l.AdditionalInfo...)
	buf = append(buf, l.Control1, l.Control2())
	buf = binary.BigEndian.AppendUint16(buf, l.Source.ToUint16())
	buf = binary.BigEndian.AppendUint16(buf, l.Destination.Raw)
	buf = append(buf, byte(len(l.TPDU)-1)) //nolint:gosec // bounded by maxTPDUSize
	buf = append(buf, l.TPDU...)
	return buf, nil
}

// ParseLData decodes a cEMI L_Data message. The data must contain exactly
// one message; trailing bytes are rejected.
//
// Returns:
//   - LData: Decoded message (not yet checked with Validate)
//   - error: ErrInvalidCEMI if the layout is inconsistent
func ParseLData(data []byte) (LData, error) {
	if len(data) < 2 {
		return LData{}, fmt.Errorf("%w: %d bytes", ErrInvalidCEMI, len(data))
	}

	addInfoLen := int(data[1])
	if len(data) < cemiMinSize+addInfoLen {
		return LData{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidCEMI, len(data), cemiMinSize+addInfoLen)
	}

	l := LData{MessageCode: MessageCode(data[0])}
	if addInfoLen > 0 {
		l.AdditionalInfo = append([]byte(nil), data[2:2+addInfoLen]...)
	}

	p := data[2+addInfoLen:]
	l.Control1 = p[0]
	ctrl2 := p[1]
	l.HopCount = (ctrl2 & control2HopMask) >> control2HopShift
	l.ExtendedFormat = ctrl2 & control2ExtFmtMask
	l.Source = knx.IndividualAddressFromUint16(binary.BigEndian.Uint16(p[2:4]))

	dst := binary.BigEndian.Uint16(p[4:6])
	if ctrl2&control2GroupAddress != 0 {
		l.Destination = knx.Address{Type: knx.AddressTypeGroup, Raw: dst}
	} else {
		l.Destination = knx.Address{Type: knx.AddressTypeIndividual, Raw: dst}
	}

	tpduLen := int(p[6]) + 1
	if len(p[7:]) != tpduLen {
		return LData{}, fmt.Errorf("%w: NPDU length %d does not match %d remaining bytes", ErrInvalidCEMI, p[6], len(p[7:]))
	}
	l.TPDU = append([]byte(nil), p[7:]...)

	return l, nil
}
