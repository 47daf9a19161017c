package knx

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GroupAddress represents a KNX group address in 3-level format.
//
// Format: Main/Middle/Sub
//   - Main:   0-31 (5 bits)
//   - Middle: 0-7  (3 bits)
//   - Sub:    0-255 (8 bits)
//
// Total: 16 bits (0x0000 - 0xFFFF)
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

// Group address limits (KNX 3-level layout).
const (
	maxMain   = 31
	maxMiddle = 7
	maxSub    = 255

	// gaLevelCount is the number of levels in a 3-level group address.
	gaLevelCount = 3

	gaMainMask   = 0x1F // 5 bits
	gaMiddleMask = 0x07 // 3 bits
	gaSubMask    = 0xFF // 8 bits
)

// ParseGroupAddress parses a 3-level group address string such as "1/2/3".
//
// Parameters:
//   - s: Group address string
//
// Returns:
//   - GroupAddress: Parsed address
//   - error: ErrInvalidGroupAddress if parsing fails
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != gaLevelCount {
		return GroupAddress{}, fmt.Errorf("%w: expected 3-level format (main/middle/sub), got %q", ErrInvalidGroupAddress, s)
	}

	main, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || main > maxMain {
		return GroupAddress{}, fmt.Errorf("%w: main group must be 0-%d, got %q", ErrInvalidGroupAddress, maxMain, parts[0])
	}

	middle, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || middle > maxMiddle {
		return GroupAddress{}, fmt.Errorf("%w: middle group must be 0-%d, got %q", ErrInvalidGroupAddress, maxMiddle, parts[1])
	}

	sub, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return GroupAddress{}, fmt.Errorf("%w: sub group must be 0-%d, got %q", ErrInvalidGroupAddress, maxSub, parts[2])
	}

	return GroupAddress{
		Main:   uint8(main),
		Middle: uint8(middle),
		Sub:    uint8(sub),
	}, nil
}

// String returns the group address in 3-level format, e.g. "1/2/3".
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 converts the group address to its 16-bit wire value.
//
// Layout: MMMM MSSS SSSS SSSS
//   - M = Main (5 bits)
//   - S = Middle (3 bits) + Sub (8 bits)
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 creates a GroupAddress from a 16-bit wire value.
func GroupAddressFromUint16(value uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((value >> 11) & gaMainMask),  //nolint:gosec // masked to 5 bits (0-31)
		Middle: uint8((value >> 8) & gaMiddleMask), //nolint:gosec // masked to 3 bits (0-7)
		Sub:    uint8(value & gaSubMask),           //nolint:gosec // masked to 8 bits (0-255)
	}
}

// TopLevel returns the address with its sub group cleared.
//
// The router's filter table is keyed on main/middle granularity, so
// "1/2/3" and "1/2/200" both resolve to the entry "1/2/0".
func (ga GroupAddress) TopLevel() GroupAddress {
	return GroupAddress{Main: ga.Main, Middle: ga.Middle}
}

// URLEncode returns the group address as a URL path segment.
//
// Used in MQTT topics and HTTP paths where "/" is a level separator.
//
// Example: "1/2/3" → "1%2F2%2F3"
func (ga GroupAddress) URLEncode() string {
	return url.PathEscape(ga.String())
}

// IsValid returns true if the group address values are within valid ranges.
func (ga GroupAddress) IsValid() bool {
	return ga.Main <= maxMain && ga.Middle <= maxMiddle
}

// MarshalText implements encoding.TextMarshaler so group addresses appear
// as "1/2/3" in JSON and YAML.
func (ga GroupAddress) MarshalText() ([]byte, error) {
	return []byte(ga.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ga *GroupAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseGroupAddress(string(text))
	if err != nil {
		return err
	}
	*ga = parsed
	return nil
}

// IndividualAddress represents a KNX individual (physical) address.
//
// Format: Area.Line.Device
//   - Area:   0-15 (4 bits)
//   - Line:   0-15 (4 bits)
//   - Device: 0-255 (8 bits)
//
// Couplers and routers carry device number 0: "1.0.0" is an area (backbone)
// coupler, "1.1.0" a line coupler.
type IndividualAddress struct {
	Area   uint8
	Line   uint8
	Device uint8
}

// Individual address limits.
const (
	maxArea   = 15
	maxLine   = 15
	maxDevice = 255

	iaLevelCount = 3

	iaAreaMask = 0x0F
	iaLineMask = 0x0F
	iaDevMask  = 0xFF
)

// ParseIndividualAddress parses an individual address string such as "1.1.0".
//
// Returns:
//   - IndividualAddress: Parsed address
//   - error: ErrInvalidIndividualAddress if parsing fails
func ParseIndividualAddress(s string) (IndividualAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != iaLevelCount {
		return IndividualAddress{}, fmt.Errorf("%w: expected area.line.device, got %q", ErrInvalidIndividualAddress, s)
	}

	area, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || area > maxArea {
		return IndividualAddress{}, fmt.Errorf("%w: area must be 0-%d, got %q", ErrInvalidIndividualAddress, maxArea, parts[0])
	}

	line, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || line > maxLine {
		return IndividualAddress{}, fmt.Errorf("%w: line must be 0-%d, got %q", ErrInvalidIndividualAddress, maxLine, parts[1])
	}

	device, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return IndividualAddress{}, fmt.Errorf("%w: device must be 0-%d, got %q", ErrInvalidIndividualAddress, maxDevice, parts[2])
	}

	return IndividualAddress{
		Area:   uint8(area),
		Line:   uint8(line),
		Device: uint8(device),
	}, nil
}

// String returns the address in dotted form, e.g. "1.1.5".
func (ia IndividualAddress) String() string {
	return fmt.Sprintf("%d.%d.%d", ia.Area, ia.Line, ia.Device)
}

// ToUint16 converts the address to its 16-bit wire value (AAAA LLLL DDDD DDDD).
func (ia IndividualAddress) ToUint16() uint16 {
	return uint16(ia.Area&iaAreaMask)<<12 | uint16(ia.Line&iaLineMask)<<8 | uint16(ia.Device)
}

// IndividualAddressFromUint16 creates an IndividualAddress from a 16-bit wire value.
func IndividualAddressFromUint16(value uint16) IndividualAddress {
	return IndividualAddress{
		Area:   uint8((value >> 12) & iaAreaMask), //nolint:gosec // masked to 4 bits
		Line:   uint8((value >> 8) & iaLineMask),  //nolint:gosec // masked to 4 bits
		Device: uint8(value & iaDevMask),          //nolint:gosec // masked to 8 bits
	}
}

// IsValid returns true if area and line fit their 4-bit fields.
func (ia IndividualAddress) IsValid() bool {
	return ia.Area <= maxArea && ia.Line <= maxLine
}

// IsCouplerOrRouter reports whether the address is one a coupler or router
// may own: device number 0 with a non-zero area or line.
func (ia IndividualAddress) IsCouplerOrRouter() bool {
	return ia.IsValid() && ia.Device == 0 && (ia.Area != 0 || ia.Line != 0)
}

// IsLineCoupler reports whether a coupler address sits on a line (A.L.0 with
// L ≠ 0) rather than on the backbone (A.0.0).
func (ia IndividualAddress) IsLineCoupler() bool {
	return ia.Line != 0
}

// MarshalText implements encoding.TextMarshaler.
func (ia IndividualAddress) MarshalText() ([]byte, error) {
	return []byte(ia.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ia *IndividualAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseIndividualAddress(string(text))
	if err != nil {
		return err
	}
	*ia = parsed
	return nil
}

// AddressType discriminates the two KNX address spaces.
type AddressType uint8

// Address types. The zero value marks an unset address.
const (
	AddressTypeNone AddressType = iota
	AddressTypeIndividual
	AddressTypeGroup
)

// String returns a lower-case name for the address type.
func (t AddressType) String() string {
	switch t {
	case AddressTypeIndividual:
		return "individual"
	case AddressTypeGroup:
		return "group"
	default:
		return "none"
	}
}

// Address is a 16-bit KNX address tagged with its type.
//
// The zero value is an unset address: IsSet returns false and it compares
// unequal to every real address.
type Address struct {
	Type AddressType
	Raw  uint16
}

// NewGroup wraps a group address.
func NewGroup(ga GroupAddress) Address {
	return Address{Type: AddressTypeGroup, Raw: ga.ToUint16()}
}

// NewIndividual wraps an individual address.
func NewIndividual(ia IndividualAddress) Address {
	return Address{Type: AddressTypeIndividual, Raw: ia.ToUint16()}
}

// IsSet reports whether the address carries a type.
func (a Address) IsSet() bool {
	return a.Type != AddressTypeNone
}

// IsGroup reports whether the address is a group address.
func (a Address) IsGroup() bool {
	return a.Type == AddressTypeGroup
}

// IsIndividual reports whether the address is an individual address.
func (a Address) IsIndividual() bool {
	return a.Type == AddressTypeIndividual
}

// Group returns the group view of the address.
func (a Address) Group() GroupAddress {
	return GroupAddressFromUint16(a.Raw)
}

// Individual returns the individual view of the address.
func (a Address) Individual() IndividualAddress {
	return IndividualAddressFromUint16(a.Raw)
}

// String formats the address in the notation of its type.
func (a Address) String() string {
	switch a.Type {
	case AddressTypeGroup:
		return a.Group().String()
	case AddressTypeIndividual:
		return a.Individual().String()
	default:
		return ""
	}
}
