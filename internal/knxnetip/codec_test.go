package knxnetip

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-router/internal/knx"
)

// groupWriteIndication is a routing indication from 1.1.5 writing 1 to 1/2/3.
var groupWriteIndication = []byte{
	0x06, 0x10, 0x05, 0x30, 0x00, 0x11, // header, total 17
	0x29, 0x00, // L_Data.ind, no additional info
	0xBC, 0xE0, // ctrl1, ctrl2 (group, hop 6)
	0x11, 0x05, // src 1.1.5
	0x0A, 0x03, // dst 1/2/3
	0x01, 0x00, 0x81, // NPDU length 1, TPCI, APCI write|1
}

func TestDecodeRoutingIndication(t *testing.T) {
	f, err := Decode(groupWriteIndication)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	ind, ok := f.(*RoutingIndication)
	if !ok {
		t.Fatalf("Decode() returned %T, want *RoutingIndication", f)
	}
	if err := ind.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	cemi := ind.CEMI
	if cemi.Source != (knx.IndividualAddress{Area: 1, Line: 1, Device: 5}) {
		t.Errorf("Source = %v, want 1.1.5", cemi.Source)
	}
	if !cemi.Destination.IsGroup() || cemi.Destination.Group() != (knx.GroupAddress{Main: 1, Middle: 2, Sub: 3}) {
		t.Errorf("Destination = %v (%v), want group 1/2/3", cemi.Destination, cemi.Destination.Type)
	}
	if cemi.HopCount != 6 {
		t.Errorf("HopCount = %d, want 6", cemi.HopCount)
	}
	if cemi.IsSystemBroadcast() {
		t.Error("ordinary telegram decoded as system broadcast")
	}
	if !bytes.Equal(cemi.TPDU, []byte{0x00, 0x81}) {
		t.Errorf("TPDU = %X, want 0081", cemi.TPDU)
	}

	encoded, err := ind.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.Equal(encoded, groupWriteIndication) {
		t.Errorf("Encode() = %X\nwant      %X", encoded, groupWriteIndication)
	}
}

func TestDecodeHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty", data: nil, want: ErrShortFrame},
		{name: "five bytes", data: []byte{0x06, 0x10, 0x05, 0x30, 0x00}, want: ErrShortFrame},
		{name: "bad header length", data: []byte{0x07, 0x10, 0x05, 0x30, 0x00, 0x06}, want: ErrInvalidHeader},
		{name: "bad version", data: []byte{0x06, 0x20, 0x05, 0x30, 0x00, 0x06}, want: ErrInvalidHeader},
		{name: "total length too large", data: []byte{0x06, 0x10, 0x05, 0x32, 0x00, 0x0D, 0x06, 0x00, 0x00, 0x64, 0x00, 0x00}, want: ErrLengthMismatch},
		{name: "total length too small", data: []byte{0x06, 0x10, 0x05, 0x32, 0x00, 0x06, 0x06, 0x00, 0x00, 0x64, 0x00, 0x00}, want: ErrLengthMismatch},
		{name: "search request", data: []byte{0x06, 0x10, 0x02, 0x01, 0x00, 0x06}, want: ErrUnsupportedService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "busy with structure length 5",
			data: []byte{0x06, 0x10, 0x05, 0x32, 0x00, 0x0C, 0x05, 0x00, 0x00, 0x64, 0x00, 0x00},
		},
		{
			name: "busy body too short",
			data: []byte{0x06, 0x10, 0x05, 0x32, 0x00, 0x0A, 0x06, 0x00, 0x00, 0x64},
		},
		{
			name: "lost message with structure length 6",
			data: []byte{0x06, 0x10, 0x05, 0x31, 0x00, 0x0A, 0x06, 0x00, 0x00, 0x01},
		},
		{
			name: "indication with NPDU length past the end",
			data: []byte{0x06, 0x10, 0x05, 0x30, 0x00, 0x11, 0x29, 0x00, 0xBC, 0xE0, 0x11, 0x05, 0x0A, 0x03, 0x05, 0x00, 0x81},
		},
		{
			name: "indication carrying L_Data.req",
			data: []byte{0x06, 0x10, 0x05, 0x30, 0x00, 0x11, 0x11, 0x00, 0xBC, 0xE0, 0x11, 0x05, 0x0A, 0x03, 0x01, 0x00, 0x81},
		},
		{
			name: "system broadcast with domain broadcast bit",
			data: []byte{0x06, 0x10, 0x05, 0x33, 0x00, 0x11, 0x29, 0x00, 0xBC, 0xE0, 0x11, 0x05, 0x00, 0x00, 0x01, 0x00, 0x81},
		},
		{
			name: "system broadcast to individual address",
			data: []byte{0x06, 0x10, 0x05, 0x33, 0x00, 0x11, 0x29, 0x00, 0xAC, 0x60, 0x11, 0x05, 0x00, 0x00, 0x01, 0x00, 0x81},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.data)
			if err != nil {
				t.Fatalf("Decode() error = %v, want a frame failing validation", err)
			}
			if err := f.Validate(); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Validate() = %v, want ErrInvalidFrame", err)
			}
			if _, err := f.Encode(); err == nil {
				t.Error("Encode() of an invalid frame should fail")
			}
		})
	}
}

func TestRoutingBusyRoundTrip(t *testing.T) {
	want := []byte{0x06, 0x10, 0x05, 0x32, 0x00, 0x0C, 0x06, 0x01, 0x00, 0x64, 0x00, 0x00}

	busy := NewRoutingBusy(DeviceStateKNXFault, 100*time.Millisecond, 0)
	got, err := busy.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %X, want %X", got, want)
	}

	f, err := Decode(want)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	decoded := f.(*RoutingBusy)
	if decoded.WaitTime != 100*time.Millisecond || decoded.DeviceState != DeviceStateKNXFault {
		t.Errorf("decoded busy = %+v", decoded)
	}
}

func TestRoutingBusyWaitTimeRange(t *testing.T) {
	busy := NewRoutingBusy(0, 70*time.Second, 0)
	if err := busy.Validate(); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Validate() = %v, want ErrInvalidFrame for wait time over 65535ms", err)
	}
}

func TestRoutingLostMessageRoundTrip(t *testing.T) {
	want := []byte{0x06, 0x10, 0x05, 0x31, 0x00, 0x0A, 0x04, 0x02, 0x01, 0x2C}

	got, err := NewRoutingLostMessage(DeviceStateIPFault, 300).Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %X, want %X", got, want)
	}

	f, err := Decode(want)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	lost := f.(*RoutingLostMessage)
	if lost.LostCount != 300 || lost.DeviceState != DeviceStateIPFault {
		t.Errorf("decoded lost message = %+v", lost)
	}
}

func TestNewRoutingSystemBroadcast(t *testing.T) {
	cemi := NewGroupIndication(knx.IndividualAddress{Area: 1, Line: 0, Device: 0}, knx.GroupAddress{}, []byte{0x03, 0xE0})
	f := NewRoutingSystemBroadcast(cemi)
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.ServiceType() != ServiceRoutingSystemBroadcast {
		t.Errorf("ServiceType() = %v", decoded.ServiceType())
	}
	if err := decoded.Validate(); err != nil {
		t.Errorf("decoded Validate() error: %v", err)
	}
}

func TestLDataAdditionalInfo(t *testing.T) {
	cemi := NewGroupIndication(knx.IndividualAddress{Area: 2, Line: 3, Device: 4}, knx.GroupAddress{Main: 7}, []byte{0x00, 0x80, 0x12, 0x34})
	cemi.AdditionalInfo = []byte{0x03, 0x01, 0xAA}

	data, err := cemi.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	parsed, err := ParseLData(data)
	if err != nil {
		t.Fatalf("ParseLData() error: %v", err)
	}
	if !bytes.Equal(parsed.AdditionalInfo, cemi.AdditionalInfo) {
		t.Errorf("AdditionalInfo = %X, want %X", parsed.AdditionalInfo, cemi.AdditionalInfo)
	}
	if !bytes.Equal(parsed.TPDU, cemi.TPDU) {
		t.Errorf("TPDU = %X, want %X", parsed.TPDU, cemi.TPDU)
	}
	if parsed.Source != cemi.Source || parsed.Destination != cemi.Destination {
		t.Errorf("addresses = %v -> %v", parsed.Source, parsed.Destination)
	}
}

func TestServiceTypeString(t *testing.T) {
	if got := ServiceRoutingBusy.String(); got != "routing_busy" {
		t.Errorf("String() = %q", got)
	}
	if got := ServiceType(0x0201).String(); got != "service_0x0201" {
		t.Errorf("String() = %q", got)
	}
}
