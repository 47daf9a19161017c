// Package knxnetip encodes and decodes KNXnet/IP routing frames.
//
// Only the four routing services are implemented:
//
//	0x0530  ROUTING_INDICATION        cEMI L_Data.ind telegram
//	0x0531  ROUTING_LOST_MESSAGE      device state + lost frame count
//	0x0532  ROUTING_BUSY              device state + wait time + control field
//	0x0533  ROUTING_SYSTEM_BROADCAST  cEMI L_Data.ind, system broadcast
//
// Every frame starts with the 6-byte KNXnet/IP header:
//
//	Byte 0:   Header length (0x06)
//	Byte 1:   Protocol version (0x10)
//	Byte 2-3: Service type (big-endian)
//	Byte 4-5: Total length including header (big-endian)
//
// # Decoding and Validation
//
// Decode rejects datagrams whose header is malformed, whose declared total
// length differs from the datagram size, or whose service type is not a
// routing service. Problems inside the body do not fail Decode: the returned
// frame reports them through Validate, so a receiver can treat a broken
// header (noise) differently from a broken body (a misbehaving peer).
package knxnetip
