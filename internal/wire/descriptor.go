// Package wire implements the bridge's UDP datagram framing and the USB
// descriptor/request language it carries (spec §3, §4.1, §6.1).
//
// Every decode/encode pair here is meant to be a total inverse on
// well-formed bytes: encode(decode(b)) == b whenever b parses. Encoding
// fills in computed fields (bLength, wTotalLength, the datagram header
// length) from content rather than trusting a caller to have set them.
package wire

import (
	"encoding/binary"
	"fmt"
)

// DescriptorType is the standard USB bDescriptorType tag, byte 1 of every
// descriptor. Values mirror github.com/google/gousb's descriptor-type
// numbering so a caller comparing against gousb's own constants for a
// real, host-observed device sees the same numbers we use to synthesize
// one.
type DescriptorType uint8

const (
	DescriptorTypeDevice        DescriptorType = 0x01
	DescriptorTypeConfiguration DescriptorType = 0x02
	DescriptorTypeString        DescriptorType = 0x03
	DescriptorTypeInterface     DescriptorType = 0x04
	DescriptorTypeEndpoint      DescriptorType = 0x05
	DescriptorTypeBOS           DescriptorType = 0x0F
	DescriptorTypeHID           DescriptorType = 0x21
	DescriptorTypeHIDReport     DescriptorType = 0x22
)

// Descriptor is any of the byte-layout descriptors the bridge carries.
// Implementations are exhaustively switched on by the codec rather than
// type-asserted through an inheritance chain (design note, §9).
type Descriptor interface {
	Type() DescriptorType
	// Encode appends this descriptor's wire bytes to buf and returns the
	// result. bLength/wTotalLength fields are recomputed here, never
	// trusted from a prior decode.
	Encode(buf []byte) []byte
}

// RawDescriptor is the fallback for bytes the codec could not (or chose
// not to) parse further: an unknown type tag, or a malformed payload.
// Forwarding continues using these raw bytes rather than erroring
// (spec §4.1 Failure; §7 MalformedDatagram).
type RawDescriptor struct {
	DescType DescriptorType
	Raw      []byte // full descriptor bytes, including bLength/bDescriptorType
}

func (d *RawDescriptor) Type() DescriptorType { return d.DescType }

func (d *RawDescriptor) Encode(buf []byte) []byte {
	return append(buf, d.Raw...)
}

// UnknownDescriptor is a RawDescriptor whose type tag did not match any
// known descriptor type at all (as opposed to a known type with a
// malformed payload). Kept as a distinct type so callers can tell the two
// apart when they care to.
type UnknownDescriptor struct {
	RawDescriptor
}

// DeviceDescriptor is the 18-byte USB device descriptor.
type DeviceDescriptor struct {
	USB                uint16
	DeviceClass        uint8
	DeviceSubClass     uint8
	DeviceProtocol     uint8
	MaxPacketSize0     uint8
	VendorID           uint16
	ProductID          uint16
	Device             uint16
	ManufacturerIndex  uint8
	ProductIndex       uint8
	SerialNumberIndex  uint8
	NumConfigurations  uint8
}

func (d *DeviceDescriptor) Type() DescriptorType { return DescriptorTypeDevice }

const DeviceDescriptorLength = 18

func (d *DeviceDescriptor) Encode(buf []byte) []byte {
	b := make([]byte, DeviceDescriptorLength)
	b[0] = DeviceDescriptorLength
	b[1] = byte(DescriptorTypeDevice)
	binary.LittleEndian.PutUint16(b[2:4], d.USB)
	b[4] = d.DeviceClass
	b[5] = d.DeviceSubClass
	b[6] = d.DeviceProtocol
	b[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(b[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(b[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(b[12:14], d.Device)
	b[14] = d.ManufacturerIndex
	b[15] = d.ProductIndex
	b[16] = d.SerialNumberIndex
	b[17] = d.NumConfigurations
	return append(buf, b...)
}

func decodeDeviceDescriptor(b []byte) (*DeviceDescriptor, error) {
	if len(b) < DeviceDescriptorLength {
		return nil, fmt.Errorf("wire: device descriptor short: %d bytes", len(b))
	}
	return &DeviceDescriptor{
		USB:               binary.LittleEndian.Uint16(b[2:4]),
		DeviceClass:       b[4],
		DeviceSubClass:    b[5],
		DeviceProtocol:    b[6],
		MaxPacketSize0:    b[7],
		VendorID:          binary.LittleEndian.Uint16(b[8:10]),
		ProductID:         binary.LittleEndian.Uint16(b[10:12]),
		Device:            binary.LittleEndian.Uint16(b[12:14]),
		ManufacturerIndex: b[14],
		ProductIndex:      b[15],
		SerialNumberIndex: b[16],
		NumConfigurations: b[17],
	}, nil
}

// InterfaceDescriptor is the 9-byte USB interface descriptor, embedded
// inside a ConfigurationDescriptor along with its endpoints.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
	Endpoints         []*EndpointDescriptor
}

func (d *InterfaceDescriptor) Type() DescriptorType { return DescriptorTypeInterface }

const InterfaceDescriptorLength = 9

func (d *InterfaceDescriptor) Encode(buf []byte) []byte {
	b := make([]byte, InterfaceDescriptorLength)
	b[0] = InterfaceDescriptorLength
	b[1] = byte(DescriptorTypeInterface)
	b[2] = d.InterfaceNumber
	b[3] = d.AlternateSetting
	b[4] = uint8(len(d.Endpoints))
	b[5] = d.InterfaceClass
	b[6] = d.InterfaceSubClass
	b[7] = d.InterfaceProtocol
	b[8] = d.InterfaceIndex
	buf = append(buf, b...)
	for _, ep := range d.Endpoints {
		buf = ep.Encode(buf)
	}
	return buf
}

func decodeInterfaceDescriptor(b []byte) (*InterfaceDescriptor, int, error) {
	if len(b) < InterfaceDescriptorLength {
		return nil, 0, fmt.Errorf("wire: interface descriptor short: %d bytes", len(b))
	}
	id := &InterfaceDescriptor{
		InterfaceNumber:   b[2],
		AlternateSetting:  b[3],
		InterfaceClass:    b[5],
		InterfaceSubClass: b[6],
		InterfaceProtocol: b[7],
		InterfaceIndex:    b[8],
	}
	numEP := int(b[4])
	consumed := InterfaceDescriptorLength
	rest := b[InterfaceDescriptorLength:]
	for i := 0; i < numEP; i++ {
		if len(rest) < EndpointDescriptorLength {
			break
		}
		ep, err := decodeEndpointDescriptor(rest)
		if err != nil {
			break
		}
		id.Endpoints = append(id.Endpoints, ep)
		rest = rest[EndpointDescriptorLength:]
		consumed += EndpointDescriptorLength
	}
	return id, consumed, nil
}

// EndpointDescriptor is the 7-byte USB endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

func (d *EndpointDescriptor) Type() DescriptorType { return DescriptorTypeEndpoint }

const EndpointDescriptorLength = 7

func (d *EndpointDescriptor) Encode(buf []byte) []byte {
	b := make([]byte, EndpointDescriptorLength)
	b[0] = EndpointDescriptorLength
	b[1] = byte(DescriptorTypeEndpoint)
	b[2] = d.EndpointAddress
	b[3] = d.Attributes
	binary.LittleEndian.PutUint16(b[4:6], d.MaxPacketSize)
	b[6] = d.Interval
	return append(buf, b...)
}

func decodeEndpointDescriptor(b []byte) (*EndpointDescriptor, error) {
	if len(b) < EndpointDescriptorLength {
		return nil, fmt.Errorf("wire: endpoint descriptor short: %d bytes", len(b))
	}
	return &EndpointDescriptor{
		EndpointAddress: b[2],
		Attributes:      b[3],
		MaxPacketSize:   binary.LittleEndian.Uint16(b[4:6]),
		Interval:        b[6],
	}, nil
}

// HIDDescriptor is the variable-length USB HID descriptor: a 6-byte
// fixed header followed by one or more class-descriptor (type, length)
// pairs, most commonly a single HID report descriptor reference.
type HIDDescriptor struct {
	HID            uint16
	CountryCode    uint8
	ReportDescType uint8
	ReportLength   uint16
	Extra          []byte // any additional (type, length) pairs beyond the first
}

func (d *HIDDescriptor) Type() DescriptorType { return DescriptorTypeHID }

func (d *HIDDescriptor) Encode(buf []byte) []byte {
	length := 9 + len(d.Extra)
	b := make([]byte, 9)
	b[0] = uint8(length)
	b[1] = byte(DescriptorTypeHID)
	binary.LittleEndian.PutUint16(b[2:4], d.HID)
	b[4] = d.CountryCode
	b[5] = uint8(1 + len(d.Extra)/3) // bNumDescriptors: the first pair plus each 3-byte Extra pair
	b[6] = d.ReportDescType
	binary.LittleEndian.PutUint16(b[7:9], d.ReportLength)
	buf = append(buf, b...)
	buf = append(buf, d.Extra...)
	return buf
}

func decodeHIDDescriptor(b []byte) (*HIDDescriptor, error) {
	if len(b) < 9 {
		return nil, fmt.Errorf("wire: HID descriptor short: %d bytes", len(b))
	}
	length := int(b[0])
	if length > len(b) {
		length = len(b)
	}
	hd := &HIDDescriptor{
		HID:            binary.LittleEndian.Uint16(b[2:4]),
		CountryCode:    b[4],
		ReportDescType: b[6],
		ReportLength:   binary.LittleEndian.Uint16(b[7:9]),
	}
	if length > 9 {
		hd.Extra = append([]byte(nil), b[9:length]...)
	}
	return hd, nil
}

// BOSDescriptor (Binary device Object Store) is kept as an opaque,
// re-encodable blob: the spec only requires it round-trip, not that its
// device-capability sub-descriptors be individually modifiable.
type BOSDescriptor struct {
	Raw []byte
}

func (d *BOSDescriptor) Type() DescriptorType { return DescriptorTypeBOS }

func (d *BOSDescriptor) Encode(buf []byte) []byte {
	return append(buf, d.Raw...)
}

// StringDescriptor holds bString as raw UTF-16LE bytes rather than a
// decoded Go string: the index-0 string descriptor is a language-ID
// table, not text, and re-encoding must reproduce the original bytes
// exactly (spec §4.1).
type StringDescriptor struct {
	BString []byte // raw UTF-16LE payload, no length prefix
}

func (d *StringDescriptor) Type() DescriptorType { return DescriptorTypeString }

func (d *StringDescriptor) Encode(buf []byte) []byte {
	length := len(d.BString) + 2
	b := make([]byte, 2, length)
	b[0] = uint8(length)
	b[1] = byte(DescriptorTypeString)
	b = append(b, d.BString...)
	return append(buf, b...)
}

func decodeStringDescriptor(b []byte) (*StringDescriptor, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("wire: string descriptor short: %d bytes", len(b))
	}
	length := int(b[0])
	if length > len(b) {
		length = len(b)
	}
	if length < 2 {
		return &StringDescriptor{}, nil
	}
	return &StringDescriptor{BString: append([]byte(nil), b[2:length]...)}, nil
}

// ConfigurationDescriptor is the 9-byte configuration header plus the
// embedded interface/endpoint/HID/unknown descriptors that follow it.
// It owns its embedded descriptors as a tree, not a graph: there are no
// back-pointers from an endpoint to its interface (design note, §9).
// wTotalLength is never trusted from a decode; Encode recomputes it from
// the serialized length of the whole tree.
type ConfigurationDescriptor struct {
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
	Interfaces         []*InterfaceDescriptor
	Extra              []Descriptor // HID/unknown descriptors not nested under an interface
}

func (d *ConfigurationDescriptor) Type() DescriptorType { return DescriptorTypeConfiguration }

const ConfigurationHeaderLength = 9

func (d *ConfigurationDescriptor) Encode(buf []byte) []byte {
	start := len(buf)
	numInterfaces := len(d.Interfaces)
	header := make([]byte, ConfigurationHeaderLength)
	header[0] = ConfigurationHeaderLength
	header[1] = byte(DescriptorTypeConfiguration)
	// wTotalLength filled below once the body is serialized.
	header[4] = uint8(numInterfaces)
	header[5] = d.ConfigurationValue
	header[6] = d.ConfigurationIndex
	header[7] = d.Attributes
	header[8] = d.MaxPower
	buf = append(buf, header...)

	for _, intf := range d.Interfaces {
		buf = intf.Encode(buf)
	}
	for _, extra := range d.Extra {
		buf = extra.Encode(buf)
	}

	total := len(buf) - start
	binary.LittleEndian.PutUint16(buf[start+2:start+4], uint16(total))
	return buf
}

func decodeConfigurationDescriptor(b []byte) (*ConfigurationDescriptor, error) {
	if len(b) < ConfigurationHeaderLength {
		return nil, fmt.Errorf("wire: configuration descriptor short: %d bytes", len(b))
	}
	wTotalLength := int(binary.LittleEndian.Uint16(b[2:4]))
	if wTotalLength > len(b) {
		wTotalLength = len(b)
	}
	numInterfaces := int(b[4])
	cd := &ConfigurationDescriptor{
		ConfigurationValue: b[5],
		ConfigurationIndex: b[6],
		Attributes:         b[7],
		MaxPower:           b[8],
	}

	rest := b[ConfigurationHeaderLength:wTotalLength]
	for len(rest) >= 2 {
		length := int(rest[0])
		if length < 2 || length > len(rest) {
			break
		}
		descType := DescriptorType(rest[1])
		switch descType {
		case DescriptorTypeInterface:
			intf, consumed, err := decodeInterfaceDescriptor(rest)
			if err != nil {
				break
			}
			cd.Interfaces = append(cd.Interfaces, intf)
			rest = rest[consumed:]
			continue
		case DescriptorTypeHID:
			hid, err := decodeHIDDescriptor(rest[:length])
			if err != nil {
				break
			}
			cd.Extra = append(cd.Extra, hid)
		default:
			raw := append([]byte(nil), rest[:length]...)
			cd.Extra = append(cd.Extra, &UnknownDescriptor{RawDescriptor{DescType: descType, Raw: raw}})
		}
		rest = rest[length:]
	}

	return cd, nil
}
