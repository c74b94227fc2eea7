package wire

import "encoding/binary"

// Standard control request codes dispatched by the codec (spec §4.1).
const (
	BRequestGetReport        = 0x01
	BRequestGetDescriptor    = 0x06
	BRequestSetConfiguration = 0x09
	BRequestSetIdle          = 0x0A
	BRequestSetInterface     = 0x0B
)

// SetupPacketLength is the fixed size of a USB control setup packet:
// bmRequestType, bRequest, wValue, wIndex, wLength.
const SetupPacketLength = 8

// RequestKind discriminates the control-request variants the codec
// recognizes. Dispatch is on bRequest alone, matching the pack the
// request belongs to (spec §4.1): the (bmRequestType, bRequest) pair is
// mentioned for context but the switch itself keys on bRequest.
type RequestKind uint8

const (
	RequestKindGetDescriptor RequestKind = iota
	RequestKindGetReport
	RequestKindSetConfiguration
	RequestKindSetIdle
	RequestKindSetInterface
	RequestKindGeneric
)

// Request is a decoded control-0 setup packet. Every variant carries
// enough information to reconstruct its original 8 bytes exactly.
type Request interface {
	Kind() RequestKind
	BmRequestType() uint8
	BRequest() uint8
	// Encode appends the 8-byte setup packet to buf.
	Encode(buf []byte) []byte
}

type common struct {
	bmRequestType uint8
	bRequest      uint8
}

func (c common) BmRequestType() uint8 { return c.bmRequestType }
func (c common) BRequest() uint8      { return c.bRequest }

func encodeSetup(buf []byte, bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16) []byte {
	b := make([]byte, SetupPacketLength)
	b[0] = bmRequestType
	b[1] = bRequest
	binary.LittleEndian.PutUint16(b[2:4], wValue)
	binary.LittleEndian.PutUint16(b[4:6], wIndex)
	binary.LittleEndian.PutUint16(b[6:8], wLength)
	return append(buf, b...)
}

// GetDescriptorRequest is a GET_DESCRIPTOR control request (bRequest=6).
type GetDescriptorRequest struct {
	common
	DescriptorType  DescriptorType
	DescriptorIndex uint8
	LanguageID      uint16 // wIndex; the language ID for strings, unused otherwise
	Length          uint16 // wLength
}

func (r *GetDescriptorRequest) Kind() RequestKind { return RequestKindGetDescriptor }

func (r *GetDescriptorRequest) Encode(buf []byte) []byte {
	wValue := uint16(r.DescriptorIndex) | uint16(r.DescriptorType)<<8
	return encodeSetup(buf, r.bmRequestType, r.bRequest, wValue, r.LanguageID, r.Length)
}

// GetReportRequest is a HID GET_REPORT control request (bRequest=1).
type GetReportRequest struct {
	common
	ReportType uint8 // wValue high byte
	ReportID   uint8 // wValue low byte
	Interface  uint16
	Length     uint16
}

func (r *GetReportRequest) Kind() RequestKind { return RequestKindGetReport }

func (r *GetReportRequest) Encode(buf []byte) []byte {
	wValue := uint16(r.ReportID) | uint16(r.ReportType)<<8
	return encodeSetup(buf, r.bmRequestType, r.bRequest, wValue, r.Interface, r.Length)
}

// SetConfigurationRequest is a SET_CONFIGURATION control request (bRequest=9).
type SetConfigurationRequest struct {
	common
	ConfigurationValue uint8 // wValue low byte
}

func (r *SetConfigurationRequest) Kind() RequestKind { return RequestKindSetConfiguration }

func (r *SetConfigurationRequest) Encode(buf []byte) []byte {
	return encodeSetup(buf, r.bmRequestType, r.bRequest, uint16(r.ConfigurationValue), 0, 0)
}

// SetIdleRequest is a HID SET_IDLE control request (bRequest=0xA).
type SetIdleRequest struct {
	common
	Duration  uint8 // wValue high byte
	ReportID  uint8 // wValue low byte
	Interface uint16
}

func (r *SetIdleRequest) Kind() RequestKind { return RequestKindSetIdle }

func (r *SetIdleRequest) Encode(buf []byte) []byte {
	wValue := uint16(r.ReportID) | uint16(r.Duration)<<8
	return encodeSetup(buf, r.bmRequestType, r.bRequest, wValue, r.Interface, 0)
}

// SetInterfaceRequest is a SET_INTERFACE control request (bRequest=0xB).
type SetInterfaceRequest struct {
	common
	AlternateSetting uint16 // wValue
	InterfaceNumber  uint16 // wIndex
}

func (r *SetInterfaceRequest) Kind() RequestKind { return RequestKindSetInterface }

func (r *SetInterfaceRequest) Encode(buf []byte) []byte {
	return encodeSetup(buf, r.bmRequestType, r.bRequest, r.AlternateSetting, r.InterfaceNumber, 0)
}

// GenericRequest is any control request the codec does not special-case.
type GenericRequest struct {
	common
	WValue  uint16
	WIndex  uint16
	WLength uint16
}

func (r *GenericRequest) Kind() RequestKind { return RequestKindGeneric }

func (r *GenericRequest) Encode(buf []byte) []byte {
	return encodeSetup(buf, r.bmRequestType, r.bRequest, r.WValue, r.WIndex, r.WLength)
}

// DecodeRequest parses an 8-byte control setup packet.
func DecodeRequest(b []byte) (Request, error) {
	if len(b) < SetupPacketLength {
		return nil, errShortSetupPacket
	}
	bmRequestType := b[0]
	bRequest := b[1]
	wValue := binary.LittleEndian.Uint16(b[2:4])
	wIndex := binary.LittleEndian.Uint16(b[4:6])
	wLength := binary.LittleEndian.Uint16(b[6:8])
	base := common{bmRequestType: bmRequestType, bRequest: bRequest}

	switch bRequest {
	case BRequestGetDescriptor:
		return &GetDescriptorRequest{
			common:          base,
			DescriptorIndex: uint8(wValue & 0xFF),
			DescriptorType:  DescriptorType(wValue >> 8),
			LanguageID:      wIndex,
			Length:          wLength,
		}, nil
	case BRequestGetReport:
		return &GetReportRequest{
			common:     base,
			ReportID:   uint8(wValue & 0xFF),
			ReportType: uint8(wValue >> 8),
			Interface:  wIndex,
			Length:     wLength,
		}, nil
	case BRequestSetConfiguration:
		return &SetConfigurationRequest{common: base, ConfigurationValue: uint8(wValue & 0xFF)}, nil
	case BRequestSetIdle:
		return &SetIdleRequest{
			common:    base,
			ReportID:  uint8(wValue & 0xFF),
			Duration:  uint8(wValue >> 8),
			Interface: wIndex,
		}, nil
	case BRequestSetInterface:
		return &SetInterfaceRequest{common: base, AlternateSetting: wValue, InterfaceNumber: wIndex}, nil
	default:
		return &GenericRequest{common: base, WValue: wValue, WIndex: wIndex, WLength: wLength}, nil
	}
}
