package wire

import "encoding/binary"

// Kind is the bridge datagram's top-level discriminant (spec §3, §6.1).
type Kind uint32

const (
	KindUSBData    Kind = 0
	KindACK        Kind = 1
	KindManagement Kind = 2
)

// HeaderLength is the 8-byte (len, kind) datagram header.
const HeaderLength = 8

// MaxDatagramSize is the largest datagram the controller accepts over
// the bridge link (spec §6.1).
const MaxDatagramSize = 4096

// TransferType is the USB transfer type carried in a USBEp.
type TransferType uint32

const (
	TransferTypeControl     TransferType = 0
	TransferTypeIsochronous TransferType = 1
	TransferTypeBulk        TransferType = 2
	TransferTypeInterrupt   TransferType = 3
)

// EndpointDirection is the bridge's notion of direction, fixed from the
// USB host's perspective: IN means device-to-host payload (spec §3).
type EndpointDirection uint32

const (
	DirectionIn  EndpointDirection = 0
	DirectionOut EndpointDirection = 1
)

// USBEp identifies the endpoint a datagram's payload belongs to.
type USBEp struct {
	Number       uint16
	TransferType TransferType
	Direction    EndpointDirection
}

// IsControlZero reports whether this is the default control endpoint,
// the only endpoint whose USB_DATA payload may carry a request/response
// descriptor (spec §3, §4.1).
func (ep USBEp) IsControlZero() bool {
	return ep.Number == 0 && ep.TransferType == TransferTypeControl
}

const usbEpLength = 2 + 4 + 4

func (ep USBEp) Encode(buf []byte) []byte {
	b := make([]byte, usbEpLength)
	binary.LittleEndian.PutUint16(b[0:2], ep.Number)
	binary.LittleEndian.PutUint32(b[2:6], uint32(ep.TransferType))
	binary.LittleEndian.PutUint32(b[6:10], uint32(ep.Direction))
	return append(buf, b...)
}

func decodeUSBEp(b []byte) (USBEp, []byte, error) {
	if len(b) < usbEpLength {
		return USBEp{}, nil, errShortEndpoint
	}
	ep := USBEp{
		Number:       binary.LittleEndian.Uint16(b[0:2]),
		TransferType: TransferType(binary.LittleEndian.Uint32(b[2:6])),
		Direction:    EndpointDirection(binary.LittleEndian.Uint32(b[6:10])),
	}
	return ep, b[usbEpLength:], nil
}

// Direction distinguishes which socket a USB_DATA datagram arrived from
// or is destined for; it governs which optional fields the codec expects
// (spec §3) since the wire format itself carries the same Kind value for
// both directions.
type Direction int

const (
	DeviceToHost Direction = iota
	HostToDevice
)

// USBDataPayload is the body of a USB_DATA datagram.
type USBDataPayload struct {
	Endpoint USBEp
	Request  Request    // present only when Endpoint.IsControlZero()
	Response Descriptor // device→host only, present only when Endpoint.IsControlZero()
	Data     []byte      // raw trailing bytes
}

// ACKPayload is the body of an ACK datagram: a transport-level
// acknowledgment, independent of USB handshake PIDs (spec §3).
type ACKPayload struct {
	Endpoint USBEp
	Status   int32
	Data     []byte
}

// ManagementSubtype discriminates the MANAGEMENT datagram body.
type ManagementSubtype uint32

const (
	ManagementReset     ManagementSubtype = 0
	ManagementNewDeviceSubtype ManagementSubtype = 1
	ManagementReload    ManagementSubtype = 2
)

// Speed is the virtual/observed device's negotiated USB speed.
type Speed uint8

const (
	SpeedLow  Speed = 1
	SpeedFull Speed = 2
	SpeedHigh Speed = 3
)

// ManagementNewDevice is the content of a MANAGEMENT/NEW_DEVICE
// datagram: everything a peer needs to know a device just (re)connected.
type ManagementNewDevice struct {
	Speed         Speed
	Device        *DeviceDescriptor
	Configuration *ConfigurationDescriptor
}

func (nd *ManagementNewDevice) encode(buf []byte) []byte {
	buf = append(buf, byte(nd.Speed))
	if nd.Device != nil {
		buf = nd.Device.Encode(buf)
	}
	if nd.Configuration != nil {
		buf = nd.Configuration.Encode(buf)
	}
	return buf
}

func decodeManagementNewDevice(b []byte) (*ManagementNewDevice, error) {
	if len(b) < 1+DeviceDescriptorLength {
		return nil, errShortManagement
	}
	nd := &ManagementNewDevice{Speed: Speed(b[0])}
	dd, err := decodeDeviceDescriptor(b[1 : 1+DeviceDescriptorLength])
	if err != nil {
		return nil, err
	}
	nd.Device = dd
	rest := b[1+DeviceDescriptorLength:]
	if len(rest) >= ConfigurationHeaderLength {
		if cd, err := decodeConfigurationDescriptor(rest); err == nil {
			nd.Configuration = cd
		}
	}
	return nd, nil
}

// ManagementPayload is the body of a MANAGEMENT datagram.
type ManagementPayload struct {
	Subtype   ManagementSubtype
	NewDevice *ManagementNewDevice // set only when Subtype == ManagementNewDeviceSubtype
}

// USBMessage is a fully decoded bridge datagram (spec §3).
type USBMessage struct {
	Kind       Kind
	Data       *USBDataPayload
	ACK        *ACKPayload
	Management *ManagementPayload
}

// DecodeMessage parses a complete bridge datagram. dir tells the codec
// which side this datagram travelled, since USB_DATA's optional fields
// differ by direction but share the same Kind value (spec §3).
//
// Decoding never fails outright for descriptor content it doesn't
// recognize — malformed or unknown descriptors degrade to
// RawDescriptor/UnknownDescriptor so the engine can still forward the
// bytes (spec §4.1, §7). It does fail if the datagram is too short to
// contain its own fixed-size header fields, since there is nothing
// meaningful to forward in that case.
func DecodeMessage(b []byte, dir Direction) (*USBMessage, error) {
	if len(b) < HeaderLength {
		return nil, errShortHeader
	}
	kind := Kind(binary.LittleEndian.Uint32(b[4:8]))
	payload := b[HeaderLength:]

	msg := &USBMessage{Kind: kind}
	switch kind {
	case KindUSBData:
		data, err := decodeUSBData(payload, dir)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	case KindACK:
		ack, err := decodeACK(payload)
		if err != nil {
			return nil, err
		}
		msg.ACK = ack
	case KindManagement:
		mgmt, err := decodeManagement(payload)
		if err != nil {
			return nil, err
		}
		msg.Management = mgmt
	}
	return msg, nil
}

func decodeUSBData(b []byte, dir Direction) (*USBDataPayload, error) {
	ep, rest, err := decodeUSBEp(b)
	if err != nil {
		return nil, err
	}
	data := &USBDataPayload{Endpoint: ep}

	if ep.IsControlZero() && len(rest) >= SetupPacketLength {
		req, err := DecodeRequest(rest[:SetupPacketLength])
		if err == nil {
			data.Request = req
		}
		rest = rest[SetupPacketLength:]

		if dir == DeviceToHost && len(rest) > 0 {
			data.Response = DecodeResponseDescriptor(rest)
			// The response descriptor consumes the whole remainder: its
			// own length fields (or, for raw/HID-report bytes, the
			// datagram boundary itself) are authoritative.
			rest = nil
		}
	}

	data.Data = append([]byte(nil), rest...)
	return data, nil
}

func decodeACK(b []byte) (*ACKPayload, error) {
	ep, rest, err := decodeUSBEp(b)
	if err != nil {
		return nil, err
	}
	if len(rest) < 4 {
		return nil, errShortACK
	}
	status := int32(binary.LittleEndian.Uint32(rest[0:4]))
	return &ACKPayload{Endpoint: ep, Status: status, Data: append([]byte(nil), rest[4:]...)}, nil
}

func decodeManagement(b []byte) (*ManagementPayload, error) {
	if len(b) < 4 {
		return nil, errShortManagement
	}
	subtype := ManagementSubtype(binary.LittleEndian.Uint32(b[0:4]))
	mgmt := &ManagementPayload{Subtype: subtype}
	if subtype == ManagementNewDeviceSubtype {
		nd, err := decodeManagementNewDevice(b[4:])
		if err != nil {
			return nil, err
		}
		mgmt.NewDevice = nd
	}
	return mgmt, nil
}

// Encode serializes the message back to bridge wire bytes, filling in
// the header length from the actual serialized size (spec §4.1).
func (m *USBMessage) Encode(dir Direction) []byte {
	buf := make([]byte, HeaderLength, 64)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.Kind))

	switch m.Kind {
	case KindUSBData:
		buf = m.Data.encode(buf, dir)
	case KindACK:
		buf = m.ACK.encode(buf)
	case KindManagement:
		buf = m.Management.encode(buf)
	}

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	return buf
}

func (d *USBDataPayload) encode(buf []byte, dir Direction) []byte {
	buf = d.Endpoint.Encode(buf)
	if d.Endpoint.IsControlZero() && d.Request != nil {
		buf = d.Request.Encode(buf)
		if dir == DeviceToHost && d.Response != nil {
			buf = d.Response.Encode(buf)
			return buf
		}
	}
	buf = append(buf, d.Data...)
	return buf
}

func (a *ACKPayload) encode(buf []byte) []byte {
	buf = a.Endpoint.Encode(buf)
	status := make([]byte, 4)
	binary.LittleEndian.PutUint32(status, uint32(a.Status))
	buf = append(buf, status...)
	buf = append(buf, a.Data...)
	return buf
}

func (m *ManagementPayload) encode(buf []byte) []byte {
	subtype := make([]byte, 4)
	binary.LittleEndian.PutUint32(subtype, uint32(m.Subtype))
	buf = append(buf, subtype...)
	if m.Subtype == ManagementNewDeviceSubtype && m.NewDevice != nil {
		buf = m.NewDevice.encode(buf)
	}
	return buf
}
