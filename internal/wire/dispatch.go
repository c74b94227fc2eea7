package wire

// HIDReportDescriptor is the blob returned for a GET_DESCRIPTOR(HID
// report) request. Unlike the other descriptors it has no
// bLength/bDescriptorType header of its own — it's an opaque HID report
// map — so it is stored and re-emitted verbatim.
type HIDReportDescriptor struct {
	Raw []byte
}

func (d *HIDReportDescriptor) Type() DescriptorType { return DescriptorTypeHIDReport }

func (d *HIDReportDescriptor) Encode(buf []byte) []byte {
	return append(buf, d.Raw...)
}

// DecodeResponseDescriptor parses a GET_DESCRIPTOR response payload by
// peeking byte 1 (bDescriptorType) and dispatching to the matching
// decoder (spec §4.1). It never errors: bytes that don't parse as their
// tagged type come back as a RawDescriptor, and a type tag outside the
// known set comes back as an UnknownDescriptor, so the engine can always
// forward the bytes to the other side (spec §7 MalformedDatagram).
func DecodeResponseDescriptor(b []byte) Descriptor {
	if len(b) < 2 {
		return &RawDescriptor{Raw: append([]byte(nil), b...)}
	}
	descType := DescriptorType(b[1])

	switch descType {
	case DescriptorTypeDevice:
		switch {
		case len(b) == DeviceDescriptorLength:
			if dd, err := decodeDeviceDescriptor(b); err == nil {
				return dd
			}
		case len(b) == 5:
			// Legacy quirk (spec §9, Open Question a): a 5-byte payload
			// tagged "device descriptor" is actually an HID report
			// descriptor on the wire. Preserved rather than fixed.
			return &HIDReportDescriptor{Raw: append([]byte(nil), b...)}
		}
		return &RawDescriptor{DescType: descType, Raw: append([]byte(nil), b...)}

	case DescriptorTypeConfiguration:
		if cd, err := decodeConfigurationDescriptor(b); err == nil {
			return cd
		}
		return &RawDescriptor{DescType: descType, Raw: append([]byte(nil), b...)}

	case DescriptorTypeString:
		if sd, err := decodeStringDescriptor(b); err == nil {
			return sd
		}
		return &RawDescriptor{DescType: descType, Raw: append([]byte(nil), b...)}

	case DescriptorTypeInterface:
		if id, _, err := decodeInterfaceDescriptor(b); err == nil {
			return id
		}
		return &RawDescriptor{DescType: descType, Raw: append([]byte(nil), b...)}

	case DescriptorTypeEndpoint:
		if ed, err := decodeEndpointDescriptor(b); err == nil {
			return ed
		}
		return &RawDescriptor{DescType: descType, Raw: append([]byte(nil), b...)}

	case DescriptorTypeBOS:
		return &BOSDescriptor{Raw: append([]byte(nil), b...)}

	case DescriptorTypeHID:
		if hd, err := decodeHIDDescriptor(b); err == nil {
			return hd
		}
		return &RawDescriptor{DescType: descType, Raw: append([]byte(nil), b...)}

	case DescriptorTypeHIDReport:
		return &HIDReportDescriptor{Raw: append([]byte(nil), b...)}

	default:
		return &UnknownDescriptor{RawDescriptor{DescType: descType, Raw: append([]byte(nil), b...)}}
	}
}
