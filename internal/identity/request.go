package identity

import (
	"github.com/usbmitm/controller/internal/wire"
)

// FromRequest resolves a GET_DESCRIPTOR request against this identity
// (spec §4.2). String descriptors are selected by index, falling back to
// index 0 (the language table) when the index is out of range, and are
// returned without truncation. Every other descriptor type returns its
// first stored entry serialized and truncated to req.Length, then
// re-parsed — so the host can request short prefixes mid-enumeration
// and still get a structurally valid (if partial) descriptor back. A
// type with no stored descriptor at all reports "not handled here" via
// the second return value.
func (d *DeviceIdentity) FromRequest(req *wire.GetDescriptorRequest) (wire.Descriptor, bool) {
	if req.DescriptorType == wire.DescriptorTypeString {
		strs := d.Strings()
		if len(strs) == 0 {
			return nil, false
		}
		idx := int(req.DescriptorIndex)
		if idx < 0 || idx >= len(strs) {
			idx = 0
		}
		return strs[idx], true
	}

	list := d.descriptors[req.DescriptorType]
	if len(list) == 0 {
		return nil, false
	}
	serialized := list[0].Encode(nil)
	length := int(req.Length)
	if length > len(serialized) {
		length = len(serialized)
	}
	return wire.DecodeResponseDescriptor(serialized[:length]), true
}
