package identity

import (
	"encoding/binary"
	"fmt"

	"github.com/usbmitm/controller/internal/wire"
)

// persistMagic tags the identity file format so a stray file doesn't
// silently decode as garbage descriptors.
const persistMagic = "UIDF"

// Marshal serializes an identity to a self-describing blob the cloner
// writes and the emulator loads (spec §6.3): the 4-byte persistMagic
// tag, a speed byte, then a count-prefixed list of length-prefixed
// descriptor blobs. It
// deliberately reuses the wire codec's own descriptor encoding rather
// than inventing a second format — the bytes it writes are exactly what
// wire.DecodeResponseDescriptor already knows how to read back.
func (d *DeviceIdentity) Marshal() []byte {
	var all []wire.Descriptor
	seen := make(map[wire.DescriptorType]bool)
	for _, t := range []wire.DescriptorType{
		wire.DescriptorTypeDevice,
		wire.DescriptorTypeConfiguration,
		wire.DescriptorTypeString,
		wire.DescriptorTypeInterface,
		wire.DescriptorTypeEndpoint,
		wire.DescriptorTypeHID,
		wire.DescriptorTypeHIDReport,
		wire.DescriptorTypeBOS,
	} {
		seen[t] = true
		all = append(all, d.descriptors[t]...)
	}
	// Descriptors under any other type tag (unknown or raw) follow in
	// ascending tag order.
	for t := 0; t <= 0xFF; t++ {
		if dt := wire.DescriptorType(t); !seen[dt] {
			all = append(all, d.descriptors[dt]...)
		}
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, persistMagic...)
	buf = append(buf, byte(d.Speed))
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(all)))
	buf = append(buf, count...)

	for _, desc := range all {
		encoded := desc.Encode(nil)
		length := make([]byte, 4)
		binary.LittleEndian.PutUint32(length, uint32(len(encoded)))
		buf = append(buf, length...)
		buf = append(buf, encoded...)
	}
	return buf
}

// Unmarshal reconstructs an identity from bytes produced by Marshal. The
// contract (spec §6.3) is that the result has identical descriptor
// sequences and speed to what was marshaled, not that the byte layout
// itself be stable across versions.
func Unmarshal(b []byte) (*DeviceIdentity, error) {
	if len(b) < len(persistMagic)+5 {
		return nil, fmt.Errorf("identity: file too short")
	}
	if string(b[:len(persistMagic)]) != persistMagic {
		return nil, fmt.Errorf("identity: bad magic")
	}
	b = b[len(persistMagic):]

	speed := wire.Speed(b[0])
	count := binary.LittleEndian.Uint32(b[1:5])
	b = b[5:]

	id := New(speed)
	for i := uint32(0); i < count; i++ {
		if len(b) < 4 {
			return nil, fmt.Errorf("identity: truncated descriptor length at entry %d", i)
		}
		length := binary.LittleEndian.Uint32(b[0:4])
		b = b[4:]
		if uint32(len(b)) < length {
			return nil, fmt.Errorf("identity: truncated descriptor body at entry %d", i)
		}
		id.Add(wire.DecodeResponseDescriptor(b[:length]))
		b = b[length:]
	}
	return id, nil
}
