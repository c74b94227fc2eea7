package identity

import "github.com/usbmitm/controller/internal/wire"

// Default returns the stock identity the emulator presents when no
// other identity has been configured or cloned: a minimal bus-powered
// device at VID/PID 0x6464/0x6464, high speed (spec §8 scenario 2).
func Default() *DeviceIdentity {
	id := New(wire.SpeedHigh)
	id.Add(&wire.DeviceDescriptor{
		USB:               0x0200,
		DeviceClass:       0,
		DeviceSubClass:    0,
		DeviceProtocol:    0,
		MaxPacketSize0:    64,
		VendorID:          0x6464,
		ProductID:         0x6464,
		Device:            0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 0,
		NumConfigurations: 1,
	})
	id.Add(&wire.ConfigurationDescriptor{
		ConfigurationValue: 1,
		ConfigurationIndex: 0,
		Attributes:         0x80,
		MaxPower:           50,
		Interfaces: []*wire.InterfaceDescriptor{{
			InterfaceNumber:   0,
			AlternateSetting:  0,
			InterfaceClass:    0xFF, // vendor-specific
			InterfaceSubClass: 0,
			InterfaceProtocol: 0,
			InterfaceIndex:    0,
		}},
	})
	id.Add(&wire.StringDescriptor{BString: encodeUTF16LE(0x0409)}) // language IDs: en-US
	id.Add(&wire.StringDescriptor{BString: utf16leString("usbmitm")})
	id.Add(&wire.StringDescriptor{BString: utf16leString("virtual device")})
	return id
}

// encodeUTF16LE packs language IDs into the index-0 string descriptor's
// raw payload (spec §3: "a string-descriptor list whose index-0 entry
// is the language ID table").
func encodeUTF16LE(ids ...uint16) []byte {
	b := make([]byte, 2*len(ids))
	for i, id := range ids {
		b[2*i] = byte(id)
		b[2*i+1] = byte(id >> 8)
	}
	return b
}

func utf16leString(s string) []byte {
	b := make([]byte, 0, 2*len(s))
	for _, r := range s {
		b = append(b, byte(r), 0)
	}
	return b
}
