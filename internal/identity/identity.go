// Package identity models a DeviceIdentity: the set of descriptors that
// fully characterize a virtual or observed USB device for enumeration
// purposes (spec §3, §4.2).
package identity

import (
	"fmt"

	"github.com/usbmitm/controller/internal/wire"
)

// DeviceIdentity is a mapping descriptor-type → ordered descriptor list,
// plus a negotiated speed. It owns its descriptors outright: there are
// no references back into a wire.USBMessage they might have been
// decoded from (design note, §9).
type DeviceIdentity struct {
	Speed       wire.Speed
	descriptors map[wire.DescriptorType][]wire.Descriptor
}

// New returns an empty identity at the given speed.
func New(speed wire.Speed) *DeviceIdentity {
	return &DeviceIdentity{
		Speed:       speed,
		descriptors: make(map[wire.DescriptorType][]wire.Descriptor),
	}
}

// Add appends a descriptor under its own type.
func (d *DeviceIdentity) Add(desc wire.Descriptor) {
	d.descriptors[desc.Type()] = append(d.descriptors[desc.Type()], desc)
}

// List returns the descriptors stored under t, in insertion order.
func (d *DeviceIdentity) List(t wire.DescriptorType) []wire.Descriptor {
	return d.descriptors[t]
}

// Device returns the identity's single device descriptor, or nil if the
// identity has not been given one yet.
func (d *DeviceIdentity) Device() *wire.DeviceDescriptor {
	for _, desc := range d.descriptors[wire.DescriptorTypeDevice] {
		if dd, ok := desc.(*wire.DeviceDescriptor); ok {
			return dd
		}
	}
	return nil
}

// Configuration returns the identity's primary (first) configuration
// descriptor, or nil.
func (d *DeviceIdentity) Configuration() *wire.ConfigurationDescriptor {
	for _, desc := range d.descriptors[wire.DescriptorTypeConfiguration] {
		if cd, ok := desc.(*wire.ConfigurationDescriptor); ok {
			return cd
		}
	}
	return nil
}

// Strings returns the identity's string-descriptor list, index 0 being
// the language-ID table (spec §3).
func (d *DeviceIdentity) Strings() []wire.Descriptor {
	return d.descriptors[wire.DescriptorTypeString]
}

// Validate checks the identity invariants (spec §3): exactly one device
// descriptor, exactly one primary configuration descriptor, and — if any
// strings are present at all — a non-empty index-0 language table.
func (d *DeviceIdentity) Validate() error {
	if n := len(d.descriptors[wire.DescriptorTypeDevice]); n != 1 {
		return fmt.Errorf("identity: expected exactly one device descriptor, got %d", n)
	}
	if n := len(d.descriptors[wire.DescriptorTypeConfiguration]); n != 1 {
		return fmt.Errorf("identity: expected exactly one configuration descriptor, got %d", n)
	}
	if strs := d.Strings(); len(strs) > 0 {
		if sd, ok := strs[0].(*wire.StringDescriptor); !ok || len(sd.BString) == 0 {
			return fmt.Errorf("identity: string descriptor index 0 is not a language table")
		}
	}
	return nil
}

// FromInterface builds an identity that wraps a single interface
// descriptor in a freshly synthesized configuration descriptor (spec
// §3, "constructed ... from a single Interface descriptor").
func FromInterface(speed wire.Speed, device *wire.DeviceDescriptor, intf *wire.InterfaceDescriptor) *DeviceIdentity {
	id := New(speed)
	id.Add(device)
	id.Add(&wire.ConfigurationDescriptor{
		ConfigurationValue: 1,
		ConfigurationIndex: 0,
		Attributes:         0x80, // bus-powered, no remote wakeup
		MaxPower:           50,   // 100mA in 2mA units
		Interfaces:         []*wire.InterfaceDescriptor{intf},
	})
	return id
}

// FromNewDevice builds an identity from a captured MANAGEMENT/NEW_DEVICE
// message (spec §3).
func FromNewDevice(nd *wire.ManagementNewDevice) *DeviceIdentity {
	id := New(nd.Speed)
	if nd.Device != nil {
		id.Add(nd.Device)
	}
	if nd.Configuration != nil {
		id.Add(nd.Configuration)
	}
	return id
}

// ToNewDevice builds the MANAGEMENT/NEW_DEVICE payload announcing this
// identity, emitted once on (re)connection (spec §4.2).
func (d *DeviceIdentity) ToNewDevice() *wire.ManagementNewDevice {
	return &wire.ManagementNewDevice{
		Speed:         d.Speed,
		Device:        d.Device(),
		Configuration: d.Configuration(),
	}
}
