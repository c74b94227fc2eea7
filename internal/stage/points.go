package stage

import (
	"time"

	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/wire"
)

// Packet is a fully decoded bridge datagram flowing through the
// pipeline. It is the same structured type for either direction; the
// engine tracks direction separately (spec §4.4).
type Packet = wire.USBMessage

// PluginDescriptor is the static description a stage can declare about
// itself via declare_plugins (spec §6.2): informational metadata plus a
// factory, for front ends that want to list or instantiate stages
// without importing their concrete packages.
type PluginDescriptor struct {
	Name        string
	Description string
	New         func() Stage
}

// Ticker implements the `tick` point: all-run, non-blocking housekeeping
// (emulators auto-connecting, watchers checking mtimes, scan/fuzz
// timers). Always invoked before the first I/O of an iteration (spec
// §4.4, §5).
type Ticker interface {
	Tick()
}

// PacketWaiter implements `wait_for_packet`: first-non-null, blocks at
// most the given timeout, returns true once any source has data.
type PacketWaiter interface {
	WaitForPacket(timeout time.Duration) bool
}

// PacketLogger implements `log_pkt`: all-run, side-effect only, must not
// mutate pkt (spec §6.2).
type PacketLogger interface {
	LogPkt(pkt *Packet, dir wire.Direction)
}

// DevicePacketSource implements the device→host half of the pipeline's
// dequeue/decode/encode/send points.
type DevicePacketSource interface {
	DeviceHasPacket() bool
	GetDevicePacket() []byte
}

type DeviceDecoder interface {
	DeviceDecode(b []byte) (*Packet, bool)
}

type DeviceModifier interface {
	DeviceModify(pkt *Packet)
}

type DeviceEncoder interface {
	DeviceEncode(pkt *Packet) ([]byte, bool)
}

type HostPacketSender interface {
	SendHostPacket(b []byte) bool
}

// HostPacketSource, HostDecoder, HostModifier, HostEncoder, and
// DevicePacketSender mirror the above for the host→device direction
// (spec §6.2 "mirror").
type HostPacketSource interface {
	HostHasPacket() bool
	GetHostPacket() []byte
}

type HostDecoder interface {
	HostDecode(b []byte) (*Packet, bool)
}

type HostModifier interface {
	HostModify(pkt *Packet)
}

type HostEncoder interface {
	HostEncode(pkt *Packet) ([]byte, bool)
}

type DevicePacketSender interface {
	SendDevicePacket(b []byte) bool
}

// Teardown implements `teardown`: all-run, releases resources, safe to
// call more than once.
type Teardown interface {
	Teardown()
}

// DeviceRequestHandler implements `handle_device_request`: first-non-null
// emulator request dispatch (spec §4.7).
type DeviceRequestHandler interface {
	HandleDeviceRequest(content *Packet) (*Packet, bool)
}

// IdentityProvider implements `device_identity`: first-non-null emulator
// identity provider (spec §4.7/§4.9).
type IdentityProvider interface {
	DeviceIdentity() (*identity.DeviceIdentity, bool)
}

// PluginDeclarer implements `declare_plugins`: all-run, static stage
// descriptors.
type PluginDeclarer interface {
	DeclarePlugins() []PluginDescriptor
}
