// Package codecstage adapts the wire codec (C1) to the engine's
// device_decode/device_encode/host_decode/host_encode extension points.
// It is always registered: without it nothing in the chain can turn raw
// bytes into a structured Packet or back.
package codecstage

import (
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/wire"
)

const Name = "codec"

// Stage implements the four decode/encode extension points by delegating
// straight to the wire package. Descriptor bytes that don't parse
// cleanly still come back as a message carrying raw/unknown descriptors
// (spec §4.1); the decoders report "unhandled" only when the datagram is
// too short for its own fixed header fields. It should be registered
// ahead of any modify-only user stage, but behind nothing that wants a
// crack at decoding first.
type Stage struct {
	log *logging.Logger
}

// New creates the codec stage.
func New(log *logging.Logger) *Stage {
	if log == nil {
		log = logging.Default()
	}
	return &Stage{log: log}
}

func (s *Stage) Name() string { return Name }

func (s *Stage) DeviceDecode(b []byte) (*wire.USBMessage, bool) {
	msg, err := wire.DecodeMessage(b, wire.DeviceToHost)
	if err != nil {
		s.log.Warnf("codec: device_decode: %v", err)
		return nil, false
	}
	return msg, true
}

func (s *Stage) HostDecode(b []byte) (*wire.USBMessage, bool) {
	msg, err := wire.DecodeMessage(b, wire.HostToDevice)
	if err != nil {
		s.log.Warnf("codec: host_decode: %v", err)
		return nil, false
	}
	return msg, true
}

func (s *Stage) DeviceEncode(pkt *wire.USBMessage) ([]byte, bool) {
	return pkt.Encode(wire.DeviceToHost), true
}

func (s *Stage) HostEncode(pkt *wire.USBMessage) ([]byte, bool) {
	return pkt.Encode(wire.HostToDevice), true
}
