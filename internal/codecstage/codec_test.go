package codecstage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/usbmitm/controller/internal/wire"
)

func TestDeviceDecodeEncodeRoundTrips(t *testing.T) {
	s := New(nil)
	msg := &wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{
			Endpoint: wire.USBEp{Number: 1, TransferType: wire.TransferTypeBulk, Direction: wire.DirectionIn},
			Data:     []byte{1, 2, 3},
		},
	}
	encoded := msg.Encode(wire.DeviceToHost)

	decoded, ok := s.DeviceDecode(encoded)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, decoded.Data.Data)

	reencoded, ok := s.DeviceEncode(decoded)
	require.True(t, ok)
	require.Equal(t, encoded, reencoded)
}

func TestHostDecodeRejectsShortDatagram(t *testing.T) {
	s := New(nil)
	_, ok := s.HostDecode([]byte{0x01, 0x02})
	require.False(t, ok, "a datagram shorter than the 8-byte header must be rejected, not panic")
}

func TestHostDecodeEncodeRoundTrips(t *testing.T) {
	s := New(nil)
	msg := &wire.USBMessage{Kind: wire.KindManagement, Management: &wire.ManagementPayload{Subtype: wire.ManagementReset}}
	encoded := msg.Encode(wire.HostToDevice)

	decoded, ok := s.HostDecode(encoded)
	require.True(t, ok)
	require.Equal(t, wire.ManagementReset, decoded.Management.Subtype)

	reencoded, ok := s.HostEncode(decoded)
	require.True(t, ok)
	require.Equal(t, encoded, reencoded)
}
