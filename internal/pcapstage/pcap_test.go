package pcapstage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usbmitm/controller/internal/wire"
)

func TestLogPktWritesGlobalHeaderAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcap")
	s, err := New(path, nil)
	require.NoError(t, err)

	pkt := &wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{
			Endpoint: wire.USBEp{Number: 1, TransferType: wire.TransferTypeBulk, Direction: wire.DirectionIn},
			Data:     []byte{0xde, 0xad, 0xbe, 0xef},
		},
	}
	s.LogPkt(pkt, wire.DeviceToHost)
	s.Teardown()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b), 24)
	require.Equal(t, byte(0xd4), b[0]) // magic number, little-endian low byte
	require.Equal(t, uint8(2), b[4])   // version major
}

func TestManagementNotLogged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcap")
	s, err := New(path, nil)
	require.NoError(t, err)

	s.LogPkt(&wire.USBMessage{Kind: wire.KindManagement, Management: &wire.ManagementPayload{Subtype: wire.ManagementReset}}, wire.DeviceToHost)
	s.Teardown()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, b, 24) // global header only, no records appended
}
