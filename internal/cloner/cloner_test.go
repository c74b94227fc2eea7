package cloner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/wire"
)

// TestCloneRoundtrip follows the shape of spec §8 scenario 6: a
// NEW_DEVICE followed by one GET_DESCRIPTOR(string) response and a RESET
// must produce an identity file whose reload yields the NEW_DEVICE's own
// device+configuration descriptors plus that string descriptor.
func TestCloneRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clone.bin")
	s := New(path, nil)

	device := &wire.DeviceDescriptor{VendorID: 0x1234, ProductID: 0x5678}
	config := &wire.ConfigurationDescriptor{ConfigurationValue: 1}
	s.LogPkt(&wire.USBMessage{
		Kind:       wire.KindManagement,
		Management: &wire.ManagementPayload{Subtype: wire.ManagementNewDeviceSubtype, NewDevice: &wire.ManagementNewDevice{Speed: wire.SpeedHigh, Device: device, Configuration: config}},
	}, wire.DeviceToHost)
	require.Equal(t, StateObserving, s.State())

	strDesc := &wire.StringDescriptor{BString: []byte{0x09, 0x04}}
	s.LogPkt(&wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{
			Endpoint: wire.USBEp{Number: 0, TransferType: wire.TransferTypeControl, Direction: wire.DirectionIn},
			Request:  &wire.GetDescriptorRequest{DescriptorType: wire.DescriptorTypeString},
			Response: strDesc,
		},
	}, wire.DeviceToHost)

	s.LogPkt(&wire.USBMessage{Kind: wire.KindManagement, Management: &wire.ManagementPayload{Subtype: wire.ManagementReset}}, wire.DeviceToHost)
	require.Equal(t, StateIdle, s.State())
	require.NoError(t, s.LastSaveError())

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	got, err := identity.Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, wire.SpeedHigh, got.Speed)
	require.NotNil(t, got.Device())
	require.Equal(t, uint16(0x1234), got.Device().VendorID)
	require.NotNil(t, got.Configuration())
	require.Len(t, got.Strings(), 1)
}
