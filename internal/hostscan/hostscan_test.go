package hostscan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usbmitm/controller/internal/config"
	"github.com/usbmitm/controller/internal/emulator"
	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/wire"
)

func TestScanDetectsConfiguredState(t *testing.T) {
	emu := emulator.New(identity.Default(), false, nil)
	catalog := []config.CandidateSpec{
		{Name: "hid-keyboard", VendorID: 0x046D, ProductID: 0xC31C, InterfaceClass: 0x03, NumEndpoints: 1},
	}
	s := New(emu, catalog, 50*time.Millisecond, nil)

	s.Tick() // idle -> waiting, connects with candidate 0
	require.Equal(t, StateWaiting, s.state)

	// Simulate the host accepting configuration.
	req := &wire.SetConfigurationRequest{ConfigurationValue: 1}
	_, _ = emu.HandleDeviceRequest(&wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{Endpoint: wire.USBEp{TransferType: wire.TransferTypeControl}, Request: req},
	})

	s.LogPkt(&wire.USBMessage{Kind: wire.KindUSBData, Data: &wire.USBDataPayload{Endpoint: wire.USBEp{}}}, wire.HostToDevice)
	s.Tick() // waiting -> concludes, since detected

	require.Len(t, s.Results(), 1)
	require.True(t, s.Results()[0].Supported)
}

func TestScanTimesOutUndetected(t *testing.T) {
	emu := emulator.New(identity.Default(), false, nil)
	catalog := []config.CandidateSpec{{Name: "printer"}}
	s := New(emu, catalog, 1*time.Millisecond, nil)

	s.Tick()
	time.Sleep(5 * time.Millisecond)
	s.Tick()

	require.Len(t, s.Results(), 1)
	require.False(t, s.Results()[0].Supported)
}
