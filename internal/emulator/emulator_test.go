package emulator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/wire"
)

// The tests below cover the emulator side of spec §8 scenarios 2–4:
// connect announces NEW_DEVICE, a GET_DESCRIPTOR(device) request on
// control-0 gets answered from the identity, and SET_CONFIGURATION
// transitions to configured.
func TestConnectAnnouncesNewDevice(t *testing.T) {
	id := identity.Default()
	s := New(id, false, nil)

	require.False(t, s.DeviceHasPacket())
	s.Connect()
	require.Equal(t, StateConnected, s.State())
	require.True(t, s.DeviceHasPacket())

	b := s.GetDevicePacket()
	msg, err := wire.DecodeMessage(b, wire.DeviceToHost)
	require.NoError(t, err)
	require.Equal(t, wire.KindManagement, msg.Kind)
	require.Equal(t, wire.ManagementNewDeviceSubtype, msg.Management.Subtype)
	require.False(t, s.DeviceHasPacket())
}

func TestGetDescriptorIsAnsweredDirectly(t *testing.T) {
	id := identity.Default()
	s := New(id, false, nil)
	s.Connect()
	s.GetDevicePacket() // drain NEW_DEVICE

	req := &wire.GetDescriptorRequest{DescriptorType: wire.DescriptorTypeDevice, Length: 64}
	reqMsg := &wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{
			Endpoint: wire.USBEp{Number: 0, TransferType: wire.TransferTypeControl, Direction: wire.DirectionIn},
			Request:  req,
		},
	}
	resp, handled := s.HandleDeviceRequest(reqMsg)
	require.True(t, handled)
	require.NotNil(t, resp)
	require.Equal(t, wire.KindUSBData, resp.Kind)
	require.NotNil(t, resp.Data.Response)
	require.Equal(t, wire.DescriptorTypeDevice, resp.Data.Response.Type())
}

func TestSetConfigurationTransitionsToConfigured(t *testing.T) {
	id := identity.Default()
	s := New(id, false, nil)
	s.Connect()

	req := &wire.SetConfigurationRequest{ConfigurationValue: 1}
	msg := &wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{
			Endpoint: wire.USBEp{Number: 0, TransferType: wire.TransferTypeControl, Direction: wire.DirectionOut},
			Request:  req,
		},
	}
	resp, handled := s.HandleDeviceRequest(msg)
	require.True(t, handled)
	require.Nil(t, resp)
	require.Equal(t, StateConfigured, s.State())
}

func TestDisconnectEnqueuesReset(t *testing.T) {
	id := identity.Default()
	s := New(id, false, nil)
	s.Connect()
	s.GetDevicePacket()

	s.Disconnect()
	require.Equal(t, StateDisconnected, s.State())
	b := s.GetDevicePacket()
	msg, err := wire.DecodeMessage(b, wire.DeviceToHost)
	require.NoError(t, err)
	require.Equal(t, wire.ManagementReset, msg.Management.Subtype)
}
