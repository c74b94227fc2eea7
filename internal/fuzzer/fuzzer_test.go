package fuzzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usbmitm/controller/internal/emulator"
	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/wire"
)

func TestMutationAnsweredWithCorruptedDescriptor(t *testing.T) {
	emu := emulator.New(identity.Default(), false, nil)
	mutations := []Mutation{
		{Label: "bLength=0", Target: wire.DescriptorTypeDevice, Apply: func() wire.Descriptor {
			return &wire.RawDescriptor{DescType: wire.DescriptorTypeDevice, Raw: []byte{0x00, 0x01}}
		}},
	}
	s := New(emu, mutations, 50*time.Millisecond, nil)

	s.Tick()
	require.Equal(t, StateRunning, s.state)

	req := &wire.GetDescriptorRequest{DescriptorType: wire.DescriptorTypeDevice, Length: 64}
	msg := &wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{Endpoint: wire.USBEp{TransferType: wire.TransferTypeControl}, Request: req},
	}
	resp, handled := s.HandleDeviceRequest(msg)
	require.True(t, handled)
	require.Equal(t, []byte{0x00, 0x01}, resp.Data.Response.(*wire.RawDescriptor).Raw)

	time.Sleep(60 * time.Millisecond)
	s.Tick()
	require.Len(t, s.Results(), 1)
}
