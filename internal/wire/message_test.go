package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDecodeThenEncodeIdentityScenario1 is spec scenario 1: a
// host→device GET_DESCRIPTOR(device, wLength=64) must decode to the
// expected request and re-encode to the original bytes verbatim.
func TestDecodeThenEncodeIdentityScenario1(t *testing.T) {
	input := []byte{
		0x1a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x80, 0x06, 0x00, 0x01, 0x00, 0x00,
		0x40, 0x00,
	}
	require.Len(t, input, 26)

	msg, err := DecodeMessage(input, HostToDevice)
	require.NoError(t, err)
	require.Equal(t, KindUSBData, msg.Kind)
	require.NotNil(t, msg.Data)
	require.True(t, msg.Data.Endpoint.IsControlZero())

	req, ok := msg.Data.Request.(*GetDescriptorRequest)
	require.True(t, ok, "expected a GetDescriptorRequest, got %T", msg.Data.Request)
	require.Equal(t, DescriptorTypeDevice, req.DescriptorType)
	require.Equal(t, uint16(64), req.Length)

	out := msg.Encode(HostToDevice)
	require.True(t, bytes.Equal(input, out), "round trip mismatch:\n got %x\nwant %x", out, input)
}

func buildGetDescriptorDatagram(descType DescriptorType, wLength uint16) []byte {
	msg := &USBMessage{
		Kind: KindUSBData,
		Data: &USBDataPayload{
			Endpoint: USBEp{Number: 0, TransferType: TransferTypeControl, Direction: DirectionOut},
			Request: &GetDescriptorRequest{
				common:         common{bmRequestType: 0x80, bRequest: BRequestGetDescriptor},
				DescriptorType: descType,
				Length:         wLength,
			},
		},
	}
	return msg.Encode(HostToDevice)
}

// TestCodecRoundTripProperty exercises the §8 round-trip property over a
// small handcrafted corpus spanning every descriptor/message shape the
// codec recognizes, rather than a fuzz-generated corpus.
func TestCodecRoundTripProperty(t *testing.T) {
	device := &DeviceDescriptor{
		USB: 0x0200, DeviceClass: 0xFF, MaxPacketSize0: 64,
		VendorID: 0x6464, ProductID: 0x6464, NumConfigurations: 1,
	}
	config := &ConfigurationDescriptor{
		ConfigurationValue: 1,
		MaxPower:           50,
		Interfaces: []*InterfaceDescriptor{
			{
				InterfaceNumber: 0, InterfaceClass: 0x08,
				Endpoints: []*EndpointDescriptor{
					{EndpointAddress: 0x81, Attributes: 0x02, MaxPacketSize: 64},
					{EndpointAddress: 0x02, Attributes: 0x02, MaxPacketSize: 64},
				},
			},
		},
	}

	cases := []struct {
		name string
		dir  Direction
		msg  *USBMessage
	}{
		{
			name: "management/new_device",
			dir:  HostToDevice,
			msg: &USBMessage{
				Kind: KindManagement,
				Management: &ManagementPayload{
					Subtype:   ManagementNewDeviceSubtype,
					NewDevice: &ManagementNewDevice{Speed: SpeedHigh, Device: device, Configuration: config},
				},
			},
		},
		{
			name: "management/reset",
			dir:  HostToDevice,
			msg:  &USBMessage{Kind: KindManagement, Management: &ManagementPayload{Subtype: ManagementReset}},
		},
		{
			name: "ack",
			dir:  DeviceToHost,
			msg: &USBMessage{
				Kind: KindACK,
				ACK: &ACKPayload{
					Endpoint: USBEp{Number: 1, TransferType: TransferTypeBulk, Direction: DirectionIn},
					Status:   0,
					Data:     []byte{0xDE, 0xAD},
				},
			},
		},
		{
			name: "usb_data/bulk passthrough",
			dir:  DeviceToHost,
			msg: &USBMessage{
				Kind: KindUSBData,
				Data: &USBDataPayload{
					Endpoint: USBEp{Number: 2, TransferType: TransferTypeBulk, Direction: DirectionIn},
					Data:     []byte{0x01, 0x02, 0x03},
				},
			},
		},
		{
			name: "usb_data/device descriptor response",
			dir:  DeviceToHost,
			msg: &USBMessage{
				Kind: KindUSBData,
				Data: &USBDataPayload{
					Endpoint: USBEp{Number: 0, TransferType: TransferTypeControl, Direction: DirectionIn},
					Request: &GetDescriptorRequest{
						common:         common{bmRequestType: 0x80, bRequest: BRequestGetDescriptor},
						DescriptorType: DescriptorTypeDevice,
						Length:         18,
					},
					Response: device,
				},
			},
		},
		{
			name: "usb_data/configuration descriptor response",
			dir:  DeviceToHost,
			msg: &USBMessage{
				Kind: KindUSBData,
				Data: &USBDataPayload{
					Endpoint: USBEp{Number: 0, TransferType: TransferTypeControl, Direction: DirectionIn},
					Request: &GetDescriptorRequest{
						common:         common{bmRequestType: 0x80, bRequest: BRequestGetDescriptor},
						DescriptorType: DescriptorTypeConfiguration,
						Length:         64,
					},
					Response: config,
				},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.msg.Encode(tc.dir)
			decoded, err := DecodeMessage(encoded, tc.dir)
			require.NoError(t, err)
			reencoded := decoded.Encode(tc.dir)
			require.True(t, bytes.Equal(encoded, reencoded), "round trip mismatch for %s:\n got %x\nwant %x", tc.name, reencoded, encoded)

			if tc.msg.Kind == KindUSBData && tc.msg.Data.Response != nil {
				if cd, ok := decoded.Data.Response.(*ConfigurationDescriptor); ok {
					total := cd.Encode(nil)
					require.Len(t, total, int(total[2])|int(total[3])<<8, "encoded length must equal wTotalLength")
				}
			}
		})
	}
}

func TestGetDescriptorDatagramBuilderRoundTrips(t *testing.T) {
	b := buildGetDescriptorDatagram(DescriptorTypeDevice, 64)
	msg, err := DecodeMessage(b, HostToDevice)
	require.NoError(t, err)
	req, ok := msg.Data.Request.(*GetDescriptorRequest)
	require.True(t, ok)
	require.Equal(t, DescriptorTypeDevice, req.DescriptorType)
	require.Equal(t, uint16(64), req.Length)
}
