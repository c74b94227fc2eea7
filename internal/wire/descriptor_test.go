package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeResponseDescriptorDispatchesOnTypeTag(t *testing.T) {
	dd := &DeviceDescriptor{USB: 0x0200, VendorID: 0x1234, ProductID: 0x5678, NumConfigurations: 1}
	got := DecodeResponseDescriptor(dd.Encode(nil))
	require.IsType(t, &DeviceDescriptor{}, got)
	require.Equal(t, uint16(0x1234), got.(*DeviceDescriptor).VendorID)
}

func TestDecodeResponseDescriptorStringRoundTrips(t *testing.T) {
	sd := &StringDescriptor{BString: []byte{'h', 0, 'i', 0}}
	encoded := sd.Encode(nil)
	got := DecodeResponseDescriptor(encoded)
	out, ok := got.(*StringDescriptor)
	require.True(t, ok)
	require.True(t, bytes.Equal(sd.BString, out.BString))
	require.True(t, bytes.Equal(encoded, out.Encode(nil)))
}

func TestDecodeResponseDescriptorHIDQuirkFiveBytes(t *testing.T) {
	// spec §9 Open Question (a): a 5-byte payload tagged "device
	// descriptor" is actually an HID report descriptor on the wire.
	raw := []byte{0x05, byte(DescriptorTypeDevice), 0xAA, 0xBB, 0xCC}
	got := DecodeResponseDescriptor(raw)
	hrd, ok := got.(*HIDReportDescriptor)
	require.True(t, ok, "expected HIDReportDescriptor quirk, got %T", got)
	require.True(t, bytes.Equal(raw, hrd.Raw))
}

func TestDecodeResponseDescriptorUnknownTypeFallsBackRaw(t *testing.T) {
	raw := []byte{0x04, 0x7E, 0x01, 0x02}
	got := DecodeResponseDescriptor(raw)
	ud, ok := got.(*UnknownDescriptor)
	require.True(t, ok, "expected UnknownDescriptor, got %T", got)
	require.True(t, bytes.Equal(raw, ud.Encode(nil)))
}

func TestDecodeResponseDescriptorShortPayloadFallsBackRaw(t *testing.T) {
	got := DecodeResponseDescriptor([]byte{0x01})
	rd, ok := got.(*RawDescriptor)
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, rd.Raw)
}

func TestConfigurationDescriptorRecomputesWTotalLength(t *testing.T) {
	cd := &ConfigurationDescriptor{
		ConfigurationValue: 1,
		Interfaces: []*InterfaceDescriptor{
			{
				InterfaceNumber: 0,
				Endpoints: []*EndpointDescriptor{
					{EndpointAddress: 0x81, Attributes: 0x03, MaxPacketSize: 8, Interval: 10},
				},
			},
		},
	}
	encoded := cd.Encode(nil)
	wTotalLength := int(encoded[2]) | int(encoded[3])<<8
	require.Equal(t, len(encoded), wTotalLength)

	decoded, err := decodeConfigurationDescriptor(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Interfaces, 1)
	require.Len(t, decoded.Interfaces[0].Endpoints, 1)
	require.Equal(t, uint8(0x81), decoded.Interfaces[0].Endpoints[0].EndpointAddress)
}

func TestHIDDescriptorRoundTrip(t *testing.T) {
	hd := &HIDDescriptor{HID: 0x0111, CountryCode: 0, ReportDescType: byte(DescriptorTypeHIDReport), ReportLength: 34}
	encoded := hd.Encode(nil)
	got := DecodeResponseDescriptor(encoded)
	out, ok := got.(*HIDDescriptor)
	require.True(t, ok)
	require.Equal(t, hd.ReportLength, out.ReportLength)
	require.True(t, bytes.Equal(encoded, out.Encode(nil)))
}
