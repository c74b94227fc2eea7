package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestProxyLoopback implements spec §8 scenario 5: device-bind and
// host-send point at the same loopback port. Sending four bytes via
// SendHostPacket must surface them on the device side exactly once.
func TestProxyLoopback(t *testing.T) {
	s, err := New(Config{
		DeviceEnabled: true,
		DeviceBind:    "127.0.0.1:0",
		HostEnabled:   true,
		HostSend:      "127.0.0.1:0", // replaced below once the device port is known
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Teardown()

	// Start bound the device side to an ephemeral port; point the host
	// side's send destination at it now that the port is known.
	s.mu.Lock()
	s.hostAddr = s.deviceConn.LocalAddr().(*net.UDPAddr)
	s.mu.Unlock()

	payload := []byte{0x31, 0x32, 0x33, 0x34}
	require.True(t, s.SendHostPacket(payload))

	require.Eventually(t, func() bool {
		return s.WaitForPacket(50 * time.Millisecond)
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, s.DeviceHasPacket())
	got := s.GetDevicePacket()
	require.Equal(t, payload, got)
	require.False(t, s.DeviceHasPacket())
}
