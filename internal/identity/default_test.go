package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/usbmitm/controller/internal/wire"
)

// TestDefaultMatchesScenario2 pins the default identity's VID/PID and
// speed to spec §8 scenario 2's expectations.
func TestDefaultMatchesScenario2(t *testing.T) {
	id := Default()
	require.Equal(t, wire.SpeedHigh, id.Speed)
	require.NoError(t, id.Validate())

	dev := id.Device()
	require.NotNil(t, dev)
	require.Equal(t, uint16(0x6464), dev.VendorID)
	require.Equal(t, uint16(0x6464), dev.ProductID)

	nd := id.ToNewDevice()
	require.Equal(t, wire.Speed(3), nd.Speed) // HIGH_SPEED=3
}
