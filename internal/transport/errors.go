package transport

import "errors"

// ErrDeviceNotConnected is returned when a device-bound send is
// attempted before the bridge has ever sent us a datagram (spec §4.5,
// §7). It is non-fatal: callers log at info and drop the packet.
var ErrDeviceNotConnected = errors.New("transport: device not connected")
