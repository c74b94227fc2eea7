//go:build !linux

package transport

import (
	"net"
	"time"

	"github.com/usbmitm/controller/internal/wire"
)

// pollReadable is the portable fallback for platforms without
// unix.Poll: it performs an actual bounded read on each enabled socket
// and stashes whatever it receives in s.pending*, so the caller's
// subsequent drain*Socket doesn't read twice (spec §4.5 still gets a
// single bounded wait per iteration, just without true multiplexing —
// a device-side and host-side datagram arriving in the same window may
// take two iterations to both surface instead of one).
func pollReadable(s *Stage, deviceConn, hostConn *net.UDPConn, timeout time.Duration) (deviceReady, hostReady bool) {
	deadline := time.Now().Add(timeout)

	if deviceConn != nil {
		buf := make([]byte, wire.MaxDatagramSize)
		deviceConn.SetReadDeadline(deadline)
		if n, addr, err := deviceConn.ReadFromUDP(buf); err == nil {
			s.mu.Lock()
			s.pendingDevice = append([]byte(nil), buf[:n]...)
			s.pendingDeviceAddr = addr
			s.mu.Unlock()
			deviceReady = true
			return deviceReady, hostReady
		}
	}
	if hostConn != nil {
		buf := make([]byte, wire.MaxDatagramSize)
		hostConn.SetReadDeadline(deadline)
		if n, _, err := hostConn.ReadFromUDP(buf); err == nil {
			s.mu.Lock()
			s.pendingHost = append([]byte(nil), buf[:n]...)
			s.mu.Unlock()
			hostReady = true
		}
	}
	return deviceReady, hostReady
}
