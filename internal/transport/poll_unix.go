//go:build linux

package transport

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// pollReadable blocks for up to timeout waiting for either socket to
// become readable, using a raw unix.Poll over both file descriptors —
// the literal reading of spec §4.5's "blocks on a poll over its
// sockets". Either conn may be nil if that side is disabled.
func pollReadable(s *Stage, deviceConn, hostConn *net.UDPConn, timeout time.Duration) (deviceReady, hostReady bool) {
	type target struct {
		fd       int32
		isDevice bool
	}
	var targets []target

	if deviceConn != nil {
		if raw, err := deviceConn.SyscallConn(); err == nil {
			raw.Control(func(fd uintptr) {
				targets = append(targets, target{fd: int32(fd), isDevice: true})
			})
		}
	}
	if hostConn != nil {
		if raw, err := hostConn.SyscallConn(); err == nil {
			raw.Control(func(fd uintptr) {
				targets = append(targets, target{fd: int32(fd), isDevice: false})
			})
		}
	}
	if len(targets) == 0 {
		return false, false
	}

	fds := make([]unix.PollFd, len(targets))
	for i, t := range targets {
		fds[i] = unix.PollFd{Fd: t.fd, Events: unix.POLLIN}
	}

	millis := int(timeout / time.Millisecond)
	if millis <= 0 {
		millis = 1
	}
	n, err := unix.Poll(fds, millis)
	if err != nil || n <= 0 {
		return false, false
	}

	for i, fd := range fds {
		if fd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
			continue
		}
		if targets[i].isDevice {
			deviceReady = true
		} else {
			hostReady = true
		}
	}
	return deviceReady, hostReady
}
