// Package transport implements the UDP proxy stage (C5): two
// independent, non-blocking UDP sockets relaying datagrams between the
// physical bridge (device side) and a peer speaking the host side of
// the protocol (spec §4.5).
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/wire"
)

const Name = "transport"

// State is the transport's own small state machine (spec §4.5): idle at
// construction, running once Start has bound its sockets.
type State int

const (
	StateIdle State = iota
	StateRunning
)

// Stage is the UDP transport. Either side may be disabled; a disabled
// side's has-packet/get points always report "no packet" and the
// engine's poll skips its socket (spec §4.5).
type Stage struct {
	log *logging.Logger

	mu    sync.Mutex
	state State

	deviceEnabled bool
	deviceConn    *net.UDPConn
	deviceAddr    *net.UDPAddr // bind address
	deviceRemote  *net.UDPAddr // captured on first receive; send destination
	deviceQueue   [][]byte

	hostEnabled bool
	hostConn    *net.UDPConn
	hostAddr    *net.UDPAddr // configured send destination
	hostQueue   [][]byte

	// pending* hold a datagram already consumed off the wire by the
	// portable poll fallback (poll_other.go), so drain*Socket doesn't
	// need to read twice. The Linux poll path (poll_unix.go) never sets
	// these since its poll doesn't consume the datagram.
	pendingDevice     []byte
	pendingDeviceAddr *net.UDPAddr
	pendingHost       []byte
}

// Config selects which sides are active and their addresses.
type Config struct {
	DeviceEnabled bool
	DeviceBind    string // e.g. "0.0.0.0:27015", the bridge's destination

	HostEnabled bool
	HostSend    string // e.g. "127.0.0.1:27016", the host-side peer
}

// New constructs (but does not bind) a transport stage.
func New(cfg Config, log *logging.Logger) (*Stage, error) {
	if log == nil {
		log = logging.Default()
	}
	s := &Stage{log: log, deviceEnabled: cfg.DeviceEnabled, hostEnabled: cfg.HostEnabled}

	if cfg.DeviceEnabled {
		addr, err := net.ResolveUDPAddr("udp", cfg.DeviceBind)
		if err != nil {
			return nil, fmt.Errorf("transport: resolve device bind %q: %w", cfg.DeviceBind, err)
		}
		s.deviceAddr = addr
	}
	if cfg.HostEnabled {
		addr, err := net.ResolveUDPAddr("udp", cfg.HostSend)
		if err != nil {
			return nil, fmt.Errorf("transport: resolve host send %q: %w", cfg.HostSend, err)
		}
		s.hostAddr = addr
	}
	return s, nil
}

func (s *Stage) Name() string { return Name }

// Start binds the enabled sockets and transitions idle→running (spec
// §4.5 state machine).
func (s *Stage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deviceEnabled {
		conn, err := net.ListenUDP("udp", s.deviceAddr)
		if err != nil {
			return fmt.Errorf("transport: listen device %v: %w", s.deviceAddr, err)
		}
		s.deviceConn = conn
	}
	if s.hostEnabled {
		conn, err := net.ListenUDP("udp", nil) // ephemeral local port
		if err != nil {
			return fmt.Errorf("transport: listen host: %w", err)
		}
		s.hostConn = conn
	}
	s.state = StateRunning
	return nil
}

// Reset sends a MANAGEMENT/RESET datagram to the device side and
// transitions running→idle (spec §4.5).
func (s *Stage) Reset() error {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	return s.sendManagement(wire.ManagementReset)
}

// Reload sends a MANAGEMENT/RELOAD datagram to the device side and
// transitions idle→running (spec §4.5).
func (s *Stage) Reload() error {
	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	return s.sendManagement(wire.ManagementReload)
}

func (s *Stage) sendManagement(subtype wire.ManagementSubtype) error {
	msg := &wire.USBMessage{Kind: wire.KindManagement, Management: &wire.ManagementPayload{Subtype: subtype}}
	return s.sendToDevice(msg.Encode(wire.DeviceToHost))
}

func (s *Stage) sendToDevice(b []byte) error {
	s.mu.Lock()
	conn, remote := s.deviceConn, s.deviceRemote
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	if remote == nil {
		s.log.Infof("transport: %v", ErrDeviceNotConnected)
		return ErrDeviceNotConnected
	}
	_, err := conn.WriteToUDP(b, remote)
	if err != nil {
		s.log.Warnf("transport: send to device: %v", err)
	}
	return err
}

// Teardown closes both sockets. Safe to call more than once.
func (s *Stage) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceConn != nil {
		s.deviceConn.Close()
		s.deviceConn = nil
	}
	if s.hostConn != nil {
		s.hostConn.Close()
		s.hostConn = nil
	}
}

// WaitForPacket polls whichever sockets are active for up to timeout,
// and on finding data, drains it into the relevant in-memory queue
// (spec §4.5, §4.4 step 2). Returns false immediately if no socket is
// active, so other stages' WaitForPacket get a chance to report local
// work instead (spec "if no wire sockets are active, it still returns
// true when any non-wire stage reports queued data" — satisfied by this
// stage staying out of the way).
func (s *Stage) WaitForPacket(timeout time.Duration) bool {
	s.mu.Lock()
	deviceConn, hostConn := s.deviceConn, s.hostConn
	s.mu.Unlock()

	if deviceConn == nil && hostConn == nil {
		return false
	}

	deviceReady, hostReady := pollReadable(s, deviceConn, hostConn, timeout)
	found := false
	if deviceReady {
		found = s.drainDeviceSocket() || found
	}
	if hostReady {
		found = s.drainHostSocket() || found
	}
	return found
}

func (s *Stage) drainDeviceSocket() bool {
	s.mu.Lock()
	if s.pendingDevice != nil {
		datagram := s.pendingDevice
		s.pendingDevice = nil
		if s.pendingDeviceAddr != nil {
			s.deviceRemote = s.pendingDeviceAddr
			s.pendingDeviceAddr = nil
		}
		s.deviceQueue = append(s.deviceQueue, datagram)
		s.mu.Unlock()
		return true
	}
	conn := s.deviceConn
	s.mu.Unlock()
	if conn == nil {
		return false
	}

	buf := make([]byte, wire.MaxDatagramSize)
	conn.SetReadDeadline(time.Now())
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return false
	}
	datagram := append([]byte(nil), buf[:n]...)
	s.mu.Lock()
	s.deviceRemote = addr
	s.deviceQueue = append(s.deviceQueue, datagram)
	s.mu.Unlock()
	return true
}

func (s *Stage) drainHostSocket() bool {
	s.mu.Lock()
	if s.pendingHost != nil {
		datagram := s.pendingHost
		s.pendingHost = nil
		s.hostQueue = append(s.hostQueue, datagram)
		s.mu.Unlock()
		return true
	}
	conn := s.hostConn
	s.mu.Unlock()
	if conn == nil {
		return false
	}

	buf := make([]byte, wire.MaxDatagramSize)
	conn.SetReadDeadline(time.Now())
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return false
	}
	datagram := append([]byte(nil), buf[:n]...)
	s.mu.Lock()
	s.hostQueue = append(s.hostQueue, datagram)
	s.mu.Unlock()
	return true
}

func (s *Stage) DeviceHasPacket() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceEnabled && len(s.deviceQueue) > 0
}

func (s *Stage) GetDevicePacket() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.deviceEnabled || len(s.deviceQueue) == 0 {
		return nil
	}
	b := s.deviceQueue[0]
	s.deviceQueue = s.deviceQueue[1:]
	return b
}

func (s *Stage) HostHasPacket() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostEnabled && len(s.hostQueue) > 0
}

func (s *Stage) GetHostPacket() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hostEnabled || len(s.hostQueue) == 0 {
		return nil
	}
	b := s.hostQueue[0]
	s.hostQueue = s.hostQueue[1:]
	return b
}

// SendHostPacket delivers bytes to the configured host-side peer.
func (s *Stage) SendHostPacket(b []byte) bool {
	s.mu.Lock()
	conn, addr, enabled := s.hostConn, s.hostAddr, s.hostEnabled
	s.mu.Unlock()
	if !enabled || conn == nil {
		return false
	}
	if _, err := conn.WriteToUDP(b, addr); err != nil {
		s.log.Warnf("transport: send_host_packet: %v", err)
	}
	return true
}

// SendDevicePacket delivers bytes to the bridge, once it has been seen
// at least once (spec §4.5, §7 DeviceNotConnected).
func (s *Stage) SendDevicePacket(b []byte) bool {
	s.mu.Lock()
	enabled := s.deviceEnabled
	s.mu.Unlock()
	if !enabled {
		return false
	}
	if err := s.sendToDevice(b); err != nil {
		// Logged and dropped inside sendToDevice/ErrDeviceNotConnected;
		// still "handled" from the registry's point of view (spec §9
		// Open Question c: drop and log, not raise).
		return true
	}
	return true
}
