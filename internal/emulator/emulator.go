// Package emulator implements the virtual device emulator stage (C7,
// spec §4.7): a USB device state machine that answers enumeration from
// a DeviceIdentity without any physical device present.
package emulator

import (
	"sync"
	"time"

	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/wire"
)

const Name = "emulator"

// State is the emulator's enumeration state machine (spec §4.7).
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateConfigured
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateConfigured:
		return "configured"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stage is the device emulator. It doubles as the transport interface's
// "device side" when the real device socket is disabled: out-bound
// datagrams it produces (NEW_DEVICE on connect, RESET on disconnect,
// GET_DESCRIPTOR responses) are exposed through DeviceHasPacket/
// GetDevicePacket, and raw device-bound bytes (from the host) accepted
// via SendDevicePacket are queued and decoded on the next Tick.
type Stage struct {
	log *logging.Logger

	mu          sync.Mutex
	state       State
	autoConnect bool
	identity    *identity.DeviceIdentity
	configValue uint8

	outQueue [][]byte
	inQueue  [][]byte
}

// New creates an emulator presenting id. autoConnect, if true, makes
// Tick call Connect whenever the state is disconnected (spec §4.7 "if
// disconnected (and configured to auto-connect), call connect").
func New(id *identity.DeviceIdentity, autoConnect bool, log *logging.Logger) *Stage {
	if log == nil {
		log = logging.Default()
	}
	return &Stage{log: log, identity: id, autoConnect: autoConnect}
}

func (s *Stage) Name() string { return Name }

// State reports the current enumeration state.
func (s *Stage) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetIdentity swaps the presented identity. Used by the host-scan stage
// to cycle through candidate identities between connect/disconnect
// cycles (spec §4.9).
func (s *Stage) SetIdentity(id *identity.DeviceIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
}

// Connect transitions disconnected→connected and enqueues the
// NEW_DEVICE announcement (spec §4.7).
func (s *Stage) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	s.state = StateConnected
	s.configValue = 0
	if s.identity == nil {
		return
	}
	msg := &wire.USBMessage{
		Kind:       wire.KindManagement,
		Management: &wire.ManagementPayload{Subtype: wire.ManagementNewDeviceSubtype, NewDevice: s.identity.ToNewDevice()},
	}
	s.enqueueOutLocked(msg.Encode(wire.DeviceToHost))
}

// Disconnect transitions to disconnected and enqueues a RESET (spec
// §4.7). Safe to call from any non-terminated state.
func (s *Stage) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	s.state = StateDisconnected
	s.enqueueResetLocked()
}

// Terminate moves to terminated from any state (spec §4.7 diagram) and
// enqueues a RESET so observers downstream see a clean teardown.
func (s *Stage) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTerminated
	s.enqueueResetLocked()
}

func (s *Stage) enqueueResetLocked() {
	msg := &wire.USBMessage{Kind: wire.KindManagement, Management: &wire.ManagementPayload{Subtype: wire.ManagementReset}}
	s.enqueueOutLocked(msg.Encode(wire.DeviceToHost))
}

func (s *Stage) enqueueOutLocked(b []byte) {
	s.outQueue = append(s.outQueue, b)
}

// Tick implements stage.Ticker (spec §4.7): auto-connects when
// disconnected, then drains the in-queue of device-bound bytes fed via
// SendDevicePacket.
func (s *Stage) Tick() {
	s.mu.Lock()
	autoConnect := s.autoConnect && s.state == StateDisconnected
	pending := s.inQueue
	s.inQueue = nil
	s.mu.Unlock()

	if autoConnect {
		s.Connect()
	}

	for _, b := range pending {
		s.handleInbound(b)
	}
}

func (s *Stage) handleInbound(b []byte) {
	msg, err := wire.DecodeMessage(b, wire.HostToDevice)
	if err != nil {
		s.log.Warnf("emulator: decode inbound: %v", err)
		return
	}
	if resp, handled := s.HandleDeviceRequest(msg); handled && resp != nil {
		s.mu.Lock()
		s.enqueueOutLocked(resp.Encode(wire.DeviceToHost))
		s.mu.Unlock()
	}
}

// HandleDeviceRequest implements stage.DeviceRequestHandler (spec §4.7,
// §6.2): control-0 GET_DESCRIPTOR and SET_CONFIGURATION are answered
// directly; everything else is left unhandled for other stages (a real
// device side, if present).
func (s *Stage) HandleDeviceRequest(content *wire.USBMessage) (*wire.USBMessage, bool) {
	if content.Kind != wire.KindUSBData || content.Data == nil {
		return nil, false
	}
	data := content.Data
	if !data.Endpoint.IsControlZero() || data.Request == nil {
		return nil, false
	}

	switch req := data.Request.(type) {
	case *wire.GetDescriptorRequest:
		s.mu.Lock()
		id := s.identity
		s.mu.Unlock()
		if id == nil {
			return nil, false
		}
		desc, ok := id.FromRequest(req)
		if !ok {
			return nil, false
		}
		resp := &wire.USBMessage{
			Kind: wire.KindUSBData,
			Data: &wire.USBDataPayload{Endpoint: data.Endpoint, Request: data.Request, Response: desc},
		}
		return resp, true

	case *wire.SetConfigurationRequest:
		s.mu.Lock()
		s.configValue = req.ConfigurationValue
		s.state = StateConfigured
		s.mu.Unlock()
		return nil, true

	default:
		return nil, false
	}
}

// DeviceIdentity implements stage.IdentityProvider (spec §6.2).
func (s *Stage) DeviceIdentity() (*identity.DeviceIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil, false
	}
	return s.identity, true
}

// WaitForPacket implements stage.PacketWaiter: this stage queues data
// locally rather than blocking on I/O, so it reports immediately rather
// than waiting out the timeout, so a queued NEW_DEVICE/response does
// not sit behind a full poll window in a topology where this is the only
// source of work.
func (s *Stage) WaitForPacket(time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outQueue) > 0
}

// DeviceHasPacket/GetDevicePacket expose the out-queue as the transport
// interface's device side (spec §4.7).
func (s *Stage) DeviceHasPacket() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outQueue) > 0
}

func (s *Stage) GetDevicePacket() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outQueue) == 0 {
		return nil
	}
	b := s.outQueue[0]
	s.outQueue = s.outQueue[1:]
	return b
}

// SendDevicePacket accepts host-bound raw bytes into the in-queue,
// drained on the next Tick (spec §4.7).
func (s *Stage) SendDevicePacket(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false
	}
	s.inQueue = append(s.inQueue, append([]byte(nil), b...))
	return true
}

// Teardown terminates the emulator (spec §6.2 all-run teardown point).
func (s *Stage) Teardown() {
	s.Terminate()
}
