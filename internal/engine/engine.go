// Package engine drives the single-threaded cooperative loop described
// in spec §4.4 and §5: one tick of housekeeping, one bounded wait for
// work, then a full drain of each direction in turn.
package engine

import (
	"context"
	"time"

	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/stage"
	"github.com/usbmitm/controller/internal/telemetry"
	"github.com/usbmitm/controller/internal/wire"
)

// WaitTimeout bounds the single suspension point in the whole engine
// (spec §4.4, §5).
const WaitTimeout = 1 * time.Second

// Engine owns the stage registry and runs the main loop against it.
type Engine struct {
	Registry *stage.Registry
	log      *logging.Logger
	sampler  *telemetry.Sampler // nil disables telemetry logging

	tickCount      uint64
	telemetryEvery uint64
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithTelemetry samples host-wide CPU/mem every interval ticks and logs it
// at debug level (SPEC_FULL §2 A2). interval <= 0 disables sampling.
func WithTelemetry(s *telemetry.Sampler, interval uint64) Option {
	return func(e *Engine) {
		e.sampler = s
		e.telemetryEvery = interval
	}
}

// New creates an engine over reg, logging through log (or the process
// default if nil).
func New(reg *stage.Registry, log *logging.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logging.Default()
	}
	e := &Engine{Registry: reg, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the cooperative loop until ctx is canceled, then performs
// the shutdown sequence: teardown, followed by one final drain pass to
// flush in-flight reset/disconnect datagrams (spec §4.4 step 5, §5
// Cancellation).
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		default:
		}

		e.iterate()
	}
}

func (e *Engine) iterate() {
	e.tick()
	e.maybeSampleTelemetry()
	e.waitForPacket(WaitTimeout)
	e.drainDevice()
	e.drainHost()
}

func (e *Engine) shutdown() {
	e.teardown()
	e.drainDevice()
	e.drainHost()
}

func (e *Engine) maybeSampleTelemetry() {
	if e.sampler == nil || e.telemetryEvery == 0 {
		return
	}
	e.tickCount++
	if e.tickCount%e.telemetryEvery != 0 {
		return
	}
	if sample, err := e.sampler.Sample(); err == nil {
		e.log.Debugf("telemetry: cpu=%.1f%% mem_used=%dMiB", sample.CPUPercent, sample.RSSBytes/(1<<20))
	}
}

// tick implements the `tick` extension point: all-run (spec §6.2),
// always fired before the first I/O of the iteration so emulators get a
// deterministic enqueue point (spec §5).
func (e *Engine) tick() {
	for _, s := range e.Registry.Stages() {
		t, ok := s.(stage.Ticker)
		if !ok {
			continue
		}
		e.Registry.Safe(s.Name(), "tick", func() { t.Tick() })
	}
}

// waitForPacket implements `wait_for_packet`: first-non-null, each
// implementing stage gets up to timeout to report whether work is
// available. A non-blocking stage (emulator queues, the hot-reload
// watcher) naturally returns immediately; registering those ahead of
// the UDP transport means the transport's real poll only happens once
// nothing is already pending.
func (e *Engine) waitForPacket(timeout time.Duration) bool {
	for _, s := range e.Registry.Stages() {
		w, ok := s.(stage.PacketWaiter)
		if !ok {
			continue
		}
		var result bool
		e.Registry.Safe(s.Name(), "wait_for_packet", func() { result = w.WaitForPacket(timeout) })
		if result {
			return true
		}
	}
	return false
}

// teardown implements `teardown`: all-run, safe to call more than once
// (spec §6.2).
func (e *Engine) teardown() {
	for _, s := range e.Registry.Stages() {
		t, ok := s.(stage.Teardown)
		if !ok {
			continue
		}
		e.Registry.Safe(s.Name(), "teardown", func() { t.Teardown() })
	}
}

func (e *Engine) logPkt(pkt *wire.USBMessage, dir wire.Direction) {
	for _, s := range e.Registry.Stages() {
		l, ok := s.(stage.PacketLogger)
		if !ok {
			continue
		}
		e.Registry.Safe(s.Name(), "log_pkt", func() { l.LogPkt(pkt, dir) })
	}
}

// drainDevice runs the device→host pipeline (spec §4.4 step 3): while
// device_has_packet, decode → log_pkt → modify (in place) → encode →
// send_host_packet. The engine drains this direction completely before
// switching to the other (spec §5 Ordering guarantees).
func (e *Engine) drainDevice() {
	for e.deviceHasPacket() {
		b, ok := e.getDevicePacket()
		if !ok {
			break
		}
		pkt, ok := e.deviceDecode(b)
		if !ok {
			e.log.Warnf("drainDevice: no stage decoded %d bytes, dropping", len(b))
			continue
		}
		e.logPkt(pkt, wire.DeviceToHost)
		e.deviceModify(pkt)
		encoded, ok := e.deviceEncode(pkt)
		if !ok {
			e.log.Warnf("drainDevice: no stage encoded packet, dropping")
			continue
		}
		e.sendHostPacket(encoded)
	}
}

// drainHost mirrors drainDevice, with one addition (spec §4.7, §6.2):
// after host_modify, handle_device_request gets first crack at the
// packet. A stage that answers it (the emulator, on control-0 requests)
// short-circuits the rest of the pipeline: a non-nil response is routed
// back to the host through device_encode/send_host_packet as if it came
// from a real device; a nil response with handled=true means the
// request was fully absorbed (e.g. SET_CONFIGURATION) and nothing is
// forwarded. Only when no stage claims the request does it fall through
// to the ordinary host_encode → send_device_packet passthrough.
func (e *Engine) drainHost() {
	for e.hostHasPacket() {
		b, ok := e.getHostPacket()
		if !ok {
			break
		}
		pkt, ok := e.hostDecode(b)
		if !ok {
			e.log.Warnf("drainHost: no stage decoded %d bytes, dropping", len(b))
			continue
		}
		e.logPkt(pkt, wire.HostToDevice)
		e.hostModify(pkt)

		if resp, handled := e.handleDeviceRequest(pkt); handled {
			if resp != nil {
				e.logPkt(resp, wire.DeviceToHost)
				if encoded, ok := e.deviceEncode(resp); ok {
					e.sendHostPacket(encoded)
				}
			}
			continue
		}

		encoded, ok := e.hostEncode(pkt)
		if !ok {
			e.log.Warnf("drainHost: no stage encoded packet, dropping")
			continue
		}
		e.sendDevicePacket(encoded)
	}
}

// handleDeviceRequest implements `handle_device_request`: first-non-null
// (spec §6.2).
func (e *Engine) handleDeviceRequest(pkt *wire.USBMessage) (*wire.USBMessage, bool) {
	for _, s := range e.Registry.Stages() {
		h, ok := s.(stage.DeviceRequestHandler)
		if !ok {
			continue
		}
		var resp *wire.USBMessage
		var handled bool
		e.Registry.Safe(s.Name(), "handle_device_request", func() { resp, handled = h.HandleDeviceRequest(pkt) })
		if handled {
			return resp, true
		}
	}
	return nil, false
}

// DeviceIdentity implements `device_identity`: first-non-null (spec
// §6.2). Exposed so external collaborators (the hostscan/fuzzer CLIs)
// can report which identity is currently active without depending on
// the concrete emulator type.
func (e *Engine) DeviceIdentity() (*identity.DeviceIdentity, bool) {
	for _, s := range e.Registry.Stages() {
		p, ok := s.(stage.IdentityProvider)
		if !ok {
			continue
		}
		var id *identity.DeviceIdentity
		var handled bool
		e.Registry.Safe(s.Name(), "device_identity", func() { id, handled = p.DeviceIdentity() })
		if handled {
			return id, true
		}
	}
	return nil, false
}

func (e *Engine) deviceHasPacket() bool {
	any := false
	for _, s := range e.Registry.Stages() {
		h, ok := s.(stage.DevicePacketSource)
		if !ok {
			continue
		}
		var result bool
		e.Registry.Safe(s.Name(), "device_has_packet", func() { result = h.DeviceHasPacket() })
		any = any || result
	}
	return any
}

func (e *Engine) getDevicePacket() ([]byte, bool) {
	for _, s := range e.Registry.Stages() {
		h, ok := s.(stage.DevicePacketSource)
		if !ok {
			continue
		}
		var b []byte
		e.Registry.Safe(s.Name(), "get_device_packet", func() { b = h.GetDevicePacket() })
		if b != nil {
			return b, true
		}
	}
	return nil, false
}

func (e *Engine) deviceDecode(b []byte) (*wire.USBMessage, bool) {
	for _, s := range e.Registry.Stages() {
		d, ok := s.(stage.DeviceDecoder)
		if !ok {
			continue
		}
		var pkt *wire.USBMessage
		var handled bool
		e.Registry.Safe(s.Name(), "device_decode", func() { pkt, handled = d.DeviceDecode(b) })
		if handled {
			return pkt, true
		}
	}
	return nil, false
}

func (e *Engine) deviceModify(pkt *wire.USBMessage) {
	for _, s := range e.Registry.Stages() {
		m, ok := s.(stage.DeviceModifier)
		if !ok {
			continue
		}
		e.Registry.Safe(s.Name(), "device_modify", func() { m.DeviceModify(pkt) })
	}
}

func (e *Engine) deviceEncode(pkt *wire.USBMessage) ([]byte, bool) {
	for _, s := range e.Registry.Stages() {
		enc, ok := s.(stage.DeviceEncoder)
		if !ok {
			continue
		}
		var b []byte
		var handled bool
		e.Registry.Safe(s.Name(), "device_encode", func() { b, handled = enc.DeviceEncode(pkt) })
		if handled {
			return b, true
		}
	}
	return nil, false
}

func (e *Engine) sendHostPacket(b []byte) bool {
	for _, s := range e.Registry.Stages() {
		snd, ok := s.(stage.HostPacketSender)
		if !ok {
			continue
		}
		var handled bool
		e.Registry.Safe(s.Name(), "send_host_packet", func() { handled = snd.SendHostPacket(b) })
		if handled {
			return true
		}
	}
	return false
}

func (e *Engine) hostHasPacket() bool {
	any := false
	for _, s := range e.Registry.Stages() {
		h, ok := s.(stage.HostPacketSource)
		if !ok {
			continue
		}
		var result bool
		e.Registry.Safe(s.Name(), "host_has_packet", func() { result = h.HostHasPacket() })
		any = any || result
	}
	return any
}

func (e *Engine) getHostPacket() ([]byte, bool) {
	for _, s := range e.Registry.Stages() {
		h, ok := s.(stage.HostPacketSource)
		if !ok {
			continue
		}
		var b []byte
		e.Registry.Safe(s.Name(), "get_host_packet", func() { b = h.GetHostPacket() })
		if b != nil {
			return b, true
		}
	}
	return nil, false
}

func (e *Engine) hostDecode(b []byte) (*wire.USBMessage, bool) {
	for _, s := range e.Registry.Stages() {
		d, ok := s.(stage.HostDecoder)
		if !ok {
			continue
		}
		var pkt *wire.USBMessage
		var handled bool
		e.Registry.Safe(s.Name(), "host_decode", func() { pkt, handled = d.HostDecode(b) })
		if handled {
			return pkt, true
		}
	}
	return nil, false
}

func (e *Engine) hostModify(pkt *wire.USBMessage) {
	for _, s := range e.Registry.Stages() {
		m, ok := s.(stage.HostModifier)
		if !ok {
			continue
		}
		e.Registry.Safe(s.Name(), "host_modify", func() { m.HostModify(pkt) })
	}
}

func (e *Engine) hostEncode(pkt *wire.USBMessage) ([]byte, bool) {
	for _, s := range e.Registry.Stages() {
		enc, ok := s.(stage.HostEncoder)
		if !ok {
			continue
		}
		var b []byte
		var handled bool
		e.Registry.Safe(s.Name(), "host_encode", func() { b, handled = enc.HostEncode(pkt) })
		if handled {
			return b, true
		}
	}
	return nil, false
}

func (e *Engine) sendDevicePacket(b []byte) bool {
	for _, s := range e.Registry.Stages() {
		snd, ok := s.(stage.DevicePacketSender)
		if !ok {
			continue
		}
		var handled bool
		e.Registry.Safe(s.Name(), "send_device_packet", func() { handled = snd.SendDevicePacket(b) })
		if handled {
			return true
		}
	}
	return false
}
