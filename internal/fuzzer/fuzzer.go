// Package fuzzer implements the host-side fuzzer stage (supplementing
// spec.md's "host-side fuzzer" mention in §1/§6.4, which names the
// `hostfuzz` CLI verb but gives it no dedicated component section).
// Grounded on original_source/usbmitm/device/fuzzdevice.py: present a
// candidate identity to a real host, but answer one specific
// descriptor's GET_DESCRIPTOR request with a deliberately malformed
// variant, watching for the host to stop talking (crash/hang) or repeat
// its last request (stuck retry loop).
package fuzzer

import (
	"time"

	"github.com/usbmitm/controller/internal/emulator"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/wire"
)

const Name = "fuzzer"

// DefaultTimeout mirrors the source's 15-second host-silence bound.
const DefaultTimeout = 15 * time.Second

// Mutation names a single field-level descriptor corruption to try, the
// same granularity as the source's per-field fuzzfields table.
type Mutation struct {
	Label    string
	Target   wire.DescriptorType
	Apply    func() wire.Descriptor // builds the corrupted descriptor fresh each run
}

// Verdict is the outcome of one mutation run.
type Verdict int

const (
	VerdictAlive Verdict = iota
	VerdictTimeout
	VerdictRepeated
)

func (v Verdict) String() string {
	switch v {
	case VerdictAlive:
		return "alive"
	case VerdictTimeout:
		return "timeout"
	case VerdictRepeated:
		return "repeated"
	default:
		return "unknown"
	}
}

// State is the fuzzer's run loop state machine.
type State int

const (
	StateIdle State = iota
	StateRunning
)

// Stage drives emu through a sequence of Mutations, one connect/observe/
// disconnect cycle per mutation.
type Stage struct {
	log *logging.Logger

	emu       *emulator.Stage
	mutations []Mutation
	timeout   time.Duration

	state     State
	index     int
	deadline  time.Time
	lastSeen  *wire.USBMessage
	repeated  bool
	results   []VerdictEntry
	onDone    func([]VerdictEntry)
}

// VerdictEntry records the outcome for one mutation.
type VerdictEntry struct {
	Mutation Mutation
	Verdict  Verdict
}

// New creates a fuzzer stage driving emu through mutations.
func New(emu *emulator.Stage, mutations []Mutation, timeout time.Duration, log *logging.Logger) *Stage {
	if log == nil {
		log = logging.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Stage{log: log, emu: emu, mutations: mutations, timeout: timeout}
}

func (s *Stage) Name() string { return Name }

// Results returns the mutations run so far, in order.
func (s *Stage) Results() []VerdictEntry { return s.results }

// OnDone registers a callback fired once every mutation has run.
func (s *Stage) OnDone(fn func([]VerdictEntry)) { s.onDone = fn }

// Tick implements stage.Ticker: advances the run loop exactly like
// hostscan's, reusing connect/disconnect/deadline bookkeeping.
func (s *Stage) Tick() {
	switch s.state {
	case StateIdle:
		s.startNext()
	case StateRunning:
		if s.repeated || time.Now().After(s.deadline) {
			s.concludeCurrent()
		}
	}
}

func (s *Stage) startNext() {
	if s.index >= len(s.mutations) {
		if s.onDone != nil && len(s.results) == len(s.mutations) && len(s.mutations) > 0 {
			s.onDone(s.results)
		}
		return
	}
	s.emu.Connect()
	s.deadline = time.Now().Add(s.timeout)
	s.lastSeen = nil
	s.repeated = false
	s.state = StateRunning
	s.log.Infof("fuzzer: running mutation %q", s.mutations[s.index].Label)
}

func (s *Stage) concludeCurrent() {
	m := s.mutations[s.index]
	verdict := VerdictAlive
	if time.Now().After(s.deadline) && s.lastSeen == nil {
		verdict = VerdictTimeout
	} else if s.repeated {
		verdict = VerdictRepeated
	}
	s.emu.Disconnect()
	s.results = append(s.results, VerdictEntry{Mutation: m, Verdict: verdict})
	s.log.Infof("fuzzer: mutation %q verdict=%v", m.Label, verdict)
	s.index++
	s.state = StateIdle
}

// HandleDeviceRequest implements stage.DeviceRequestHandler: answers the
// mutation's target descriptor type with the corrupted variant, and
// defers to the emulator's own identity for everything else (spec
// §6.2's first-non-null contract means this stage must be registered
// ahead of the plain emulator stage to take priority, and must return
// (nil, false) for anything it doesn't want to special-case).
func (s *Stage) HandleDeviceRequest(content *wire.USBMessage) (*wire.USBMessage, bool) {
	if s.state != StateRunning || s.index >= len(s.mutations) {
		return nil, false
	}
	if content.Kind != wire.KindUSBData || content.Data == nil {
		return nil, false
	}
	data := content.Data
	if !data.Endpoint.IsControlZero() {
		return nil, false
	}

	if s.lastSeen != nil && requestsEqual(s.lastSeen, content) {
		s.repeated = true
	}
	s.lastSeen = content

	req, ok := data.Request.(*wire.GetDescriptorRequest)
	if !ok || req.DescriptorType != s.mutations[s.index].Target {
		return nil, false
	}

	corrupted := s.mutations[s.index].Apply()
	return &wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{Endpoint: data.Endpoint, Request: data.Request, Response: corrupted},
	}, true
}

func requestsEqual(a, b *wire.USBMessage) bool {
	if a.Kind != b.Kind || a.Data == nil || b.Data == nil {
		return false
	}
	ra, oka := a.Data.Request.(wire.Request)
	rb, okb := b.Data.Request.(wire.Request)
	if !oka || !okb {
		return false
	}
	return string(ra.Encode(nil)) == string(rb.Encode(nil))
}
