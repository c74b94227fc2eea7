// Package hostscan implements the host-capability scan stage (C9, spec
// §4.9): drives the device emulator through a catalog of candidate
// identities to determine which the attached host accepts.
package hostscan

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/usbmitm/controller/internal/config"
	"github.com/usbmitm/controller/internal/emulator"
	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/wire"
)

const Name = "hostscan"

// DefaultTimeout is the per-candidate observation window (spec §4.9).
const DefaultTimeout = 15 * time.Second

// State is the scan's own state machine (spec §4.9).
type State int

const (
	StateIdle State = iota
	StateWaiting
)

// Result records the outcome for one candidate.
type Result struct {
	Candidate config.CandidateSpec
	Supported bool
}

// Stage drives emu through catalog's candidates, one at a time, tracking
// class-specific EP0 requests and configured-state transitions as
// "supported" signals (spec §4.9).
type Stage struct {
	log *logging.Logger

	emu      *emulator.Stage
	catalog  []config.CandidateSpec
	timeout  time.Duration

	state      State
	index      int
	deadline   time.Time
	detected   bool
	results    []Result
	onComplete func([]Result)
}

// New creates a host-scan stage driving emu through catalog. timeout<=0
// uses DefaultTimeout.
func New(emu *emulator.Stage, catalog []config.CandidateSpec, timeout time.Duration, log *logging.Logger) *Stage {
	if log == nil {
		log = logging.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Stage{log: log, emu: emu, catalog: catalog, timeout: timeout}
}

func (s *Stage) Name() string { return Name }

// Results returns the candidates probed so far, in order.
func (s *Stage) Results() []Result { return s.results }

// OnComplete registers a callback fired once every candidate has been
// probed, with the full result set — used by the CLI front end to print
// a report (out of the core's scope, spec §1) without this stage having
// to know how to format one.
func (s *Stage) OnComplete(fn func([]Result)) { s.onComplete = fn }

// Tick implements stage.Ticker (spec §4.9): advances the scan's own
// wall-clock timer, starting the next candidate or concluding the
// current one.
func (s *Stage) Tick() {
	switch s.state {
	case StateIdle:
		s.startNext()
	case StateWaiting:
		if s.detected || time.Now().After(s.deadline) {
			s.concludeCurrent()
		}
	}
}

func (s *Stage) startNext() {
	if s.index >= len(s.catalog) {
		if s.onComplete != nil && len(s.results) == len(s.catalog) && len(s.catalog) > 0 {
			s.onComplete(s.results)
		}
		return
	}
	cand := s.catalog[s.index]
	s.emu.SetIdentity(identityFromCandidate(cand))
	s.emu.Connect()
	s.deadline = time.Now().Add(s.timeout)
	s.detected = false
	s.state = StateWaiting
	s.log.Infof("hostscan: probing %q", cand.Name)
}

func (s *Stage) concludeCurrent() {
	cand := s.catalog[s.index]
	s.emu.Disconnect()
	s.results = append(s.results, Result{Candidate: cand, Supported: s.detected})
	s.log.Infof("hostscan: %q supported=%v", cand.Name, s.detected)
	s.index++
	s.state = StateIdle
}

// LogPkt implements stage.PacketLogger (spec §4.9 detection rule (a)):
// watches for a class-specific EP0 request (e.g. Mass-Storage
// GET_MAX_LUN, bRequest=0xFE) while waiting on the current candidate.
// Detection rule (b), the emulator reaching "configured", is checked via
// the emulator's own state directly since that's already observable
// without inspecting packets.
func (s *Stage) LogPkt(pkt *wire.USBMessage, dir wire.Direction) {
	if s.state != StateWaiting {
		return
	}
	if s.emu.State() == emulator.StateConfigured {
		s.detected = true
		return
	}
	if dir != wire.HostToDevice || pkt.Kind != wire.KindUSBData || pkt.Data == nil {
		return
	}
	if !pkt.Data.Endpoint.IsControlZero() {
		return
	}
	if req := pkt.Data.Request; req != nil && isClassSpecific(req.BmRequestType()) {
		s.detected = true
	}
}

func isClassSpecific(bmRequestType uint8) bool {
	const typeMask = 0x60
	const typeClass = 0x20
	return bmRequestType&typeMask == typeClass
}

func identityFromCandidate(c config.CandidateSpec) *identity.DeviceIdentity {
	device := &wire.DeviceDescriptor{
		DeviceClass:       c.DeviceClass,
		VendorID:          c.VendorID,
		ProductID:         c.ProductID,
		MaxPacketSize0:    64,
		NumConfigurations: 1,
	}
	intf := &wire.InterfaceDescriptor{
		InterfaceClass:    c.InterfaceClass,
		InterfaceSubClass: c.InterfaceSub,
		InterfaceProtocol: c.InterfaceProto,
	}
	for i := 0; i < c.NumEndpoints; i++ {
		intf.Endpoints = append(intf.Endpoints, &wire.EndpointDescriptor{
			EndpointAddress: uint8(0x81 + i),
			Attributes:      0x02, // bulk
			MaxPacketSize:   512,
		})
	}
	return identity.FromInterface(wire.SpeedHigh, device, intf)
}

// RunStandalone drives a scan to completion outside the engine loop. It
// calls probe for each candidate concurrently, at most four at a time,
// using golang.org/x/sync/errgroup, and returns the merged results in
// catalog order. What a probe presents to the host is up to probe; the
// first probe error cancels ctx for the others and is returned.
func RunStandalone(ctx context.Context, catalogs []config.CandidateSpec, probe func(context.Context, config.CandidateSpec) (bool, error)) ([]Result, error) {
	results := make([]Result, len(catalogs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, cand := range catalogs {
		i, cand := i, cand
		g.Go(func() error {
			supported, err := probe(ctx, cand)
			if err != nil {
				return err
			}
			results[i] = Result{Candidate: cand, Supported: supported}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
