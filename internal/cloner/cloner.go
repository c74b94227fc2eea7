// Package cloner implements the cloner stage (C8, spec §4.8): a passive
// log_pkt observer that reconstructs a DeviceIdentity from an
// enumeration it watches pass by, and persists it on RESET or teardown.
package cloner

import (
	"os"

	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/wire"
)

const Name = "cloner"

// State is the cloner's observation state machine (spec §4.8).
type State int

const (
	StateIdle State = iota
	StateObserving
)

// Stage watches log_pkt for a NEW_DEVICE/…/RESET enumeration and writes
// the resulting identity to OutputPath.
type Stage struct {
	log *logging.Logger

	OutputPath string

	state    State
	speed    wire.Speed
	pending  []wire.Descriptor
	lastSave error
}

// New creates a cloner writing to outputPath on each completed
// observation.
func New(outputPath string, log *logging.Logger) *Stage {
	if log == nil {
		log = logging.Default()
	}
	return &Stage{log: log, OutputPath: outputPath}
}

func (s *Stage) Name() string { return Name }

// State reports the current observation state.
func (s *Stage) State() State { return s.state }

// LastSaveError reports the error (if any) from the most recent
// attempt to flush to disk, for callers that want to surface it.
func (s *Stage) LastSaveError() error { return s.lastSave }

// LogPkt implements stage.PacketLogger (spec §4.8). It must not mutate
// pkt (spec §6.2's contract for log_pkt), and doesn't: it only reads.
func (s *Stage) LogPkt(pkt *wire.USBMessage, dir wire.Direction) {
	switch pkt.Kind {
	case wire.KindManagement:
		s.handleManagement(pkt.Management)
	case wire.KindUSBData:
		s.handleUSBData(pkt.Data, dir)
	}
}

func (s *Stage) handleManagement(mgmt *wire.ManagementPayload) {
	if mgmt == nil {
		return
	}
	switch mgmt.Subtype {
	case wire.ManagementNewDeviceSubtype:
		s.state = StateObserving
		s.pending = nil
		if mgmt.NewDevice != nil {
			s.speed = mgmt.NewDevice.Speed
			if mgmt.NewDevice.Device != nil {
				s.pending = append(s.pending, mgmt.NewDevice.Device)
			}
			if mgmt.NewDevice.Configuration != nil {
				s.pending = append(s.pending, mgmt.NewDevice.Configuration)
			}
		}
	case wire.ManagementReset:
		s.flush()
		s.state = StateIdle
	}
}

func (s *Stage) handleUSBData(data *wire.USBDataPayload, dir wire.Direction) {
	if s.state != StateObserving || data == nil {
		return
	}
	if dir != wire.DeviceToHost || data.Response == nil {
		return
	}
	if _, ok := data.Request.(*wire.GetDescriptorRequest); !ok {
		return
	}
	s.pending = append(s.pending, data.Response)
}

func (s *Stage) flush() {
	if len(s.pending) == 0 {
		return
	}
	id := identity.New(s.speed)
	for _, desc := range s.pending {
		id.Add(desc)
	}
	s.lastSave = os.WriteFile(s.OutputPath, id.Marshal(), 0o644)
	if s.lastSave != nil {
		s.log.Errorf("cloner: write %q: %v", s.OutputPath, s.lastSave)
	} else {
		s.log.Infof("cloner: wrote identity to %q (%d descriptors)", s.OutputPath, len(s.pending))
	}
	s.pending = nil
}

// Teardown flushes any in-progress observation before shutdown (spec
// §4.8 "on MANAGEMENT/RESET (or teardown)").
func (s *Stage) Teardown() {
	s.flush()
}
