// Package reload implements the hot-reload stage (C10, spec §4.10):
// watches a user-provided Go plugin file by modification time and
// (re)registers the stage it exports, treating a single well-known name
// as the hot-reload slot.
//
// Go has no dynamic module/script reload the way the source language
// does; the spec's own design notes (§9) call this out explicitly and
// suggest an out-of-process sidecar or "drop the feature to an optional
// capability" as the fallback. Neither the teacher nor any other
// example repo in the retrieval pack loads code dynamically, so this is
// built directly on the standard library's plugin package (buildmode
// "plugin"), the only mechanism the ecosystem offers for this — the
// nearest thing to the spec's own suggested sidecar, minus a second
// process.
package reload

import (
	"fmt"
	"os"
	"plugin"
	"time"

	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/stage"
)

const Name = "reload"

// NewStageSymbol is the exported symbol a reloadable plugin must
// provide: a niladic constructor returning a stage.Stage.
const NewStageSymbol = "NewStage"

// Stage watches Path for mtime changes and reloads it into Registry on
// change (spec §4.10). On each successful load it unregisters
// UserStageName, registers the loaded stage under that stage's own
// Name(), and designates UserStageName as the registry's hot-reload
// slot; the loaded stage is not renamed, so the slot and the next
// reload's unregister only cover it when its Name() is UserStageName.
// The hot-reload slot is the reloaded stage, never this watcher.
type Stage struct {
	log *logging.Logger

	Path          string
	UserStageName string
	Registry      *stage.Registry

	lastMod time.Time
}

// New creates a watcher for the plugin file at path, registering
// whatever it loads under userStageName in reg.
func New(path, userStageName string, reg *stage.Registry, log *logging.Logger) *Stage {
	if log == nil {
		log = logging.Default()
	}
	return &Stage{log: log, Path: path, UserStageName: userStageName, Registry: reg}
}

func (s *Stage) Name() string { return Name }

// Tick implements stage.Ticker (spec §4.10): checks mtime, and on
// change, reloads.
func (s *Stage) Tick() {
	info, err := os.Stat(s.Path)
	if err != nil {
		return // file absent/unreadable: nothing to do this tick
	}
	mod := info.ModTime()
	if !mod.After(s.lastMod) {
		return
	}
	s.lastMod = mod
	s.reload()
}

func (s *Stage) reload() {
	newStage, err := loadStage(s.Path)
	if err != nil {
		// Keep the previous stage active; log and wait for the next
		// edit (spec §4.10 step 1).
		s.log.Errorf("reload: load %q: %v", s.Path, err)
		return
	}

	s.Registry.Unregister(s.UserStageName)
	if err := s.Registry.Register(newStage); err != nil {
		s.log.Errorf("reload: register %q: %v", s.UserStageName, err)
		return
	}
	s.Registry.SetHotReloadSlot(s.UserStageName)
	s.log.Infof("reload: loaded %q from %s", s.UserStageName, s.Path)
}

func loadStage(path string) (stage.Stage, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin: %w", err)
	}
	sym, err := p.Lookup(NewStageSymbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", NewStageSymbol, err)
	}
	factory, ok := sym.(func() stage.Stage)
	if !ok {
		return nil, fmt.Errorf("%s has wrong signature: %T", NewStageSymbol, sym)
	}
	return factory(), nil
}
