package reload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/usbmitm/controller/internal/stage"
)

type stubStage struct{ name string }

func (s *stubStage) Name() string { return s.name }

func TestTickIgnoresMissingFile(t *testing.T) {
	reg := stage.NewRegistry(nil)
	require.NoError(t, reg.Register(&stubStage{name: "user"}))

	r := New(filepath.Join(t.TempDir(), "absent.so"), "user", reg, nil)
	r.Tick()

	require.Len(t, reg.Stages(), 1)
	require.Equal(t, "user", reg.Stages()[0].Name())
}

func TestTickIgnoresUnchangedMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.so")
	require.NoError(t, os.WriteFile(path, []byte("not a real plugin"), 0o644))

	reg := stage.NewRegistry(nil)
	require.NoError(t, reg.Register(&stubStage{name: "user"}))

	r := New(path, "user", reg, nil)
	info, err := os.Stat(path)
	require.NoError(t, err)
	r.lastMod = info.ModTime()

	r.Tick()

	require.Len(t, reg.Stages(), 1)
	require.Equal(t, "user", reg.Stages()[0].Name())
}

func TestReloadFailureKeepsPreviousStage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.so")
	require.NoError(t, os.WriteFile(path, []byte("not a real elf plugin"), 0o644))

	reg := stage.NewRegistry(nil)
	require.NoError(t, reg.Register(&stubStage{name: "user"}))

	r := New(path, "user", reg, nil)
	r.Tick()

	require.Len(t, reg.Stages(), 1, "a failed plugin.Open must not unregister the previous stage")
	require.Equal(t, "user", reg.Stages()[0].Name())
	require.False(t, r.lastMod.IsZero())
}

func TestTickReloadsOnNewerMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.so")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	reg := stage.NewRegistry(nil)
	require.NoError(t, reg.Register(&stubStage{name: "user"}))
	r := New(path, "user", reg, nil)
	r.Tick()
	firstMod := r.lastMod

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2, still not a real plugin"), 0o644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	r.Tick()
	require.True(t, r.lastMod.After(firstMod))
}
