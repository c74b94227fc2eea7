package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/stage"
	"github.com/usbmitm/controller/internal/wire"
)

// recordingStage drives one packet through the device→host pipeline and
// records the order log_pkt/modify/encode were invoked in.
type recordingStage struct {
	name  string
	order *[]string

	deviceDelivered bool
	devicePacket    *wire.USBMessage
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) DeviceHasPacket() bool { return !s.deviceDelivered }

func (s *recordingStage) GetDevicePacket() []byte {
	if s.deviceDelivered {
		return nil
	}
	s.deviceDelivered = true
	return []byte{0xAA}
}

func (s *recordingStage) DeviceDecode(b []byte) (*wire.USBMessage, bool) {
	return &wire.USBMessage{Kind: wire.KindUSBData, Data: &wire.USBDataPayload{Data: b}}, true
}

func (s *recordingStage) LogPkt(pkt *wire.USBMessage, dir wire.Direction) {
	*s.order = append(*s.order, "log")
}

func (s *recordingStage) DeviceModify(pkt *wire.USBMessage) {
	*s.order = append(*s.order, "modify")
	s.devicePacket = pkt
}

func (s *recordingStage) DeviceEncode(pkt *wire.USBMessage) ([]byte, bool) {
	*s.order = append(*s.order, "encode")
	return []byte{0xBB}, true
}

func (s *recordingStage) SendHostPacket(b []byte) bool {
	*s.order = append(*s.order, "send")
	return true
}

func TestDrainDeviceOrdersLogThenModifyThenEncode(t *testing.T) {
	var order []string
	reg := stage.NewRegistry(nil)
	require.NoError(t, reg.Register(&recordingStage{name: "pipeline", order: &order}))

	e := New(reg, nil)
	e.drainDevice()

	require.Equal(t, []string{"log", "modify", "encode", "send"}, order)
}

// handlerStage answers any control-0 GET_DESCRIPTOR itself via
// handle_device_request, short-circuiting the ordinary passthrough.
type handlerStage struct {
	delivered bool
}

func (h *handlerStage) Name() string { return "handler" }

func (h *handlerStage) HostHasPacket() bool { return !h.delivered }

func (h *handlerStage) GetHostPacket() []byte {
	if h.delivered {
		return nil
	}
	h.delivered = true
	return []byte{0x01}
}

func (h *handlerStage) HostDecode(b []byte) (*wire.USBMessage, bool) {
	return &wire.USBMessage{
		Kind: wire.KindUSBData,
		Data: &wire.USBDataPayload{
			Endpoint: wire.USBEp{TransferType: wire.TransferTypeControl},
			Request:  &wire.GetDescriptorRequest{DescriptorType: wire.DescriptorTypeDevice, Length: 18},
		},
	}, true
}

func (h *handlerStage) HandleDeviceRequest(content *wire.USBMessage) (*wire.USBMessage, bool) {
	return &wire.USBMessage{Kind: wire.KindUSBData, Data: &wire.USBDataPayload{Data: []byte{0xCD}}}, true
}

func (h *handlerStage) DeviceEncode(pkt *wire.USBMessage) ([]byte, bool) {
	return []byte{0xCD}, true
}

type spySender struct {
	hostSent   [][]byte
	deviceSent [][]byte
}

func (s *spySender) Name() string { return "sender" }

func (s *spySender) SendHostPacket(b []byte) bool {
	s.hostSent = append(s.hostSent, b)
	return true
}

func (s *spySender) SendDevicePacket(b []byte) bool {
	s.deviceSent = append(s.deviceSent, b)
	return true
}

func TestDrainHostShortCircuitsOnHandledRequest(t *testing.T) {
	reg := stage.NewRegistry(nil)
	h := &handlerStage{}
	sp := &spySender{}
	require.NoError(t, reg.Register(h))
	require.NoError(t, reg.Register(sp))

	e := New(reg, nil)
	e.drainHost()

	require.Len(t, sp.hostSent, 1, "a handled request must be answered back to the host")
	require.Empty(t, sp.deviceSent, "a handled request must never reach the real device")
}

// passthroughStage never claims handle_device_request, so the ordinary
// host_encode/send_device_packet path must be taken.
type passthroughStage struct {
	delivered bool
}

func (p *passthroughStage) Name() string { return "passthrough" }

func (p *passthroughStage) HostHasPacket() bool { return !p.delivered }

func (p *passthroughStage) GetHostPacket() []byte {
	if p.delivered {
		return nil
	}
	p.delivered = true
	return []byte{0x02}
}

func (p *passthroughStage) HostDecode(b []byte) (*wire.USBMessage, bool) {
	return &wire.USBMessage{Kind: wire.KindUSBData, Data: &wire.USBDataPayload{Data: b}}, true
}

func (p *passthroughStage) HostEncode(pkt *wire.USBMessage) ([]byte, bool) {
	return []byte{0xEF}, true
}

func TestDrainHostFallsThroughWhenUnclaimed(t *testing.T) {
	reg := stage.NewRegistry(nil)
	p := &passthroughStage{}
	sp := &spySender{}
	require.NoError(t, reg.Register(p))
	require.NoError(t, reg.Register(sp))

	e := New(reg, nil)
	e.drainHost()

	require.Empty(t, sp.hostSent)
	require.Len(t, sp.deviceSent, 1)
	require.Equal(t, []byte{0xEF}, sp.deviceSent[0])
}

type panickingTicker struct{ name string }

func (p *panickingTicker) Name() string { return p.name }
func (p *panickingTicker) Tick()        { panic("boom") }

type countingTicker struct {
	name  string
	count int
}

func (c *countingTicker) Name() string { return c.name }
func (c *countingTicker) Tick()        { c.count++ }

func TestTickIsolatesPanickingStageFromOthers(t *testing.T) {
	reg := stage.NewRegistry(nil)
	bad := &panickingTicker{name: "bad"}
	good := &countingTicker{name: "good"}
	require.NoError(t, reg.Register(bad))
	require.NoError(t, reg.Register(good))
	reg.SetHotReloadSlot("bad")

	e := New(reg, nil)
	e.tick()

	require.Equal(t, 1, good.count, "a panicking stage must not prevent other stages' tick from running")
	require.Len(t, reg.Stages(), 1, "the panicking hot-reload-slot stage is unregistered")
}

type identityStage struct {
	id *identity.DeviceIdentity
}

func (s *identityStage) Name() string { return "identity" }

func (s *identityStage) DeviceIdentity() (*identity.DeviceIdentity, bool) {
	return s.id, true
}

func TestEngineDeviceIdentityDelegatesToFirstProvider(t *testing.T) {
	reg := stage.NewRegistry(nil)
	want := identity.Default()
	require.NoError(t, reg.Register(&identityStage{id: want}))

	e := New(reg, nil)
	got, ok := e.DeviceIdentity()
	require.True(t, ok)
	require.Same(t, want, got)
}

func TestWaitForPacketReturnsFalseWhenNoStageHasWork(t *testing.T) {
	reg := stage.NewRegistry(nil)
	e := New(reg, nil)
	require.False(t, e.waitForPacket(10*time.Millisecond))
}
