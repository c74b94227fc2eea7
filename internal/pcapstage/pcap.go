// Package pcapstage implements the PCAP writer stage (C6, spec §4.6): a
// passive log_pkt observer that synthesizes pcap v2.4 records on
// link-type 220 (USB with Linux header, "usbmon" format) for the
// USB_DATA and ACK packets the engine drains in either direction;
// management packets are not recorded.
//
// No pcap-writing library appears anywhere in the retrieval pack (the
// usual idiomatic choice, google/gopacket's pcapgo.Writer, is absent
// from every example go.mod), so this stage writes the pcap global and
// per-record headers directly with encoding/binary — the same
// little-endian field-at-a-time style the wire package already uses for
// the bridge codec (see internal/wire/message.go).
package pcapstage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/wire"
)

const Name = "pcap"

// LinkTypeUSBLinux is DLT_USB_LINUX (220): USB packets prefixed with
// the Linux kernel's usbmon header.
const LinkTypeUSBLinux = 220

const (
	magicMicroseconds = 0xa1b2c3d4
	versionMajor      = 2
	versionMinor      = 4
)

// urbType distinguishes a usbmon header's "submit" vs "complete" event,
// mirrored by the single ASCII byte the real format uses.
type urbType byte

const (
	urbSubmit   urbType = 'S'
	urbComplete urbType = 'C'
)

// Stage writes one pcap record per synthesized URB event. It implements
// PacketLogger and Teardown.
type Stage struct {
	log *logging.Logger

	mu       sync.Mutex
	w        io.WriteCloser
	seq      uint64
	urbIDGen uint64
}

// New opens path (truncating any existing file) and writes the pcap
// global header.
func New(path string, log *logging.Logger) (*Stage, error) {
	if log == nil {
		log = logging.Default()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("pcapstage: create %q: %w", path, err)
	}
	s := &Stage{log: log, w: f}
	if err := s.writeGlobalHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stage) Name() string { return Name }

func (s *Stage) writeGlobalHeader() error {
	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magicMicroseconds)
	binary.LittleEndian.PutUint16(hdr[4:6], versionMajor)
	binary.LittleEndian.PutUint16(hdr[6:8], versionMinor)
	// thiszone, sigfigs left zero.
	binary.LittleEndian.PutUint32(hdr[16:20], 1<<16) // snaplen
	binary.LittleEndian.PutUint32(hdr[20:24], LinkTypeUSBLinux)
	_, err := s.w.Write(hdr[:])
	return err
}

// LogPkt implements stage.PacketLogger (spec §4.6): management datagrams
// are not logged; USB_DATA datagrams synthesize SUBMIT/COMPLETE pairs
// per the direction-dependent rule; ACK datagrams are recorded as a
// single COMPLETE carrying their status.
func (s *Stage) LogPkt(pkt *wire.USBMessage, dir wire.Direction) {
	switch pkt.Kind {
	case wire.KindManagement:
		return
	case wire.KindUSBData:
		s.logUSBData(pkt.Data, dir)
	case wire.KindACK:
		s.logACK(pkt.ACK, dir)
	}
}

func (s *Stage) logUSBData(data *wire.USBDataPayload, dir wire.Direction) {
	if data == nil {
		return
	}
	id := s.nextURBID()

	if dir == wire.HostToDevice {
		s.writeRecord(id, urbSubmit, data.Endpoint, dir, requestBytes(data), data.Data)
		if data.Endpoint.Direction == wire.DirectionOut {
			// The real device's implicit ACK never crosses the bridge
			// for an OUT transfer; synthesize the COMPLETE so a reader
			// still sees a matched pair (spec §4.6).
			s.writeRecord(id, urbComplete, data.Endpoint, dir, nil, nil)
		}
		return
	}

	// Device-to-host: non-control endpoints never had a host-observed
	// SUBMIT on the bridge, so synthesize one before the real COMPLETE.
	if !data.Endpoint.IsControlZero() {
		s.writeRecord(id, urbSubmit, data.Endpoint, dir, nil, nil)
	}
	payload := data.Data
	if data.Endpoint.IsControlZero() && data.Response != nil {
		payload = append(data.Response.Encode(nil), payload...)
	}
	s.writeRecord(id, urbComplete, data.Endpoint, dir, requestBytes(data), payload)
}

func (s *Stage) logACK(ack *wire.ACKPayload, dir wire.Direction) {
	if ack == nil {
		return
	}
	id := s.nextURBID()
	status := make([]byte, 4)
	binary.LittleEndian.PutUint32(status, uint32(ack.Status))
	s.writeRecord(id, urbComplete, ack.Endpoint, dir, status, ack.Data)
}

func requestBytes(data *wire.USBDataPayload) []byte {
	if data.Request == nil {
		return nil
	}
	return data.Request.Encode(nil)
}

func (s *Stage) nextURBID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urbIDGen++
	return s.urbIDGen
}

// usbmonHeaderLength is the fixed 48-byte header usbmon/pcap prefixes
// to every USB record's captured bytes, per link-type 220.
const usbmonHeaderLength = 48

func (s *Stage) writeRecord(urbID uint64, typ urbType, ep wire.USBEp, dir wire.Direction, setup, data []byte) {
	body := make([]byte, usbmonHeaderLength)
	binary.LittleEndian.PutUint64(body[0:8], urbID)
	body[8] = byte(typ)
	body[9] = transferTypeByte(ep.TransferType)
	body[10] = endpointAddress(ep, dir)
	body[11] = 0 // device address: unknown over the bridge
	binary.LittleEndian.PutUint16(body[12:14], 0) // bus number: unknown

	if len(setup) > 0 && ep.IsControlZero() {
		body[14] = 0 // setup flag valid
		copy(body[40:48], setup)
	} else {
		body[14] = 1 // no setup data
	}
	body[15] = 1 // data present flag: filled below if we have payload
	if len(data) == 0 {
		body[15] = 0
	}

	binary.LittleEndian.PutUint32(body[24:28], uint32(len(data)))
	binary.LittleEndian.PutUint32(body[32:36], uint32(len(data)))

	record := append(body, data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return
	}
	s.seq++
	now := time.Now()
	var recHdr [16]byte
	binary.LittleEndian.PutUint32(recHdr[0:4], uint32(now.Unix()))
	binary.LittleEndian.PutUint32(recHdr[4:8], uint32(now.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(recHdr[8:12], uint32(len(record)))
	binary.LittleEndian.PutUint32(recHdr[12:16], uint32(len(record)))

	if _, err := s.w.Write(recHdr[:]); err != nil {
		s.log.Warnf("pcapstage: write record header: %v", err)
		return
	}
	if _, err := s.w.Write(record); err != nil {
		s.log.Warnf("pcapstage: write record: %v", err)
	}
}

func transferTypeByte(t wire.TransferType) byte {
	switch t {
	case wire.TransferTypeIsochronous:
		return 0
	case wire.TransferTypeInterrupt:
		return 1
	case wire.TransferTypeControl:
		return 2
	case wire.TransferTypeBulk:
		return 3
	default:
		return 3
	}
}

func endpointAddress(ep wire.USBEp, dir wire.Direction) byte {
	addr := byte(ep.Number)
	if dir == wire.DeviceToHost {
		addr |= 0x80
	}
	return addr
}

// Teardown closes the pcap file. Safe to call more than once.
func (s *Stage) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		s.w.Close()
		s.w = nil
	}
}
