// USB MITM Controller
// Copyright (C) 2026  The Controller Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/usbmitm/controller/internal/codecstage"
	"github.com/usbmitm/controller/internal/emulator"
	"github.com/usbmitm/controller/internal/engine"
	"github.com/usbmitm/controller/internal/fuzzer"
	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/stage"
	"github.com/usbmitm/controller/internal/transport"
	"github.com/usbmitm/controller/internal/wire"
)

var (
	hostSend = flag.String("host-send", "127.0.0.1:27016", "peer address presenting as the USB host")
	timeout  = flag.Duration("timeout", fuzzer.DefaultTimeout, "per-mutation host-silence window")
)

func main() {
	flag.Parse()
	log := logging.Default()

	reg := stage.NewRegistry(log)

	t, err := transport.New(transport.Config{HostEnabled: true, HostSend: *hostSend}, log)
	if err != nil {
		log.Errorf("hostfuzz: transport: %v", err)
		os.Exit(1)
	}
	if err := t.Start(); err != nil {
		log.Errorf("hostfuzz: start: %v", err)
		os.Exit(1)
	}

	emu := emulator.New(identity.Default(), false, log)
	fz := fuzzer.New(emu, defaultMutations(), *timeout, log)
	fz.OnDone(func(results []fuzzer.VerdictEntry) {
		for _, r := range results {
			fmt.Printf("%-24s verdict=%s\n", r.Mutation.Label, r.Verdict)
		}
	})

	for _, s := range []stage.Stage{codecstage.New(log), t, fz, emu} {
		if err := reg.Register(s); err != nil {
			log.Errorf("hostfuzz: register %s: %v", s.Name(), err)
			os.Exit(1)
		}
	}

	eng := engine.New(reg, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("hostfuzz: shutting down")
		cancel()
	}()

	log.Infof("hostfuzz: fuzzing host at %s", *hostSend)
	eng.Run(ctx)
}

// defaultMutations corrupts the device descriptor's length-implying
// fields, mirroring fuzzdevice.py's bLength/bNumConfigurations/
// bMaxPacketSize0 fuzz fields.
func defaultMutations() []fuzzer.Mutation {
	return []fuzzer.Mutation{
		{
			Label:  "device-descriptor/truncated",
			Target: wire.DescriptorTypeDevice,
			Apply: func() wire.Descriptor {
				return &wire.RawDescriptor{DescType: wire.DescriptorTypeDevice, Raw: []byte{0x12, 0x01}}
			},
		},
		{
			Label:  "device-descriptor/zero-max-packet",
			Target: wire.DescriptorTypeDevice,
			Apply: func() wire.Descriptor {
				return &wire.DeviceDescriptor{
					USB:               0x0200,
					VendorID:          0x0000,
					ProductID:         0x0000,
					MaxPacketSize0:    0x00,
					NumConfigurations: 0xFF,
				}
			},
		},
	}
}
