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
	"github.com/usbmitm/controller/internal/config"
	"github.com/usbmitm/controller/internal/emulator"
	"github.com/usbmitm/controller/internal/engine"
	"github.com/usbmitm/controller/internal/hostscan"
	"github.com/usbmitm/controller/internal/identity"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/stage"
	"github.com/usbmitm/controller/internal/transport"
)

var (
	hostSend    = flag.String("host-send", "127.0.0.1:27016", "peer address presenting as the USB host")
	catalogPath = flag.String("catalog", "", "candidate catalog YAML (empty uses built-in defaults)")
	timeout     = flag.Duration("timeout", hostscan.DefaultTimeout, "per-candidate observation window")
)

func main() {
	flag.Parse()
	log := logging.Default()

	cat := config.DefaultCatalog()
	if *catalogPath != "" {
		var err error
		cat, err = config.Load(*catalogPath)
		if err != nil {
			log.Errorf("hostscan: load catalog: %v", err)
			os.Exit(1)
		}
	}

	reg := stage.NewRegistry(log)

	t, err := transport.New(transport.Config{HostEnabled: true, HostSend: *hostSend}, log)
	if err != nil {
		log.Errorf("hostscan: transport: %v", err)
		os.Exit(1)
	}
	if err := t.Start(); err != nil {
		log.Errorf("hostscan: start: %v", err)
		os.Exit(1)
	}

	emu := emulator.New(identity.Default(), false, log)
	scan := hostscan.New(emu, cat.Candidates, *timeout, log)
	scan.OnComplete(func(results []hostscan.Result) {
		for _, r := range results {
			fmt.Printf("%-20s supported=%v\n", r.Candidate.Name, r.Supported)
		}
	})

	for _, s := range []stage.Stage{codecstage.New(log), t, emu, scan} {
		if err := reg.Register(s); err != nil {
			log.Errorf("hostscan: register %s: %v", s.Name(), err)
			os.Exit(1)
		}
	}

	eng := engine.New(reg, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("hostscan: shutting down")
		cancel()
	}()

	log.Infof("hostscan: probing %d candidates via %s", len(cat.Candidates), *hostSend)
	eng.Run(ctx)
}
