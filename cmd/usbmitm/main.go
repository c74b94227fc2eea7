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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/usbmitm/controller/internal/cloner"
	"github.com/usbmitm/controller/internal/codecstage"
	"github.com/usbmitm/controller/internal/config"
	"github.com/usbmitm/controller/internal/engine"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/pcapstage"
	"github.com/usbmitm/controller/internal/stage"
	"github.com/usbmitm/controller/internal/telemetry"
	"github.com/usbmitm/controller/internal/transport"
)

var (
	deviceBind  = flag.String("device-bind", "0.0.0.0:27015", "bridge listener address (device side)")
	hostSend    = flag.String("host-send", "", "peer address to relay host-side traffic to (empty disables)")
	pcapOut     = flag.String("pcap", "", "PCAP output path (empty disables)")
	cloneOut    = flag.String("clone-out", "", "identity capture output path (empty disables)")
	catalogPath = flag.String("catalog", "", "stage enable/disable catalog YAML (empty uses defaults)")
	debug       = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	log := logging.Default()
	if *debug {
		log.SetMinLevel(logging.LevelDebug)
	}

	cat := config.DefaultCatalog()
	if *catalogPath != "" {
		var err error
		cat, err = config.Load(*catalogPath)
		if err != nil {
			logging.Default().Errorf("mitm: load catalog: %v", err)
			os.Exit(1)
		}
	}

	reg := stage.NewRegistry(log)
	mustRegister(reg, codecstage.New(log))

	if cat.StageEnabled(transport.Name) {
		t, err := transport.New(transport.Config{
			DeviceEnabled: true,
			DeviceBind:    *deviceBind,
			HostEnabled:   *hostSend != "",
			HostSend:      *hostSend,
		}, log)
		if err != nil {
			log.Errorf("mitm: transport: %v", err)
			os.Exit(1)
		}
		if err := t.Start(); err != nil {
			log.Errorf("mitm: transport start: %v", err)
			os.Exit(1)
		}
		mustRegister(reg, t)
	}

	if *pcapOut != "" && cat.StageEnabled(pcapstage.Name) {
		p, err := pcapstage.New(*pcapOut, log)
		if err != nil {
			log.Errorf("mitm: pcap: %v", err)
			os.Exit(1)
		}
		mustRegister(reg, p)
	}

	if *cloneOut != "" && cat.StageEnabled(cloner.Name) {
		mustRegister(reg, cloner.New(*cloneOut, log))
	}

	eng := engine.New(reg, log, engine.WithTelemetry(telemetry.NewSampler(), 30))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("mitm: shutting down")
		cancel()
	}()

	log.Infof("mitm: running (device-bind=%s host-send=%s)", *deviceBind, *hostSend)
	start := time.Now()
	eng.Run(ctx)
	log.Infof("mitm: stopped after %s", time.Since(start))
}

func mustRegister(reg *stage.Registry, s stage.Stage) {
	if err := reg.Register(s); err != nil {
		logging.Default().Errorf("mitm: register %s: %v", s.Name(), err)
		os.Exit(1)
	}
}
