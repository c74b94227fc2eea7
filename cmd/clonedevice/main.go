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

	"github.com/usbmitm/controller/internal/cloner"
	"github.com/usbmitm/controller/internal/codecstage"
	"github.com/usbmitm/controller/internal/engine"
	"github.com/usbmitm/controller/internal/logging"
	"github.com/usbmitm/controller/internal/stage"
	"github.com/usbmitm/controller/internal/transport"
)

var (
	deviceBind = flag.String("device-bind", "0.0.0.0:27015", "bridge listener address")
	outputPath = flag.String("out", "identity.bin", "captured identity output path")
)

func main() {
	flag.Parse()
	log := logging.Default()

	reg := stage.NewRegistry(log)

	t, err := transport.New(transport.Config{DeviceEnabled: true, DeviceBind: *deviceBind}, log)
	if err != nil {
		log.Errorf("clonedevice: transport: %v", err)
		os.Exit(1)
	}
	if err := t.Start(); err != nil {
		log.Errorf("clonedevice: start: %v", err)
		os.Exit(1)
	}

	if err := reg.Register(codecstage.New(log)); err != nil {
		log.Errorf("clonedevice: %v", err)
		os.Exit(1)
	}
	if err := reg.Register(t); err != nil {
		log.Errorf("clonedevice: %v", err)
		os.Exit(1)
	}
	c := cloner.New(*outputPath, log)
	if err := reg.Register(c); err != nil {
		log.Errorf("clonedevice: %v", err)
		os.Exit(1)
	}

	eng := engine.New(reg, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("clonedevice: shutting down")
		cancel()
	}()

	log.Infof("clonedevice: watching %s, writing to %s", *deviceBind, *outputPath)
	eng.Run(ctx)

	if err := c.LastSaveError(); err != nil {
		log.Errorf("clonedevice: final save: %v", err)
		os.Exit(1)
	}
}
