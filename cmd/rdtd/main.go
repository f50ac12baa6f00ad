// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// rdtd serves a directory over the reliable data transfer protocol.
package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/profile"
)

// waitSignal returns a channel which is closed on SIGINT or SIGTERM.
func waitSignal() <-chan struct{} {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	return signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	if conf.profile {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	d, err := startDaemon(conf)
	if err != nil {
		log.WithError(err).Fatal("Failed to start daemon")
	}

	if err := d.wait(waitSignal()); err != nil {
		log.WithError(err).Warn("File server stopped")
	}
	log.Info("Shutting down..")

	if err := d.close(); err != nil {
		log.WithError(err).Warn("Shutdown errored")
	}
}
