// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/internal/config"
	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf
	Retry     config.Retry
	Logging   config.Logging
	History   historyConf
	Api       apiConf
	Discovery discoveryConf
	Profile   bool
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Listen      string
	Root        string
	MaxSessions *int `toml:"max-sessions"`
	Linger      string
	Idle        string
	Greeting    string
}

// historyConf describes the History-configuration block. An empty store disables the history.
type historyConf struct {
	Store     string
	Retention string
	Purge     string
}

// apiConf describes the API-configuration block. An empty listen address disables the API.
type apiConf struct {
	Listen string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	Interval string
	Name     string
}

const (
	defaultMaxSessions = 16
	defaultRetention   = 7 * 24 * time.Hour
	defaultPurge       = time.Hour
	defaultInterval    = 10 * time.Second
	defaultName        = "rdtfs"
)

// daemonConfig is the validated configuration.
type daemonConfig struct {
	listen string
	root   string
	server rdt.ServerConfig

	historyStore     string
	historyRetention time.Duration
	historyPurge     time.Duration

	apiListen string

	discovery         bool
	discoveryInterval time.Duration
	discoveryName     string

	profile bool
}

// parseConfig reads and validates a TOML configuration. All validation errors are reported together.
func parseConfig(filename string) (dc daemonConfig, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	conf.Logging.Apply(log.InfoLevel)

	var errs error
	appendErr := func(e error) {
		if e != nil {
			errs = multierror.Append(errs, e)
		}
	}

	// Core
	if conf.Core.Listen == "" {
		appendErr(fmt.Errorf("core.listen is empty"))
	}
	if conf.Core.Root == "" {
		appendErr(fmt.Errorf("core.root is empty"))
	}

	dc.listen = conf.Core.Listen
	dc.root = conf.Core.Root

	dc.server.MaxSessions = defaultMaxSessions
	if conf.Core.MaxSessions != nil {
		if *conf.Core.MaxSessions < 0 {
			appendErr(fmt.Errorf("core.max-sessions must not be negative"))
		}
		dc.server.MaxSessions = *conf.Core.MaxSessions
	}

	var durErr error
	dc.server.Linger, durErr = config.ParseDuration("core.linger", conf.Core.Linger, rdt.DefaultLinger)
	appendErr(durErr)
	dc.server.Idle, durErr = config.ParseDuration("core.idle", conf.Core.Idle, rdt.DefaultIdle)
	appendErr(durErr)

	if conf.Core.Greeting != "" {
		dc.server.Greeting = []byte(conf.Core.Greeting)
	}

	// Retry
	var retryErr error
	dc.server.Handshake, dc.server.Transfer, retryErr = conf.Retry.Policies()
	appendErr(retryErr)

	// History
	dc.historyStore = conf.History.Store
	dc.historyRetention, durErr = config.ParseDuration("history.retention", conf.History.Retention, defaultRetention)
	appendErr(durErr)
	dc.historyPurge, durErr = config.ParseDuration("history.purge", conf.History.Purge, defaultPurge)
	appendErr(durErr)
	if dc.historyPurge < time.Second {
		appendErr(fmt.Errorf("history.purge must be at least one second"))
	}

	// API
	dc.apiListen = conf.Api.Listen
	if dc.apiListen != "" && dc.historyStore == "" {
		log.Info("History is disabled, the API will only report the status")
	}

	// Discovery
	dc.discovery = conf.Discovery.IPv4
	dc.discoveryInterval, durErr = config.ParseDuration("discovery.interval", conf.Discovery.Interval, defaultInterval)
	appendErr(durErr)
	dc.discoveryName = conf.Discovery.Name
	if dc.discoveryName == "" {
		dc.discoveryName = defaultName
	}

	dc.profile = conf.Profile

	err = errs
	return
}
