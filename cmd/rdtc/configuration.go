// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/rdtfs/rdtfs-go/internal/config"
	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

// tomlConfig describes the optional TOML-configuration.
type tomlConfig struct {
	Client  clientConf
	Retry   config.Retry
	Logging config.Logging
}

// clientConf describes the Client-configuration block.
type clientConf struct {
	Relay  string
	Server string
	Local  string
}

// readConfig decodes a configuration file. An empty filename results in an empty configuration.
func readConfig(filename string) (conf tomlConfig, err error) {
	if filename == "" {
		return
	}
	_, err = toml.DecodeFile(filename, &conf)
	return
}

// clientConfig validates the configuration and creates the rdt.ClientConfig and the local address.
func (conf tomlConfig) clientConfig() (cc rdt.ClientConfig, local string, err error) {
	var errs error

	if conf.Client.Server == "" {
		errs = multierror.Append(errs, fmt.Errorf("client.server is empty"))
	} else if server, sErr := netip.ParseAddrPort(conf.Client.Server); sErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("client.server: %w", sErr))
	} else {
		cc.Server = server
	}

	if conf.Client.Relay != "" {
		if relay, rErr := net.ResolveUDPAddr("udp4", conf.Client.Relay); rErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("client.relay: %w", rErr))
		} else {
			cc.Relay = relay
		}
	}

	local = conf.Client.Local

	var retryErr error
	if cc.Handshake, cc.Transfer, retryErr = conf.Retry.Policies(); retryErr != nil {
		errs = multierror.Append(errs, retryErr)
	}

	err = errs
	return
}
