// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config holds the configuration blocks shared by rdtd and rdtc.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// Retry describes the Retry-configuration block.
type Retry struct {
	HandshakeTimeout string `toml:"handshake-timeout"`
	TransferTimeout  string `toml:"transfer-timeout"`
	MaxRetries       int    `toml:"max-retries"`
}

// Policies converts the Retry-configuration block into both retry policies, starting from the transport's
// defaults.
func (conf Retry) Policies() (handshake, transfer transport.RetryPolicy, err error) {
	var errs error

	handshake = transport.HandshakePolicy
	transfer = transport.TransferPolicy

	if d, dErr := ParseDuration("retry.handshake-timeout", conf.HandshakeTimeout, handshake.Timeout); dErr != nil {
		errs = multierror.Append(errs, dErr)
	} else {
		handshake.Timeout = d
	}

	if d, dErr := ParseDuration("retry.transfer-timeout", conf.TransferTimeout, transfer.Timeout); dErr != nil {
		errs = multierror.Append(errs, dErr)
	} else {
		transfer.Timeout = d
	}

	if conf.MaxRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("retry.max-retries must not be negative"))
	} else {
		handshake.MaxRetries = conf.MaxRetries
		transfer.MaxRetries = conf.MaxRetries
	}

	err = errs
	return
}

// Logging describes the Logging-configuration block.
type Logging struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// Apply the Logging-configuration block to logrus' standard logger. An empty level results in fallback.
func (conf Logging) Apply(fallback log.Level) {
	level := fallback
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			level = lvl
		}
	}
	log.SetLevel(level)

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// ParseDuration parses a duration field, named for error messages. An empty value results in the fallback.
func ParseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	} else if d <= 0 {
		return 0, fmt.Errorf("%s: duration %v must be positive", name, d)
	}
	return d, nil
}
