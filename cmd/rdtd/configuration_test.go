// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "rdtd.toml")
	if err := os.WriteFile(filename, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestParseConfig(t *testing.T) {
	filename := writeConfig(t, `
profile = true

[core]
listen       = "127.0.0.1:4000"
root         = "/srv/rdtfs"
max-sessions = 1
linger       = "5s"
greeting     = "Hello"

[retry]
handshake-timeout = "250ms"
max-retries       = 10

[logging]
level = "debug"

[history]
store     = "/var/lib/rdtfs"
retention = "24h"

[api]
listen = "127.0.0.1:8080"

[discovery]
ipv4     = true
interval = "30s"
`)

	conf, err := parseConfig(filename)
	if err != nil {
		t.Fatal(err)
	}

	if conf.listen != "127.0.0.1:4000" || conf.root != "/srv/rdtfs" || !conf.profile {
		t.Fatalf("unexpected core config %+v", conf)
	}
	if conf.server.MaxSessions != 1 || conf.server.Linger != 5*time.Second || string(conf.server.Greeting) != "Hello" {
		t.Fatalf("unexpected server config %+v", conf.server)
	}
	if conf.server.Handshake != (transport.RetryPolicy{Timeout: 250 * time.Millisecond, MaxRetries: 10}) {
		t.Fatalf("unexpected handshake policy %v", conf.server.Handshake)
	}
	if conf.server.Transfer != (transport.RetryPolicy{Timeout: transport.TransferPolicy.Timeout, MaxRetries: 10}) {
		t.Fatalf("unexpected transfer policy %v", conf.server.Transfer)
	}
	if conf.historyRetention != 24*time.Hour || conf.historyPurge != defaultPurge {
		t.Fatalf("unexpected history config %v, %v", conf.historyRetention, conf.historyPurge)
	}
	if !conf.discovery || conf.discoveryInterval != 30*time.Second || conf.discoveryName != defaultName {
		t.Fatalf("unexpected discovery config %+v", conf)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	filename := writeConfig(t, `
[core]
listen = ":4000"
root   = "."
`)

	conf, err := parseConfig(filename)
	if err != nil {
		t.Fatal(err)
	}

	if conf.server.MaxSessions != defaultMaxSessions {
		t.Fatalf("expected %d sessions, got %d", defaultMaxSessions, conf.server.MaxSessions)
	}
	if conf.server.Handshake != transport.HandshakePolicy || conf.server.Transfer != transport.TransferPolicy {
		t.Fatalf("unexpected policies %v, %v", conf.server.Handshake, conf.server.Transfer)
	}
	if conf.historyStore != "" || conf.apiListen != "" || conf.discovery {
		t.Fatalf("optional components are enabled: %+v", conf)
	}
}

func TestParseConfigErrors(t *testing.T) {
	filename := writeConfig(t, `
[core]
linger       = "soon"
max-sessions = -1

[retry]
transfer-timeout = "-1s"
`)

	_, err := parseConfig(filename)
	if err == nil {
		t.Fatal("invalid configuration was accepted")
	}

	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("expected a multierror, got %T", err)
	}

	// listen, root, max-sessions, linger and transfer-timeout
	if n := len(merr.WrappedErrors()); n != 5 {
		t.Fatalf("expected five errors, got %d: %v", n, err)
	}
	if !strings.Contains(err.Error(), "core.linger") {
		t.Fatalf("linger error is missing: %v", err)
	}
}
