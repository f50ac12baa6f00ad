// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery announces RDT file servers on the local network through UDP multicast packages and lets clients
// find them.
package discovery

const (
	// address4 is the default multicast IPv4 address used for discovery.
	address4 = "224.23.23.24"

	// port is the default multicast UDP port used for discovery.
	port = 35040
)
