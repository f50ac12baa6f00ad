// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package transport

import (
	"context"
	"net"
)

// This file implements a listener for operating systems next to Linux. The other file additionally sets
// specific socket options.

// ListenUDP creates a UDP socket.
func ListenUDP(ctx context.Context, address string) (net.PacketConn, error) {
	var lc net.ListenConfig
	return lc.ListenPacket(ctx, "udp4", address)
}
