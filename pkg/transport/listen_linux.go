// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package transport

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Within this file, Linux-specific socket options are configured for UDP sockets. A server socket is shared by
// all sessions, so larger buffers reduce drops during bursts of parallel transfers.
//
// The socket options are based on the Linux socket(7) manual page.
// <https://man7.org/linux/man-pages/man7/socket.7.html>

// listenControl is the net.ListenConfig's Control function to set the socket options.
func listenControl(_, _ string, rawConn syscall.RawConn) (err error) {
	const (
		// socketBufferSize is used for SO_RCVBUF and SO_SNDBUF. The kernel doubles this value.
		socketBufferSize int = 256 * 1024
	)

	opts := map[int]int{
		unix.SO_RCVBUF: socketBufferSize,
		unix.SO_SNDBUF: socketBufferSize,
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		for opt, value := range opts {
			err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, value)
			if err != nil {
				return
			}
		}
	})
	if err == nil {
		err = ctrlErr
	}

	return
}

// ListenUDP creates a UDP socket with socket options set.
func ListenUDP(ctx context.Context, address string) (net.PacketConn, error) {
	lc := &net.ListenConfig{
		Control: listenControl,
	}
	return lc.ListenPacket(ctx, "udp4", address)
}
