// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
)

// ErrTimeout is returned by Link.Receive if no packet arrived in time.
var ErrTimeout = errors.New("receive timed out")

// pollInterval bounds a single blocking read, so that a PacketLink notices a canceled context.
const pollInterval = 100 * time.Millisecond

// Link is a bidirectional, unreliable packet channel to exactly one remote entity.
type Link interface {
	// Send a packet once, without any delivery guarantee.
	Send(p packet.Packet) error

	// Receive the next packet. ErrTimeout is returned if nothing arrived within timeout; a timeout of zero or
	// less waits until the context is done. Malformed datagrams result in a packet decoding error.
	Receive(ctx context.Context, timeout time.Duration) (packet.Packet, error)
}

// PacketLink is a Link over a net.PacketConn. Every packet is sent to one remote address, e.g., the relay, and
// only datagrams from this address are accepted.
type PacketLink struct {
	conn   net.PacketConn
	remote net.Addr
}

// NewPacketLink creates a PacketLink for a PacketConn and the remote address all datagrams are exchanged with.
func NewPacketLink(conn net.PacketConn, remote net.Addr) *PacketLink {
	return &PacketLink{
		conn:   conn,
		remote: remote,
	}
}

// Send a packet to the remote address.
func (l *PacketLink) Send(p packet.Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	if _, err := l.conn.WriteTo(data, l.remote); err != nil {
		return fmt.Errorf("sending %v to %v failed: %w", p, l.remote, err)
	}

	log.WithFields(log.Fields{
		"link":   l,
		"packet": p,
	}).Trace("PacketLink sent packet")
	return nil
}

// Receive the next packet from the remote address.
func (l *PacketLink) Receive(ctx context.Context, timeout time.Duration) (p packet.Packet, err error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	buf := make([]byte, packet.MaxLen+1)
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			return
		}

		readDeadline := time.Now().Add(pollInterval)
		if !deadline.IsZero() {
			if !time.Now().Before(deadline) {
				err = ErrTimeout
				return
			} else if deadline.Before(readDeadline) {
				readDeadline = deadline
			}
		}

		if dlErr := l.conn.SetReadDeadline(readDeadline); dlErr != nil {
			err = dlErr
			return
		}

		n, from, readErr := l.conn.ReadFrom(buf)
		if errors.Is(readErr, os.ErrDeadlineExceeded) {
			continue
		} else if readErr != nil {
			err = readErr
			return
		}

		if !sameAddr(from, l.remote) {
			log.WithFields(log.Fields{
				"link": l,
				"from": from,
			}).Debug("PacketLink dropped datagram from an unknown source")
			continue
		}

		p, err = packet.Decode(buf[:n])
		return
	}
}

func (l *PacketLink) String() string {
	return fmt.Sprintf("%v->%v", l.conn.LocalAddr(), l.remote)
}

// sameAddr compares two addresses by their textual representation, which works across resolved and
// unresolved UDP addresses.
func sameAddr(a, b net.Addr) bool {
	if ua, ok := a.(*net.UDPAddr); ok {
		if ub, ok := b.(*net.UDPAddr); ok {
			return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
		}
	}
	return a.String() == b.String()
}
