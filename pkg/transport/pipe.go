// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
)

// ErrPipeClosed is returned when using a closed PipeLink.
var ErrPipeClosed = errors.New("pipe is closed")

// PipeLink is an in-memory Link, created pairwise by Pipe. Like a datagram socket, sends never block: packets
// exceeding the buffer are silently lost.
type PipeLink struct {
	in  <-chan packet.Packet
	out chan<- packet.Packet

	dropMutex sync.Mutex
	drop      func(packet.Packet) bool

	closeOnce *sync.Once
	closeChan chan struct{}
}

// Pipe creates two connected PipeLinks.
func Pipe() (a, b *PipeLink) {
	var (
		ab        = make(chan packet.Packet, 64)
		ba        = make(chan packet.Packet, 64)
		closeOnce = new(sync.Once)
		closeChan = make(chan struct{})
	)

	a = &PipeLink{in: ba, out: ab, closeOnce: closeOnce, closeChan: closeChan}
	b = &PipeLink{in: ab, out: ba, closeOnce: closeOnce, closeChan: closeChan}
	return
}

// SetDrop installs a filter for outgoing packets. Packets for which drop returns true are lost.
func (pl *PipeLink) SetDrop(drop func(packet.Packet) bool) {
	pl.dropMutex.Lock()
	defer pl.dropMutex.Unlock()

	pl.drop = drop
}

// Send a packet to the other end.
func (pl *PipeLink) Send(p packet.Packet) error {
	select {
	case <-pl.closeChan:
		return ErrPipeClosed
	default:
	}

	pl.dropMutex.Lock()
	drop := pl.drop
	pl.dropMutex.Unlock()

	if drop != nil && drop(p) {
		return nil
	}

	select {
	case pl.out <- p:
	default:
	}
	return nil
}

// Receive a packet from the other end.
func (pl *PipeLink) Receive(ctx context.Context, timeout time.Duration) (packet.Packet, error) {
	var timeoutChan <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutChan = timer.C
	}

	select {
	case p := <-pl.in:
		return p, nil
	case <-timeoutChan:
		return packet.Packet{}, ErrTimeout
	case <-pl.closeChan:
		return packet.Packet{}, ErrPipeClosed
	case <-ctx.Done():
		return packet.Packet{}, ctx.Err()
	}
}

// Close both ends of the pipe.
func (pl *PipeLink) Close() error {
	pl.closeOnce.Do(func() { close(pl.closeChan) })
	return nil
}
