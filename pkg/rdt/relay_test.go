// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// testRelay forwards datagrams to their embedded peer, rewriting the peer to the sender. Its drop function
// simulates a lossy network.
type testRelay struct {
	conn net.PacketConn

	mutex    sync.Mutex
	drop     func(p packet.Packet) bool
	observed []packet.Packet

	stopSyn chan struct{}
	stopAck chan struct{}
}

func newTestRelay(t *testing.T, drop func(p packet.Packet) bool) *testRelay {
	conn, err := transport.ListenUDP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	relay := &testRelay{
		conn:    conn,
		drop:    drop,
		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}
	go relay.handle()

	return relay
}

func (relay *testRelay) handle() {
	buf := make([]byte, packet.MaxLen)

	for {
		select {
		case <-relay.stopSyn:
			_ = relay.conn.Close()
			close(relay.stopAck)
			return

		default:
			if err := relay.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
				continue
			}

			n, from, err := relay.conn.ReadFrom(buf)
			if err != nil {
				continue
			}

			p, err := packet.Decode(buf[:n])
			if err != nil {
				continue
			}

			relay.mutex.Lock()
			dropped := relay.drop != nil && relay.drop(p)
			if !dropped {
				relay.observed = append(relay.observed, p)
			}
			relay.mutex.Unlock()

			if dropped {
				continue
			}

			fwd, err := packet.New(p.Type, p.Seq, from.(*net.UDPAddr).AddrPort(), p.Payload)
			if err != nil {
				continue
			}
			data, _ := fwd.MarshalBinary()
			_, _ = relay.conn.WriteTo(data, net.UDPAddrFromAddrPort(p.Peer))
		}
	}
}

// count forwarded packets of a type, sent towards dest.
func (relay *testRelay) count(t packet.Type, dest netip.AddrPort) (n int) {
	relay.mutex.Lock()
	defer relay.mutex.Unlock()

	for _, p := range relay.observed {
		if p.Type == t && p.Peer == dest {
			n++
		}
	}
	return
}

func (relay *testRelay) addr() *net.UDPAddr {
	return relay.conn.LocalAddr().(*net.UDPAddr)
}

func (relay *testRelay) close() {
	close(relay.stopSyn)
	<-relay.stopAck
}

// dropEvery returns a drop function losing every nth packet of the given type.
func dropEvery(n int, t packet.Type) func(packet.Packet) bool {
	var counter int
	return func(p packet.Packet) bool {
		if p.Type != t {
			return false
		}
		counter++
		return counter%n == 0
	}
}
