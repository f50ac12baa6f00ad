// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

var testServerPeer = netip.MustParseAddrPort("127.0.0.1:8007")

func TestHandshakeStage(t *testing.T) {
	activeLink, passiveLink := transport.Pipe()
	defer activeLink.Close()

	activeState := &stageState{
		config: stageConfig{
			activePeer: true,
			greeting:   DefaultClientGreeting,
			handshake:  testHandshakePolicy,
			peer:       testServerPeer,
		},
		link: activeLink,
	}
	passiveState := &stageState{
		config: stageConfig{
			activePeer: false,
			greeting:   DefaultServerGreeting,
			handshake:  testHandshakePolicy,
		},
		link: passiveLink,
	}

	finChan := make(chan struct{})
	go func() { (&handshakeStage{}).handle(context.Background(), activeState); finChan <- struct{}{} }()

	// The passive peer's dispatcher passes the SYN to the stage.
	syn, err := passiveLink.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	} else if syn.Type != packet.Syn || syn.Seq != 1 || string(syn.Payload) != "Hi S" {
		t.Fatalf("unexpected SYN %v", syn)
	}

	go func() { (&handshakeStage{syn: syn}).handle(context.Background(), passiveState); finChan <- struct{}{} }()

	for fins := 0; fins < 2; {
		select {
		case <-finChan:
			fins += 1
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}

	if err := activeState.stageError; err != nil {
		t.Fatal(err)
	}
	if err := passiveState.stageError; err != nil {
		t.Fatal(err)
	}

	// SYN_ACK k=2, the client continues with k+1.
	if activeState.seq != 3 {
		t.Fatalf("active sequence number is %d, expected 3", activeState.seq)
	}
	if passiveState.seq != 3 {
		t.Fatalf("passive sequence number is %d, expected 3", passiveState.seq)
	}
	if !activeState.established || !passiveState.established {
		t.Fatal("connection is not established")
	}
	if ack := passiveState.last; ack.Type != packet.Ack || string(ack.Payload) != "2" {
		t.Fatalf("unexpected ACK %v", ack)
	}
}

func TestHandshakeStageDataInsteadOfAck(t *testing.T) {
	clientLink, passiveLink := transport.Pipe()
	defer clientLink.Close()

	syn, _ := packet.New(packet.Syn, 1, testServerPeer, DefaultClientGreeting)
	passiveState := &stageState{
		config: stageConfig{handshake: testHandshakePolicy},
		link:   passiveLink,
	}

	finChan := make(chan struct{})
	go func() { (&handshakeStage{syn: syn}).handle(context.Background(), passiveState); close(finChan) }()

	synAck, err := clientLink.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	} else if synAck.Type != packet.SynAck || synAck.Seq != 2 {
		t.Fatalf("unexpected SYN_ACK %v", synAck)
	}

	// The ACK is skipped, the client sends its request right away.
	data, _ := packet.New(packet.Data, 4, testServerPeer, []byte("GET /"))
	if err := clientLink.Send(data); err != nil {
		t.Fatal(err)
	}

	select {
	case <-finChan:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	var hsErr *HandshakeError
	if !errors.As(passiveState.stageError, &hsErr) {
		t.Fatalf("expected HandshakeError, got %v", passiveState.stageError)
	} else if hsErr.Code != UnexpectedPacket {
		t.Fatalf("unexpected code %v", hsErr.Code)
	}
	if passiveState.established {
		t.Fatal("failed handshake established the connection")
	}

	// The client learns about the failure by a FIN, which a lingerStage repeats.
	fin, err := clientLink.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	} else if fin.Type != packet.Fin || fin.Seq != 5 || string(fin.Payload) != StatusRejected {
		t.Fatalf("unexpected rejection %v", fin)
	}
	if !passiveState.rejected || passiveState.fin.Seq != fin.Seq {
		t.Fatal("rejection is not stored for lingering")
	}
}

func TestHandshakeStageCanceled(t *testing.T) {
	activeLink, _ := transport.Pipe()
	defer activeLink.Close()

	state := &stageState{
		config: stageConfig{
			activePeer: true,
			handshake:  transport.RetryPolicy{Timeout: 10 * time.Millisecond},
			peer:       testServerPeer,
		},
		link: activeLink,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	(&handshakeStage{}).handle(ctx, state)

	if !errors.Is(state.stageError, context.DeadlineExceeded) {
		t.Fatalf("expected exceeded context, got %v", state.stageError)
	}

	var hsErr *HandshakeError
	if errors.As(state.stageError, &hsErr) {
		t.Fatalf("canceled handshake reported %v", hsErr)
	}
}
