// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"errors"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// handshakeStage establishes a connection by a three-way handshake.
//
// The active peer sends a SYN with sequence number one and waits for the SYN_ACK k. It continues with k+1 and
// acknowledges best-effort, echoing k as payload. The passive peer got the SYN already, answers with a SYN_ACK
// and waits for the ACK. A DATA packet in place of this ACK fails the handshake and is answered by a FIN
// carrying StatusRejected, letting the active peer learn about the failure.
type handshakeStage struct {
	// syn is the passive peer's triggering packet.
	syn packet.Packet
}

func (hs *handshakeStage) handle(ctx context.Context, state *stageState) {
	if state.config.activePeer {
		state.stageError = hs.handleActive(ctx, state)
	} else {
		state.stageError = hs.handlePassive(ctx, state)
	}

	if state.stageError == nil {
		state.established = true
	}
}

func (hs *handshakeStage) handleActive(ctx context.Context, state *stageState) error {
	state.seq = 0
	syn, err := state.newPacket(packet.Syn, state.config.greeting)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"peer": state.config.peer,
		"syn":  syn,
	}).Debug("Handshake sends SYN")

	// Leftovers of a previous connection on the same socket are no SYN_ACKs and are ignored while waiting.
	reply, err := state.sendReliably(ctx, syn, state.config.handshake, packet.SynAck)
	if err != nil {
		return handshakeFailure("SYN was not answered", err)
	}

	ack, err := state.newPacket(packet.Ack, []byte(strconv.FormatUint(uint64(reply.Seq), 10)))
	if err != nil {
		return err
	}
	if err := state.sendOnce(ack); err != nil {
		return NewHandshakeError("sending ACK failed", TransportFailure, err)
	}

	return nil
}

func (hs *handshakeStage) handlePassive(ctx context.Context, state *stageState) error {
	state.seq = hs.syn.Seq
	state.last = hs.syn

	synAck, err := state.derivePacket(packet.SynAck, state.config.greeting)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"peer":    hs.syn.Peer,
		"syn_ack": synAck,
	}).Debug("Handshake answers SYN")

	reply, err := state.sendReliably(ctx, synAck, state.config.handshake, packet.Ack, packet.Data)
	if err != nil {
		return handshakeFailure("SYN_ACK was not acknowledged", err)
	} else if reply.Type != packet.Ack {
		return hs.reject(state, reply)
	}

	return nil
}

// reject the handshake after an unexpected reply. The FIN is sent once here and repeated by a lingerStage.
func (hs *handshakeStage) reject(state *stageState, reply packet.Packet) error {
	hsErr := NewHandshakeError("expected ACK, got "+reply.String(), UnexpectedPacket, nil)

	fin, err := state.derivePacket(packet.Fin, []byte(StatusRejected))
	if err != nil {
		return hsErr
	}

	state.rejected = true
	state.fin = fin
	if err := state.sendOnce(fin); err != nil {
		log.WithError(err).WithField("fin", fin).Debug("Handshake failed to send rejection")
	}
	return hsErr
}

// handshakeFailure classifies an error of the retransmission driver. A canceled context is passed through.
func handshakeFailure(msg string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, transport.ErrRetriesExhausted):
		return NewHandshakeError(msg, HandshakeTimeout, err)
	default:
		return NewHandshakeError(msg, TransportFailure, err)
	}
}
