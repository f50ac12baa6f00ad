// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"net/netip"
	"time"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// stageConfig for stages.
type stageConfig struct {
	// activePeer indicates if this peer is the "active" entity, the client.
	activePeer bool

	// greeting is the payload of the SYN or SYN_ACK.
	greeting []byte

	// handshake and transfer are the retry policies for both protocol phases.
	handshake transport.RetryPolicy
	transfer  transport.RetryPolicy

	// peer is embedded in all packets created by the active peer.
	peer netip.AddrPort

	// request to be sent by the active peer.
	request Request

	// handler answers requests on the passive peer.
	handler Handler

	// idle limits the passive peer's wait for the next request packet.
	idle time.Duration

	// linger is the time the passive peer stays responsive after sending its FIN.
	linger time.Duration
}

// stageState for stages, both used as input and as an altered output.
type stageState struct {
	// config to be used; should not be altered.
	config stageConfig

	// link to the other peer.
	link transport.Link

	// stageError reports back the failure of a stage.
	stageError error

	// seq is the sequence number of the last packet sent or received in this conversation.
	seq uint32

	// last is the most recently accepted packet from the other peer.
	last packet.Packet

	// retransmissions sums up all resends.
	retransmissions int

	// HANDSHAKE STAGE
	// established is set after a successful handshake.
	established bool
	// rejected is set by the passive peer after refusing the handshake; fin holds the rejection.
	rejected bool
	// HANDSHAKE STAGE END

	// REQUEST STAGE
	// request is the sent or received request.
	request Request
	// badRequest marks an unparsable request on the passive peer.
	badRequest error
	// reply is the first packet answering the active peer's request.
	reply packet.Packet
	// REQUEST STAGE END

	// RESPONSE STAGE
	// response is the sent or received response.
	response Response
	// fin is the passive peer's terminating packet.
	fin packet.Packet
	// RESPONSE STAGE END
}

// newPacket creates the next packet of this conversation for the active peer, addressed to the configured peer.
func (state *stageState) newPacket(t packet.Type, payload []byte) (packet.Packet, error) {
	return packet.New(t, state.seq+1, state.config.peer, payload)
}

// derivePacket answers the last packet of this conversation, keeping its addressing.
func (state *stageState) derivePacket(t packet.Type, payload []byte) (packet.Packet, error) {
	return state.last.Derive(t, state.seq+1, payload)
}

// sendReliably sends p through the retransmission driver and advances the conversation to the reply.
func (state *stageState) sendReliably(ctx context.Context, p packet.Packet, policy transport.RetryPolicy, expect ...packet.Type) (reply packet.Packet, err error) {
	state.seq = p.Seq

	res, err := transport.SendReliably(ctx, state.link, p, policy, expect...)
	state.retransmissions += res.Retransmissions
	if err != nil {
		return
	}

	reply = res.Reply
	state.seq = reply.Seq
	state.last = reply
	return
}

// sendOnce sends p best-effort and advances the conversation.
func (state *stageState) sendOnce(p packet.Packet) error {
	state.seq = p.Seq
	return state.link.Send(p)
}

// stage described by this interface.
type stage interface {
	// handle this stage's action based on the previous stage's state. The context is canceled when the
	// stageHandler is closed.
	handle(ctx context.Context, state *stageState)
}
