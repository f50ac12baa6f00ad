// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// responseStage transfers the Response from the passive to the active peer.
//
// The passive peer segments the body into DATA packets, each sent reliably, and terminates with a best-effort
// FIN carrying the status line. The active peer acknowledges every DATA packet and finishes on the FIN.
type responseStage struct{}

func (rs *responseStage) handle(ctx context.Context, state *stageState) {
	if state.config.activePeer {
		state.stageError = rs.handleActive(ctx, state)
	} else {
		state.stageError = rs.handlePassive(ctx, state)
	}
}

func (rs *responseStage) handleActive(ctx context.Context, state *stageState) error {
	var (
		body    bytes.Buffer
		p       = state.reply
		lastAck *packet.Packet
		silent  int
		fresh   = true
	)

	// The request stage's reply is the first packet of the response.
	for {
		if fresh || p.Seq > state.seq {
			fresh = false
			silent = 0

			switch p.Type {
			case packet.Fin:
				state.seq = p.Seq
				state.response = Response{
					Status: string(p.Payload),
					Body:   body.Bytes(),
				}
				return nil

			case packet.Data:
				state.seq = p.Seq
				body.Write(p.Payload)

				ack, err := state.newPacket(packet.Ack, []byte(strconv.FormatUint(uint64(p.Seq), 10)))
				if err != nil {
					return err
				}
				if err := state.sendOnce(ack); err != nil {
					return err
				}
				lastAck = &ack
			}
		} else if p.Type == packet.Data {
			// Our ACK got lost; acknowledge the retransmission again.
			ack, err := packet.New(packet.Ack, p.Seq+1, state.config.peer, []byte(strconv.FormatUint(uint64(p.Seq), 10)))
			if err != nil {
				return err
			}
			if err := state.link.Send(ack); err != nil {
				return err
			}
		}

		for {
			var err error
			p, err = state.link.Receive(ctx, state.config.transfer.Timeout)
			if err == nil {
				break
			} else if packet.IsDecodeError(err) {
				continue
			} else if !errors.Is(err, transport.ErrTimeout) {
				return err
			}

			silent++
			if state.config.transfer.Exhausted(silent) {
				return fmt.Errorf("%w: no response packet after %d timeouts", transport.ErrRetriesExhausted, silent)
			}

			// Either the FIN or the next segment got lost. Repeating the last ACK makes the passive peer resend.
			if lastAck != nil {
				state.retransmissions++
				if err := state.link.Send(*lastAck); err != nil {
					return err
				}
			}
		}
	}
}

func (rs *responseStage) handlePassive(ctx context.Context, state *stageState) error {
	if state.badRequest != nil {
		log.WithError(state.badRequest).WithField("peer", state.last.Peer).Info("Received a malformed request")

		state.response = Response{Status: StatusBadRequest, Body: []byte(state.badRequest.Error())}
	} else {
		state.response = state.config.handler.ServeRDT(state.request)
	}

	for _, segment := range packet.Segment(state.response.Body, packet.MaxPayload) {
		p, err := state.derivePacket(packet.Data, segment)
		if err != nil {
			return err
		}
		if _, err := state.sendReliably(ctx, p, state.config.transfer, packet.Ack); err != nil {
			return err
		}
	}

	fin, err := state.derivePacket(packet.Fin, []byte(state.response.Status))
	if err != nil {
		return err
	}
	state.fin = fin
	return state.sendOnce(fin)
}

// lingerStage keeps the passive peer responsive after its FIN. Every packet of the other peer within the linger
// time indicates a lost FIN, which is resent.
type lingerStage struct{}

func (ls *lingerStage) handle(ctx context.Context, state *stageState) {
	deadline := time.Now().Add(state.config.linger)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		p, err := state.link.Receive(ctx, remaining)
		switch {
		case err == nil:
		case packet.IsDecodeError(err):
			continue
		case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.Canceled):
			return
		default:
			state.stageError = err
			return
		}

		log.WithFields(log.Fields{
			"packet": p,
			"fin":    state.fin,
		}).Debug("Resending FIN for a late packet")

		state.retransmissions++
		if err := state.link.Send(state.fin); err != nil {
			state.stageError = err
			return
		}
	}
}
