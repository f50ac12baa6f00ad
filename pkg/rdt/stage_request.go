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

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// ErrIdle is returned by the passive peer if the other peer went silent.
var ErrIdle = errors.New("peer went idle")

// requestStage transfers the Request from the active to the passive peer.
//
// A GET is a single DATA packet. A POST is segmented into DATA packets, each acknowledged, followed by a FIN.
// The active peer's last request packet is answered by the first packet of the response, which is stored as
// the state's reply for the responseStage. A FIN in place of a POST segment's ACK ends the request early; this
// is how a rejected connection is terminated.
type requestStage struct{}

func (rs *requestStage) handle(ctx context.Context, state *stageState) {
	if !state.established {
		state.stageError = fmt.Errorf("request stage requires an established connection")
		return
	}

	if state.config.activePeer {
		state.stageError = rs.handleActive(ctx, state)
	} else {
		state.stageError = rs.handlePassive(ctx, state)
	}
}

func (rs *requestStage) handleActive(ctx context.Context, state *stageState) error {
	req := state.config.request
	data, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	state.request = req

	switch req.Method {
	case MethodGet:
		if len(data) > packet.MaxPayload {
			return fmt.Errorf("%w: GET request of %d bytes exceeds a single packet", ErrMalformedRequest, len(data))
		}

		p, err := state.newPacket(packet.Data, data)
		if err != nil {
			return err
		}
		state.reply, err = state.sendReliably(ctx, p, state.config.transfer, packet.Data, packet.Fin)
		return err

	case MethodPost:
		segmenter := packet.NewSegmenter(bytes.NewReader(data), packet.MaxPayload)
		for {
			segment, last, err := segmenter.NextSegment()
			if err != nil {
				return err
			}
			if len(segment) > 0 {
				p, err := state.newPacket(packet.Data, segment)
				if err != nil {
					return err
				}
				reply, err := state.sendReliably(ctx, p, state.config.transfer, packet.Ack, packet.Fin)
				if err != nil {
					return err
				} else if reply.Type == packet.Fin {
					state.reply = reply
					return nil
				}
			}
			if last {
				break
			}
		}

		fin, err := state.newPacket(packet.Fin, nil)
		if err != nil {
			return err
		}
		state.reply, err = state.sendReliably(ctx, fin, state.config.transfer, packet.Data, packet.Fin)
		return err

	default:
		return fmt.Errorf("%w: unknown method %q", ErrMalformedRequest, req.Method)
	}
}

func (rs *requestStage) handlePassive(ctx context.Context, state *stageState) error {
	var (
		body   bytes.Buffer
		method Method
	)

	for {
		p, err := state.link.Receive(ctx, state.config.idle)
		if errors.Is(err, transport.ErrTimeout) {
			return fmt.Errorf("%w: no request within %v", ErrIdle, state.config.idle)
		} else if packet.IsDecodeError(err) {
			continue
		} else if err != nil {
			return err
		}

		if p.Seq <= state.seq {
			// A retransmitted segment, whose ACK got lost.
			if p.Type == packet.Data && method == MethodPost {
				if err := rs.acknowledge(state, p); err != nil {
					return err
				}
			}
			continue
		}

		switch p.Type {
		case packet.Data:
			state.seq, state.last = p.Seq, p

			if method == "" {
				switch {
				case hasMethodPrefix(p.Payload, MethodGet):
					return rs.finishRequest(state, p.Payload)

				case hasMethodPrefix(p.Payload, MethodPost):
					method = MethodPost

				default:
					return rs.finishRequest(state, p.Payload)
				}
			}

			body.Write(p.Payload)
			if err := rs.acknowledge(state, p); err != nil {
				return err
			}

		case packet.Fin:
			state.seq, state.last = p.Seq, p
			return rs.finishRequest(state, body.Bytes())

		default:
			log.WithFields(log.Fields{
				"packet": p,
			}).Debug("Request stage ignores packet")
		}
	}
}

// acknowledge a received DATA packet, echoing its sequence number.
func (rs *requestStage) acknowledge(state *stageState, p packet.Packet) error {
	ack, err := p.Derive(packet.Ack, p.Seq+1, []byte(strconv.FormatUint(uint64(p.Seq), 10)))
	if err != nil {
		return err
	}

	if ack.Seq > state.seq {
		state.seq = ack.Seq
	}
	return state.link.Send(ack)
}

// finishRequest parses the received request. An unparsable request is no transport failure and results in a
// bad request response.
func (rs *requestStage) finishRequest(state *stageState, data []byte) error {
	if err := state.request.UnmarshalBinary(data); err != nil {
		state.badRequest = err
	}
	return nil
}
