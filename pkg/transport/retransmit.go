// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
)

// ErrRetriesExhausted is returned after a RetryPolicy's MaxRetries resends went unanswered.
var ErrRetriesExhausted = errors.New("retransmissions exhausted")

// RetryPolicy configures the retransmission of a packet.
type RetryPolicy struct {
	// Timeout to wait for a reply before resending.
	Timeout time.Duration

	// MaxRetries is the number of resends after the initial send. Zero retries forever.
	MaxRetries int
}

var (
	// HandshakePolicy is used for connection establishment.
	HandshakePolicy = RetryPolicy{Timeout: 100 * time.Millisecond}

	// TransferPolicy is used during data transfer.
	TransferPolicy = RetryPolicy{Timeout: time.Second}
)

// Forever reports if this policy never gives up.
func (rp RetryPolicy) Forever() bool {
	return rp.MaxRetries <= 0
}

// Exhausted reports if retries resends exceed this policy.
func (rp RetryPolicy) Exhausted(retries int) bool {
	return !rp.Forever() && retries > rp.MaxRetries
}

func (rp RetryPolicy) String() string {
	if rp.Forever() {
		return fmt.Sprintf("RetryPolicy(%v, forever)", rp.Timeout)
	}
	return fmt.Sprintf("RetryPolicy(%v, %d retries)", rp.Timeout, rp.MaxRetries)
}

// Result of a SendReliably call.
type Result struct {
	// Reply is the accepted answer.
	Reply packet.Packet

	// Retransmissions counts the resends of the packet.
	Retransmissions int
}

// SendReliably sends a packet and waits for a reply, resending on each timeout.
//
// A reply is only accepted if its type is one of the expected types and its sequence number is newer than the
// sent packet's one. Everything else, including malformed datagrams, counts as still waiting. Transport errors
// and a canceled context abort immediately.
func SendReliably(ctx context.Context, link Link, p packet.Packet, policy RetryPolicy, expect ...packet.Type) (res Result, err error) {
	if policy.Timeout <= 0 {
		err = fmt.Errorf("retry policy requires a positive timeout, got %v", policy.Timeout)
		return
	}

	logger := log.WithFields(log.Fields{
		"packet": p,
		"policy": policy,
		"expect": expect,
	})

	for {
		if sendErr := link.Send(p); sendErr != nil {
			err = sendErr
			return
		}

		reply, waitErr := awaitReply(ctx, link, p, policy.Timeout, expect)
		switch {
		case waitErr == nil:
			res.Reply = reply
			return

		case errors.Is(waitErr, ErrTimeout):
			res.Retransmissions++
			if policy.Exhausted(res.Retransmissions) {
				err = fmt.Errorf("%w: %v unanswered after %d retransmissions", ErrRetriesExhausted, p, policy.MaxRetries)
				return
			}

			logger.WithField("retransmissions", res.Retransmissions).Debug("Retransmitting unanswered packet")

		default:
			err = waitErr
			return
		}
	}
}

// awaitReply waits up to timeout in total for an acceptable reply to p.
func awaitReply(ctx context.Context, link Link, p packet.Packet, timeout time.Duration, expect []packet.Type) (packet.Packet, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return packet.Packet{}, ErrTimeout
		}

		reply, err := link.Receive(ctx, remaining)
		switch {
		case err == nil:
		case packet.IsDecodeError(err):
			log.WithError(err).Debug("Ignoring malformed datagram while awaiting a reply")
			continue
		default:
			return packet.Packet{}, err
		}

		if !reply.Type.In(expect...) || reply.Seq <= p.Seq {
			log.WithFields(log.Fields{
				"sent":     p,
				"received": reply,
				"expect":   expect,
			}).Debug("Ignoring unexpected reply")
			continue
		}

		return reply, nil
	}
}
