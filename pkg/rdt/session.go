// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// sessionInboxSize bounds queued packets per session. Excess packets are dropped, like on a full socket.
const sessionInboxSize = 64

// session is the server side of one connection. It owns its sequence state and receives its packets from the
// Server's dispatcher, while sending directly on the shared socket.
type session struct {
	key    string
	server *Server
	from   net.Addr
	syn    packet.Packet

	inbox    chan packet.Packet
	finished int32

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(ctx context.Context, server *Server, key string, from net.Addr, syn packet.Packet) *session {
	sess := &session{
		key:    key,
		server: server,
		from:   from,
		syn:    syn,
		inbox:  make(chan packet.Packet, sessionInboxSize),
	}
	sess.ctx, sess.cancel = context.WithCancel(ctx)

	return sess
}

func (sess *session) log() *log.Entry {
	return log.WithFields(log.Fields{
		"session": sess.key,
	})
}

// deliver a packet without blocking the dispatcher.
func (sess *session) deliver(p packet.Packet) {
	select {
	case sess.inbox <- p:
	default:
		sess.log().WithField("packet", p).Debug("Session inbox is full, dropping packet")
	}
}

func (sess *session) isFinished() bool {
	return atomic.LoadInt32(&sess.finished) != 0
}

// run the passive stages for this connection and report the Exchange afterwards.
func (sess *session) run() {
	defer sess.cancel()

	start := time.Now()
	conf := sess.server.config

	sess.log().WithField("syn", sess.syn).Info("Session starts for new connection")

	sh := newStageHandler(sess.ctx, []stageSetup{
		{
			stage: &handshakeStage{syn: sess.syn},
			postHook: func(_ *stageHandler, state *stageState) error {
				sess.log().WithField("seq", state.seq).Debug("Session established connection")
				return nil
			},
		},
		{stage: &requestStage{}},
		{stage: &responseStage{}},
		{
			stage: &lingerStage{},
			preHook: func(_ *stageHandler, state *stageState) error {
				atomic.StoreInt32(&sess.finished, 1)
				sess.log().WithFields(log.Fields{
					"request":  state.request,
					"response": state.response,
				}).Info("Session sent response")
				return nil
			},
		},
	}, sess, stageConfig{
		activePeer: false,
		greeting:   conf.Greeting,
		handshake:  conf.Handshake,
		transfer:   conf.Transfer,
		handler:    sess.server.handler,
		idle:       conf.Idle,
		linger:     conf.Linger,
	})

	err := sh.wait()
	atomic.StoreInt32(&sess.finished, 1)

	if err != nil {
		sess.log().WithError(err).WithField("stage", sh.stage()).Warn("Session failed")
	}

	// The client keeps retransmitting until it receives the rejection.
	if sh.state.rejected {
		(&lingerStage{}).handle(sess.ctx, sh.state)
	}

	if sess.server.config.OnExchange != nil {
		sess.server.config.OnExchange(Exchange{
			Client:          sess.syn.Peer,
			Relay:           sess.from.String(),
			Request:         sh.state.request,
			Response:        sh.state.response,
			Started:         start,
			Duration:        time.Since(start),
			Retransmissions: sh.state.retransmissions,
			Err:             err,
		})
	}
}

// Send implements transport.Link on the shared socket.
func (sess *session) Send(p packet.Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	if _, err := sess.server.conn.WriteTo(data, sess.from); err != nil {
		return fmt.Errorf("sending %v to %v failed: %w", p, sess.from, err)
	}
	return nil
}

// Receive implements transport.Link on the session's inbox.
func (sess *session) Receive(ctx context.Context, timeout time.Duration) (packet.Packet, error) {
	var timeoutChan <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutChan = timer.C
	}

	select {
	case p := <-sess.inbox:
		return p, nil
	case <-timeoutChan:
		return packet.Packet{}, transport.ErrTimeout
	case <-ctx.Done():
		return packet.Packet{}, ctx.Err()
	}
}
