// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/packet"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// DefaultServerGreeting is the SYN_ACK's payload.
var DefaultServerGreeting = []byte("Hi")

const (
	// DefaultLinger is the time a session stays responsive after its FIN.
	DefaultLinger = 2 * time.Second

	// DefaultIdle is the time a session waits for the next request packet.
	DefaultIdle = 30 * time.Second
)

// ServerConfig holds the timing and limits of a Server.
type ServerConfig struct {
	// Greeting is the SYN_ACK's payload. DefaultServerGreeting is used if empty.
	Greeting []byte

	// Handshake and Transfer are the retry policies for both protocol phases. Zero values are replaced by
	// transport.HandshakePolicy and transport.TransferPolicy.
	Handshake transport.RetryPolicy
	Transfer  transport.RetryPolicy

	// MaxSessions limits concurrently handled connections. One serializes all clients, zero is unlimited.
	MaxSessions int

	// Linger and Idle default to DefaultLinger and DefaultIdle.
	Linger time.Duration
	Idle   time.Duration

	// OnExchange is called after each finished or failed connection, if not nil.
	OnExchange func(Exchange)
}

func (conf *ServerConfig) setDefaults() {
	if len(conf.Greeting) == 0 {
		conf.Greeting = DefaultServerGreeting
	}
	if conf.Handshake.Timeout <= 0 {
		conf.Handshake = transport.HandshakePolicy
	}
	if conf.Transfer.Timeout <= 0 {
		conf.Transfer = transport.TransferPolicy
	}
	if conf.Linger <= 0 {
		conf.Linger = DefaultLinger
	}
	if conf.Idle <= 0 {
		conf.Idle = DefaultIdle
	}
}

// Server is the passive peer. A dispatcher reads the shared socket and routes packets to one session per
// connection, keyed by the datagram's source and the embedded client address.
type Server struct {
	conn    net.PacketConn
	handler Handler
	config  ServerConfig

	sessions      map[string]*session
	sessionsMutex sync.Mutex
	sessionsWg    sync.WaitGroup
}

// NewServer for a bound PacketConn and a Handler answering requests.
func NewServer(conn net.PacketConn, handler Handler, conf ServerConfig) *Server {
	conf.setDefaults()

	return &Server{
		conn:     conn,
		handler:  handler,
		config:   conf,
		sessions: make(map[string]*session),
	}
}

func (serv *Server) log() *log.Entry {
	return log.WithField("server", serv)
}

// Serve packets until the context is canceled or the socket fails. Running sessions are canceled and awaited
// before returning. A canceled context results in a nil error.
func (serv *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		serv.sessionsWg.Wait()
	}()

	serv.log().WithFields(log.Fields{
		"max_sessions": serv.config.MaxSessions,
		"handshake":    serv.config.Handshake,
		"transfer":     serv.config.Transfer,
	}).Info("Server starts serving")

	buf := make([]byte, packet.MaxLen+1)
	for {
		select {
		case <-ctx.Done():
			serv.log().Info("Server shuts down")
			return nil

		default:
			if err := serv.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
				return fmt.Errorf("setting read deadline failed: %w", err)
			}

			n, from, err := serv.conn.ReadFrom(buf)
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			} else if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}

			p, err := packet.Decode(buf[:n])
			if err != nil {
				serv.log().WithError(err).WithField("from", from).Warn("Server dropped malformed datagram")
				continue
			}

			serv.dispatch(ctx, from, p)
		}
	}
}

// dispatch a received packet to its session. A SYN creates a new session, unless an unfinished session for
// this connection exists; a finished, lingering session is replaced.
func (serv *Server) dispatch(ctx context.Context, from net.Addr, p packet.Packet) {
	key := fmt.Sprintf("%v|%v", from, p.Peer)

	serv.sessionsMutex.Lock()
	defer serv.sessionsMutex.Unlock()

	sess, known := serv.sessions[key]

	if p.Type != packet.Syn {
		if known {
			sess.deliver(p)
		} else {
			serv.log().WithFields(log.Fields{
				"from":   from,
				"packet": p,
			}).Debug("Server dropped packet of an unknown connection")
		}
		return
	}

	if known {
		if !sess.isFinished() {
			sess.deliver(p)
			return
		}

		sess.cancel()
		delete(serv.sessions, key)
	}

	if limit := serv.config.MaxSessions; limit > 0 && serv.activeSessions() >= limit {
		serv.log().WithFields(log.Fields{
			"from":   from,
			"packet": p,
		}).Debug("Server is busy, dropping SYN")
		return
	}

	sess = newSession(ctx, serv, key, from, p)
	serv.sessions[key] = sess

	serv.sessionsWg.Add(1)
	go func() {
		defer serv.sessionsWg.Done()
		sess.run()
		serv.removeSession(sess)
	}()
}

// activeSessions counts the unfinished sessions; sessionsMutex must be held.
func (serv *Server) activeSessions() (n int) {
	for _, sess := range serv.sessions {
		if !sess.isFinished() {
			n++
		}
	}
	return
}

func (serv *Server) removeSession(sess *session) {
	serv.sessionsMutex.Lock()
	defer serv.sessionsMutex.Unlock()

	if serv.sessions[sess.key] == sess {
		delete(serv.sessions, sess.key)
	}
}

// Sessions returns the number of currently handled connections.
func (serv *Server) Sessions() int {
	serv.sessionsMutex.Lock()
	defer serv.sessionsMutex.Unlock()

	return serv.activeSessions()
}

// LocalAddr of the Server's socket.
func (serv *Server) LocalAddr() net.Addr {
	return serv.conn.LocalAddr()
}

func (serv *Server) String() string {
	return fmt.Sprintf("rdt://%v", serv.conn.LocalAddr())
}
