// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// DefaultClientGreeting is the SYN's payload.
var DefaultClientGreeting = []byte("Hi S")

// ClientConfig holds the addressing and timing of a Client.
type ClientConfig struct {
	// Relay receives all datagrams. If nil, datagrams are sent to the Server directly.
	Relay *net.UDPAddr

	// Server is the ultimate endpoint, embedded into every packet.
	Server netip.AddrPort

	// Greeting is the SYN's payload. DefaultClientGreeting is used if empty.
	Greeting []byte

	// Handshake and Transfer are the retry policies for both protocol phases. Zero values are replaced by
	// transport.HandshakePolicy and transport.TransferPolicy.
	Handshake transport.RetryPolicy
	Transfer  transport.RetryPolicy
}

func (conf *ClientConfig) setDefaults() {
	if len(conf.Greeting) == 0 {
		conf.Greeting = DefaultClientGreeting
	}
	if conf.Handshake.Timeout <= 0 {
		conf.Handshake = transport.HandshakePolicy
	}
	if conf.Transfer.Timeout <= 0 {
		conf.Transfer = transport.TransferPolicy
	}
}

// remote is the address datagrams are sent to.
func (conf ClientConfig) remote() *net.UDPAddr {
	if conf.Relay != nil {
		return conf.Relay
	}
	return net.UDPAddrFromAddrPort(conf.Server)
}

// Client is the active peer. Each request is a new connection, starting with a handshake. Requests of one
// Client are serialized.
type Client struct {
	conn      net.PacketConn
	ownedConn bool
	link      *transport.PacketLink
	config    ClientConfig

	mutex sync.Mutex
}

// NewClient on an existing PacketConn.
func NewClient(conn net.PacketConn, conf ClientConfig) (*Client, error) {
	if !conf.Server.IsValid() || !conf.Server.Addr().Unmap().Is4() {
		return nil, fmt.Errorf("server address %v is no IPv4 address", conf.Server)
	}
	conf.setDefaults()

	return &Client{
		conn:   conn,
		link:   transport.NewPacketLink(conn, conf.remote()),
		config: conf,
	}, nil
}

// Dial creates a Client on a new UDP socket, bound to the local address. An empty address picks a random port.
func Dial(ctx context.Context, local string, conf ClientConfig) (*Client, error) {
	if local == "" {
		local = ":0"
	}

	conn, err := transport.ListenUDP(ctx, local)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(conn, conf)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	client.ownedConn = true

	return client, nil
}

func (client *Client) log() *log.Entry {
	return log.WithField("client", client)
}

// Get a file or directory listing.
func (client *Client) Get(ctx context.Context, path string) (Response, error) {
	return client.Do(ctx, NewGetRequest(path))
}

// Post content to a file.
func (client *Client) Post(ctx context.Context, path string, body []byte) (Response, error) {
	return client.Do(ctx, NewPostRequest(path, body))
}

// Do a Request over a new connection. Only the complete Response is returned; a failure at any point aborts
// the request.
func (client *Client) Do(ctx context.Context, req Request) (resp Response, err error) {
	if err = req.CheckValid(); err != nil {
		return
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	start := time.Now()
	config := stageConfig{
		activePeer: true,
		greeting:   client.config.Greeting,
		handshake:  client.config.Handshake,
		transfer:   client.config.Transfer,
		peer:       client.config.Server,
		request:    req,
	}

	sh := newStageHandler(ctx, []stageSetup{
		{
			stage: &handshakeStage{},
			postHook: func(_ *stageHandler, state *stageState) error {
				client.log().WithField("seq", state.seq).Debug("Client established connection")
				return nil
			},
		},
		{stage: &requestStage{}},
		{stage: &responseStage{}},
	}, client.link, config)

	if err = sh.wait(); err != nil {
		client.log().WithError(err).WithFields(log.Fields{
			"request": req,
			"stage":   sh.stage(),
		}).Warn("Client request failed")
		return
	}

	resp = sh.state.response
	if resp.Status == StatusRejected {
		resp = Response{}
		err = NewHandshakeError("server rejected the connection", UnexpectedPacket, nil)
		client.log().WithError(err).WithField("request", req).Warn("Client request failed")
		return
	}

	client.log().WithFields(log.Fields{
		"request":         req,
		"response":        resp,
		"duration":        time.Since(start),
		"retransmissions": sh.state.retransmissions,
	}).Info("Client finished request")
	return
}

// LocalAddr of the Client's socket.
func (client *Client) LocalAddr() net.Addr {
	return client.conn.LocalAddr()
}

// Close the Client. A PacketConn passed to NewClient is left open.
func (client *Client) Close() error {
	if client.ownedConn {
		return client.conn.Close()
	}
	return nil
}

func (client *Client) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "rdt://%v", client.config.Server)
	if client.config.Relay != nil {
		fmt.Fprintf(&b, " via %v", client.config.Relay)
	}

	return b.String()
}
