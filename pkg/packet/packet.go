// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet implements the fixed-header datagram format of the reliable transfer protocol.
//
// Each datagram starts with an eleven octet header, all fields in network byte order:
//
//	[type:1][sequence number:4][peer address:4][peer port:2][payload:0..1013]
//
// The peer fields name the ultimate endpoint of a packet. The datagram itself is sent to a relay, which
// forwards based on this embedded addressing.
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

const (
	// HeaderLen is the length of the fixed packet header in bytes.
	HeaderLen = 11

	// MaxLen is the largest datagram on the wire, header included.
	MaxLen = 1024

	// MaxPayload is the largest payload a single packet can carry.
	MaxPayload = MaxLen - HeaderLen
)

var (
	// ErrTruncated is returned when decoding less than HeaderLen bytes.
	ErrTruncated = errors.New("packet is truncated")

	// ErrPayloadTooLarge is returned for payloads exceeding MaxPayload.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum packet size")

	// ErrInvalidType is returned for unknown packet type octets.
	ErrInvalidType = errors.New("invalid packet type")

	// ErrInvalidPeer is returned if the peer is not an IPv4 address.
	ErrInvalidPeer = errors.New("peer must be an IPv4 address")
)

// Packet is the unit exchanged on the wire. Packets are values; use Derive to answer a received Packet.
type Packet struct {
	Type    Type
	Seq     uint32
	Peer    netip.AddrPort
	Payload []byte
}

// header is the fixed part of a Packet as it is written by encoding/binary.
type header struct {
	Type     uint8
	Seq      uint32
	PeerAddr [4]byte
	PeerPort uint16
}

// New creates a Packet after validating its fields. The payload is copied.
func New(t Type, seq uint32, peer netip.AddrPort, payload []byte) (p Packet, err error) {
	p = Packet{
		Type:    t,
		Seq:     seq,
		Peer:    netip.AddrPortFrom(peer.Addr().Unmap(), peer.Port()),
		Payload: copyPayload(payload),
	}

	if err = p.CheckValid(); err != nil {
		p = Packet{}
	}
	return
}

// Derive a new Packet from this one. The addressing is kept while type, sequence number and payload are
// replaced. This is used to answer a received Packet.
func (p Packet) Derive(t Type, seq uint32, payload []byte) (Packet, error) {
	return New(t, seq, p.Peer, payload)
}

// CheckValid returns an error if this Packet cannot be represented on the wire.
func (p Packet) CheckValid() error {
	if err := p.Type.CheckValid(); err != nil {
		return err
	}
	if l := len(p.Payload); l > MaxPayload {
		return fmt.Errorf("%w: %d bytes, maximum is %d", ErrPayloadTooLarge, l, MaxPayload)
	}
	if !p.Peer.Addr().Unmap().Is4() {
		return fmt.Errorf("%w: %v", ErrInvalidPeer, p.Peer)
	}
	return nil
}

// MarshalBinary encodes this Packet into its wire format.
func (p Packet) MarshalBinary() ([]byte, error) {
	if err := p.CheckValid(); err != nil {
		return nil, err
	}

	hdr := header{
		Type:     uint8(p.Type),
		Seq:      p.Seq,
		PeerAddr: p.Peer.Addr().Unmap().As4(),
		PeerPort: p.Peer.Port(),
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderLen+len(p.Payload)))
	if err := binary.Write(buf, binary.BigEndian, hdr); err != nil {
		return nil, err
	}
	buf.Write(p.Payload)

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a Packet from data. Only the bytes actually received must be passed; everything
// after the header becomes the payload.
func (p *Packet) UnmarshalBinary(data []byte) error {
	if l := len(data); l < HeaderLen {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncated, l, HeaderLen)
	} else if l > MaxLen {
		return fmt.Errorf("%w: datagram of %d bytes", ErrPayloadTooLarge, l)
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(data[:HeaderLen]), binary.BigEndian, &hdr); err != nil {
		return err
	}

	t, err := ParseType(hdr.Type)
	if err != nil {
		return err
	}

	p.Type = t
	p.Seq = hdr.Seq
	p.Peer = netip.AddrPortFrom(netip.AddrFrom4(hdr.PeerAddr), hdr.PeerPort)
	p.Payload = copyPayload(data[HeaderLen:])
	return nil
}

// Decode a Packet from a received datagram.
func Decode(data []byte) (p Packet, err error) {
	err = p.UnmarshalBinary(data)
	return
}

// IsDecodeError reports if err originates from decoding a malformed datagram.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrTruncated) || errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, ErrInvalidType)
}

func (p Packet) String() string {
	return fmt.Sprintf("%v(seq=%d, peer=%v, payload=%d bytes)", p.Type, p.Seq, p.Peer, len(p.Payload))
}

// copyPayload returns an independent copy; empty payloads become nil.
func copyPayload(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	return append([]byte(nil), payload...)
}
