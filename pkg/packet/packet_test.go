// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"bytes"
	"errors"
	"net/netip"
	"reflect"
	"testing"
)

var testPeer = netip.MustParseAddrPort("192.168.2.10:8007")

func TestPacketWireFormat(t *testing.T) {
	data := []byte{
		// Type:
		0x03,
		// Sequence Number:
		0x00, 0x00, 0x01, 0x02,
		// Peer Address:
		0xC0, 0xA8, 0x02, 0x0A,
		// Peer Port:
		0x1F, 0x47,
		// Payload:
		'H', 'i', ' ', 'S',
	}

	p, err := New(SynAck, 258, testPeer, []byte("Hi S"))
	if err != nil {
		t.Fatal(err)
	}

	if enc, err := p.MarshalBinary(); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(enc, data) {
		t.Fatalf("encoding mismatches, expected %x and got %x", data, enc)
	}

	if dec, err := Decode(data); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(dec, p) {
		t.Fatalf("decoding mismatches, expected %v and got %v", p, dec)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		typ     Type
		seq     uint32
		payload []byte
	}{
		{Data, 0, nil},
		{Ack, 1, []byte("1")},
		{Syn, 1, []byte("Hi S")},
		{SynAck, 0xFFFFFFFF, []byte("Hi")},
		{Fin, 42, []byte("200 OK")},
		{Data, 7, bytes.Repeat([]byte{0xAB}, MaxPayload)},
	}

	for _, test := range tests {
		p, err := New(test.typ, test.seq, testPeer, test.payload)
		if err != nil {
			t.Fatal(err)
		}

		data, err := p.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		} else if l := len(data); l != HeaderLen+len(test.payload) {
			t.Fatalf("encoded %v has %d bytes", p, l)
		}

		var p2 Packet
		if err := p2.UnmarshalBinary(data); err != nil {
			t.Fatal(err)
		} else if !reflect.DeepEqual(p, p2) {
			t.Fatalf("packets differ: %v, %v", p, p2)
		}
	}
}

func TestPacketDecodeShort(t *testing.T) {
	for l := 0; l < HeaderLen; l++ {
		if _, err := Decode(make([]byte, l)); !errors.Is(err, ErrTruncated) {
			t.Fatalf("decoding %d bytes resulted in %v", l, err)
		} else if !IsDecodeError(err) {
			t.Fatalf("%v is not a decode error", err)
		}
	}

	if _, err := Decode(make([]byte, MaxLen+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("decoding an oversized datagram resulted in %v", err)
	}
}

func TestPacketDecodeInvalidType(t *testing.T) {
	data := make([]byte, HeaderLen)
	data[0] = 0x05

	if _, err := Decode(data); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected invalid type, got %v", err)
	}
}

func TestPacketDecodeCopiesPayload(t *testing.T) {
	p, _ := New(Data, 1, testPeer, []byte("hello"))
	data, _ := p.MarshalBinary()

	dec, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	data[HeaderLen] = 'j'
	if string(dec.Payload) != "hello" {
		t.Fatalf("payload changed with the buffer: %q", dec.Payload)
	}
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		peer    netip.AddrPort
		payload []byte
		err     error
	}{
		{"oversized payload", Data, testPeer, make([]byte, MaxPayload+1), ErrPayloadTooLarge},
		{"unknown type", Type(23), testPeer, nil, ErrInvalidType},
		{"IPv6 peer", Data, netip.MustParseAddrPort("[fe80::1]:8007"), nil, ErrInvalidPeer},
	}

	for _, test := range tests {
		if _, err := New(test.typ, 1, test.peer, test.payload); !errors.Is(err, test.err) {
			t.Fatalf("%s: expected %v, got %v", test.name, test.err, err)
		}
	}
}

func TestNewUnmapsPeer(t *testing.T) {
	mapped := netip.AddrPortFrom(netip.AddrFrom16(testPeer.Addr().As16()), testPeer.Port())

	p, err := New(Ack, 3, mapped, nil)
	if err != nil {
		t.Fatal(err)
	} else if p.Peer != testPeer {
		t.Fatalf("peer is %v, expected %v", p.Peer, testPeer)
	}
}

func TestPacketDerive(t *testing.T) {
	syn, _ := New(Syn, 1, testPeer, []byte("Hi S"))

	synAck, err := syn.Derive(SynAck, syn.Seq+1, []byte("Hi"))
	if err != nil {
		t.Fatal(err)
	}

	if synAck.Peer != syn.Peer {
		t.Fatalf("derived peer %v differs from %v", synAck.Peer, syn.Peer)
	}
	if synAck.Type != SynAck || synAck.Seq != 2 || string(synAck.Payload) != "Hi" {
		t.Fatalf("derived packet is %v", synAck)
	}
	if string(syn.Payload) != "Hi S" {
		t.Fatalf("origin was altered: %v", syn)
	}
}

func TestTypeParse(t *testing.T) {
	for b := 0; b <= 0xFF; b++ {
		typ, err := ParseType(byte(b))
		if valid := b <= int(Fin); (err == nil) != valid {
			t.Fatalf("octet %d: valid := %t, got %v", b, valid, err)
		} else if valid && uint8(typ) != uint8(b) {
			t.Fatalf("octet %d parsed into %v", b, typ)
		}
	}

	if !Fin.In(Data, Fin) || Ack.In(Data, Fin) {
		t.Fatal("In reports wrong membership")
	}
}
