// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import "fmt"

// Type is the one-octet packet type code.
type Type uint8

const (
	// Data carries a segment of a request or response body.
	Data Type = 0x00

	// Ack acknowledges a received packet.
	Ack Type = 0x01

	// Syn opens a connection; first packet of the three-way handshake.
	Syn Type = 0x02

	// SynAck answers a Syn.
	SynAck Type = 0x03

	// Fin terminates the current transfer direction. No further segments follow.
	Fin Type = 0x04
)

func (t Type) String() string {
	switch t {
	case Data:
		return "DATA"
	case Ack:
		return "ACK"
	case Syn:
		return "SYN"
	case SynAck:
		return "SYN_ACK"
	case Fin:
		return "FIN"
	default:
		return "INVALID"
	}
}

// IsValid checks if this Type represents a known packet type.
func (t Type) IsValid() bool {
	return t.String() != "INVALID"
}

// CheckValid returns an error wrapping ErrInvalidType for unknown types.
func (t Type) CheckValid() error {
	if !t.IsValid() {
		return fmt.Errorf("%w: 0x%02x", ErrInvalidType, uint8(t))
	}
	return nil
}

// ParseType converts a wire octet into a Type.
func ParseType(b byte) (Type, error) {
	t := Type(b)
	if err := t.CheckValid(); err != nil {
		return 0, err
	}
	return t, nil
}

// In reports if t is one of the given types.
func (t Type) In(types ...Type) bool {
	for _, other := range types {
		if t == other {
			return true
		}
	}
	return false
}
