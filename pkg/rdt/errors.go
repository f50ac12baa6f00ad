// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import "fmt"

// HandshakeCode classifies a HandshakeError.
type HandshakeCode uint8

const (
	// UnexpectedPacket designates a reply of the wrong type, e.g., DATA instead of the handshake's ACK.
	UnexpectedPacket HandshakeCode = 1
	// HandshakeTimeout designates an unanswered SYN or SYN_ACK after all retransmissions.
	HandshakeTimeout HandshakeCode = 2
	// TransportFailure designates errors of the underlying socket.
	TransportFailure HandshakeCode = 3
)

func (code HandshakeCode) String() string {
	switch code {
	case UnexpectedPacket:
		return "unexpected packet"
	case HandshakeTimeout:
		return "timeout"
	case TransportFailure:
		return "transport failure"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(code))
	}
}

// HandshakeError is returned for failed connection attempts. The handshake is not retried as a whole.
type HandshakeError struct {
	Msg   string
	Code  HandshakeCode
	Cause error
}

func NewHandshakeError(message string, code HandshakeCode, cause error) *HandshakeError {
	return &HandshakeError{
		Msg:   message,
		Code:  code,
		Cause: cause,
	}
}

func (err *HandshakeError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("handshake failed, %v: %s: %v", err.Code, err.Msg, err.Cause)
	}
	return fmt.Sprintf("handshake failed, %v: %s", err.Code, err.Msg)
}

func (err *HandshakeError) Unwrap() error {
	return err.Cause
}
