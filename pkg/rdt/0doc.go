// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package rdt implements the client and server roles of a reliable, stop-and-wait data transfer over UDP.
//
// One request/response cycle consists of a three-way handshake (SYN, SYN_ACK, ACK), the request's DATA
// segments, the response's DATA segments, and a terminating FIN. Every packet carries the sequence number of
// the previous packet in the conversation plus one. At most one unacknowledged packet is in flight per
// direction.
//
// Both roles are composed of stages, executed one after another by a stage handler. The Client drives the
// active side on its own socket; the Server runs a dispatcher on the shared listening socket, spawning one
// session per connecting peer.
package rdt
