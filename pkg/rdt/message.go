// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Method of a Request.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// Status lines used in responses.
const (
	StatusOK                  = "200 OK"
	StatusBadRequest          = "400 Bad Request"
	StatusForbidden           = "403 Forbidden"
	StatusNotFound            = "404 Not Found"
	StatusNotAcceptable       = "406 Not Acceptable"
	StatusInternalServerError = "500 Internal Server Error"

	// StatusRejected terminates a connection whose handshake the server refused. Clients report it as a
	// HandshakeError instead of a Response.
	StatusRejected = "409 Connection Rejected"
)

// ErrMalformedRequest is returned for request bytes without a known method and path.
var ErrMalformedRequest = errors.New("malformed request")

// Request is a file request, sent from the client to the server.
type Request struct {
	Method Method
	Path   string
	Body   []byte
}

// NewGetRequest for a path.
func NewGetRequest(path string) Request {
	return Request{Method: MethodGet, Path: path}
}

// NewPostRequest for a path and the content to be written.
func NewPostRequest(path string, body []byte) Request {
	return Request{Method: MethodPost, Path: path, Body: body}
}

// CheckValid returns an error if this Request cannot be sent.
func (req Request) CheckValid() error {
	switch req.Method {
	case MethodGet, MethodPost:
	default:
		return fmt.Errorf("%w: unknown method %q", ErrMalformedRequest, req.Method)
	}

	if req.Path == "" || strings.ContainsAny(req.Path, " \n") {
		return fmt.Errorf("%w: invalid path %q", ErrMalformedRequest, req.Path)
	}
	if req.Method == MethodGet && len(req.Body) > 0 {
		return fmt.Errorf("%w: GET requests carry no body", ErrMalformedRequest)
	}

	return nil
}

// MarshalBinary encodes this Request as "METHOD PATH" or "POST PATH\nBODY".
func (req Request) MarshalBinary() ([]byte, error) {
	if err := req.CheckValid(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(string(req.Method))
	buf.WriteByte(' ')
	buf.WriteString(req.Path)

	if req.Method == MethodPost {
		buf.WriteByte('\n')
		buf.Write(req.Body)
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary parses a Request from its encoding.
func (req *Request) UnmarshalBinary(data []byte) error {
	line, body := data, []byte(nil)
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line, body = data[:i], data[i+1:]
	}

	fields := strings.Fields(string(line))
	if len(fields) != 2 {
		return fmt.Errorf("%w: request line %q", ErrMalformedRequest, line)
	}

	req.Method = Method(fields[0])
	req.Path = fields[1]
	req.Body = nil
	if len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	return req.CheckValid()
}

func (req Request) String() string {
	return fmt.Sprintf("%s %s (%d bytes)", req.Method, req.Path, len(req.Body))
}

// hasMethodPrefix checks if a payload starts a request of the given method.
func hasMethodPrefix(payload []byte, method Method) bool {
	return bytes.HasPrefix(payload, []byte(string(method)+" "))
}

// Response to a Request. The Status line travels in the final FIN packet, the Body in DATA segments.
type Response struct {
	Status string
	Body   []byte
}

// OK reports a 2xx status.
func (resp Response) OK() bool {
	return strings.HasPrefix(resp.Status, "2")
}

func (resp Response) String() string {
	return fmt.Sprintf("%s (%d bytes)", resp.Status, len(resp.Body))
}

// Handler produces a Response for a completely received Request.
type Handler interface {
	ServeRDT(req Request) Response
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(req Request) Response

// ServeRDT calls f(req).
func (f HandlerFunc) ServeRDT(req Request) Response {
	return f(req)
}

// Exchange summarizes one request/response cycle handled by a Server.
type Exchange struct {
	// Client is the requesting endpoint, as embedded in its packets.
	Client netip.AddrPort

	// Relay is the address the datagrams were received from.
	Relay string

	Request  Request
	Response Response

	Started         time.Time
	Duration        time.Duration
	Retransmissions int

	// Err is set for failed cycles.
	Err error
}
