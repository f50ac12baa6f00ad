// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package history

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/howeyc/crc16"

	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

var (
	crc16table = crc16.MakeTable(crc16.CCITT)

	recordCounter uint32
)

// Record is the stored summary of an rdt.Exchange. Bodies are not stored, only their size and CRC-16 checksum.
type Record struct {
	Id string `json:"id" badgerhold:"key"`

	Client string `json:"client"`
	Relay  string `json:"relay,omitempty"`

	Method string `json:"method"`
	Path   string `json:"path"`
	Status string `json:"status" badgerholdIndex:"Status"`

	RequestSize      int    `json:"request_size"`
	RequestChecksum  uint16 `json:"request_checksum"`
	ResponseSize     int    `json:"response_size"`
	ResponseChecksum uint16 `json:"response_checksum"`

	Started         time.Time     `json:"started" badgerholdIndex:"Started"`
	Duration        time.Duration `json:"duration"`
	Retransmissions int           `json:"retransmissions"`

	Error string `json:"error,omitempty"`
}

// NewRecord summarizes an Exchange. The identifier sorts by the start time.
func NewRecord(e rdt.Exchange) Record {
	rec := Record{
		Id: fmt.Sprintf("%016x-%04x", e.Started.UnixNano(), atomic.AddUint32(&recordCounter, 1)&0xFFFF),

		Client: e.Client.String(),
		Relay:  e.Relay,

		Method: string(e.Request.Method),
		Path:   e.Request.Path,
		Status: e.Response.Status,

		RequestSize:      len(e.Request.Body),
		RequestChecksum:  Checksum(e.Request.Body),
		ResponseSize:     len(e.Response.Body),
		ResponseChecksum: Checksum(e.Response.Body),

		Started:         e.Started,
		Duration:        e.Duration,
		Retransmissions: e.Retransmissions,
	}

	if e.Err != nil {
		rec.Error = e.Err.Error()
	}

	return rec
}

// Checksum calculates the CRC-16/CCITT of a body.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crc16table)
}

// Failed reports if the Exchange was aborted.
func (rec Record) Failed() bool {
	return rec.Error != ""
}

func (rec Record) String() string {
	if rec.Failed() {
		return fmt.Sprintf("Record(%s, %s, failed: %s)", rec.Id, rec.Client, rec.Error)
	}
	return fmt.Sprintf("Record(%s, %s, %s %s, %s)", rec.Id, rec.Client, rec.Method, rec.Path, rec.Status)
}
