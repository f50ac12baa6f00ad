// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/dtn7/cboring"

	"github.com/rdtfs/rdtfs-go/pkg/history"
)

// feedMessage is a message sent to the subscribers of a Feed.
type feedMessage interface {
	// typeCode identifies the message type on the wire, see feedMapping.
	typeCode() uint64

	cboring.CborMarshaler
}

const (
	feedStatusCode   uint64 = 0
	feedExchangeCode uint64 = 1
)

var feedMapping = map[uint64]reflect.Type{
	feedStatusCode:   reflect.TypeOf(feedStatus{}),
	feedExchangeCode: reflect.TypeOf(feedExchange{}),
}

// marshalFeedMessage writes a feedMessage as a CBOR array of its type code and its body.
func marshalFeedMessage(msg feedMessage, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(msg.typeCode(), w); err != nil {
		return err
	}
	return cboring.Marshal(msg, w)
}

// unmarshalFeedMessage reads a feedMessage, dispatched by its type code.
func unmarshalFeedMessage(r io.Reader) (msg feedMessage, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		return nil, arrErr
	} else if n != 2 {
		return nil, fmt.Errorf("expected array of two elements, got %d", n)
	}

	if code, codeErr := cboring.ReadUInt(r); codeErr != nil {
		return nil, codeErr
	} else if t, ok := feedMapping[code]; !ok {
		return nil, fmt.Errorf("unknown feed message type code %d", code)
	} else {
		msg = reflect.New(t).Interface().(feedMessage)
	}

	err = cboring.Unmarshal(msg, r)
	return
}

// feedStatus is sent once to each new subscriber.
type feedStatus struct {
	address  string
	sessions uint64
}

func (_ *feedStatus) typeCode() uint64 {
	return feedStatusCode
}

func (fs *feedStatus) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(fs.address, w); err != nil {
		return err
	}
	return cboring.WriteUInt(fs.sessions, w)
}

func (fs *feedStatus) UnmarshalCbor(r io.Reader) (err error) {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("feed status: expected array of two elements, got %d", n)
	}

	if fs.address, err = cboring.ReadTextString(r); err != nil {
		return
	}
	fs.sessions, err = cboring.ReadUInt(r)
	return
}

// feedExchange carries a history.Record of a finished exchange.
type feedExchange struct {
	record history.Record
}

func (_ *feedExchange) typeCode() uint64 {
	return feedExchangeCode
}

const feedExchangeFields = 14

func (fe *feedExchange) MarshalCbor(w io.Writer) error {
	rec := fe.record

	if err := cboring.WriteArrayLength(feedExchangeFields, w); err != nil {
		return err
	}

	for _, s := range []string{rec.Id, rec.Client, rec.Relay, rec.Method, rec.Path, rec.Status} {
		if err := cboring.WriteTextString(s, w); err != nil {
			return err
		}
	}

	for _, n := range []uint64{
		uint64(rec.RequestSize), uint64(rec.RequestChecksum),
		uint64(rec.ResponseSize), uint64(rec.ResponseChecksum),
		uint64(rec.Started.UnixNano()), uint64(rec.Duration), uint64(rec.Retransmissions),
	} {
		if err := cboring.WriteUInt(n, w); err != nil {
			return err
		}
	}

	return cboring.WriteTextString(rec.Error, w)
}

func (fe *feedExchange) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != feedExchangeFields {
		return fmt.Errorf("feed exchange: expected array of %d elements, got %d", feedExchangeFields, n)
	}

	var rec history.Record
	for _, s := range []*string{&rec.Id, &rec.Client, &rec.Relay, &rec.Method, &rec.Path, &rec.Status} {
		if v, err := cboring.ReadTextString(r); err != nil {
			return err
		} else {
			*s = v
		}
	}

	var ns [7]uint64
	for i := range ns {
		if v, err := cboring.ReadUInt(r); err != nil {
			return err
		} else {
			ns[i] = v
		}
	}
	rec.RequestSize = int(ns[0])
	rec.RequestChecksum = uint16(ns[1])
	rec.ResponseSize = int(ns[2])
	rec.ResponseChecksum = uint16(ns[3])
	rec.Started = time.Unix(0, int64(ns[4]))
	rec.Duration = time.Duration(ns[5])
	rec.Retransmissions = int(ns[6])

	if v, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		rec.Error = v
	}

	fe.record = rec
	return nil
}
