// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/history"
)

// subscriberBuffer is the number of queued messages before a slow subscriber misses messages.
const subscriberBuffer = 32

type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
}

// Feed publishes finished exchanges to WebSocket subscribers. Its ServeHTTP function must be bound to an endpoint,
// e.g., /ws.
type Feed struct {
	upgrader websocket.Upgrader
	status   func() feedStatus

	subscribers map[*subscriber]struct{}
	mutex       sync.Mutex
	closed      bool
}

// NewFeed creates a Feed. The status function is queried for the greeting of each new subscriber.
func NewFeed(status func() (address string, sessions int)) *Feed {
	return &Feed{
		status: func() feedStatus {
			addr, sessions := status()
			return feedStatus{address: addr, sessions: uint64(sessions)}
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket and subscribes it.
func (f *Feed) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	sub := &subscriber{
		conn:  conn,
		queue: make(chan []byte, subscriberBuffer),
		done:  make(chan struct{}),
	}

	status := f.status()
	greeting, err := encodeFeedMessage(&status)
	if err != nil {
		log.WithError(err).Warn("Encoding feed status errored")
		_ = conn.Close()
		return
	}
	sub.queue <- greeting

	f.mutex.Lock()
	if f.closed {
		f.mutex.Unlock()
		_ = conn.Close()
		return
	}
	f.subscribers[sub] = struct{}{}
	f.mutex.Unlock()

	log.WithField("subscriber", conn.RemoteAddr()).Info("Feed subscriber connected")

	go f.write(sub)
	go f.read(sub)
}

// read discards incoming messages until the subscriber disconnects.
func (f *Feed) read(sub *subscriber) {
	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			log.WithError(err).WithField("subscriber", sub.conn.RemoteAddr()).Debug("Feed subscriber disconnected")
			f.unsubscribe(sub)
			return
		}
	}
}

func (f *Feed) write(sub *subscriber) {
	defer sub.conn.Close()

	for {
		select {
		case <-sub.done:
			_ = sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-sub.queue:
			if err := sub.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.WithError(err).WithField("subscriber", sub.conn.RemoteAddr()).Warn("Writing to feed subscriber errored")
				f.unsubscribe(sub)
				return
			}
		}
	}
}

func (f *Feed) unsubscribe(sub *subscriber) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.subscribers[sub]; ok {
		delete(f.subscribers, sub)
		close(sub.done)
	}
}

func encodeFeedMessage(msg feedMessage) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := marshalFeedMessage(msg, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Publish a Record to all subscribers. A subscriber with a full queue misses this Record.
func (f *Feed) Publish(rec history.Record) {
	data, err := encodeFeedMessage(&feedExchange{record: rec})
	if err != nil {
		log.WithError(err).WithField("record", rec).Warn("Encoding feed exchange errored")
		return
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	for sub := range f.subscribers {
		select {
		case sub.queue <- data:
		default:
			log.WithField("subscriber", sub.conn.RemoteAddr()).Warn("Feed subscriber is too slow, dropping record")
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return len(f.subscribers)
}

// Close disconnects all subscribers and refuses new ones.
func (f *Feed) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.closed = true
	for sub := range f.subscribers {
		delete(f.subscribers, sub)
		close(sub.done)
	}
}
