// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api serves the daemon's HTTP interface: a JSON status and exchange history and a WebSocket feed of
// finished exchanges.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"

	"github.com/rdtfs/rdtfs-go/pkg/history"
)

// DefaultLimit of records returned by /exchanges.
const DefaultLimit = 50

// Backend is the RDT server whose state is reported.
type Backend interface {
	Sessions() int
	LocalAddr() net.Addr
}

// Records is the read side of the exchange history.
type Records interface {
	List(limit int) ([]history.Record, error)
	Get(id string) (history.Record, error)
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Address  string    `json:"address"`
	Root     string    `json:"root"`
	Sessions int       `json:"sessions"`
	Started  time.Time `json:"started"`
	Uptime   string    `json:"uptime"`
	Feed     int       `json:"feed_subscribers"`
}

// ErrorResponse is sent for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// API binds the HTTP endpoints to a mux.Router.
type API struct {
	router  *mux.Router
	backend Backend
	records Records
	root    string
	started time.Time

	feed *Feed
}

// New registers the endpoints on the router. records might be nil if no history is kept.
func New(router *mux.Router, backend Backend, records Records, root string) *API {
	a := &API{
		router:  router,
		backend: backend,
		records: records,
		root:    root,
		started: time.Now(),
	}

	a.feed = NewFeed(func() (string, int) {
		return backend.LocalAddr().String(), backend.Sessions()
	})

	a.router.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	a.router.HandleFunc("/exchanges", a.handleExchanges).Methods(http.MethodGet)
	a.router.HandleFunc("/exchanges/{id}", a.handleExchange).Methods(http.MethodGet)
	a.router.Handle("/ws", a.feed)

	return a
}

// ServeHTTP is a http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Feed of finished exchanges.
func (a *API) Feed() *Feed {
	return a.feed
}

// Close disconnects the feed's subscribers.
func (a *API) Close() {
	a.feed.Close()
}

func (a *API) writeJson(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write API response")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJson(w, status, ErrorResponse{Error: err.Error()})
}

// handleStatus processes /status GET requests.
func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.writeJson(w, http.StatusOK, StatusResponse{
		Address:  a.backend.LocalAddr().String(),
		Root:     a.root,
		Sessions: a.backend.Sessions(),
		Started:  a.started,
		Uptime:   time.Since(a.started).Round(time.Second).String(),
		Feed:     a.feed.Subscribers(),
	})
}

// handleExchanges processes /exchanges GET requests, optionally limited by the limit parameter.
func (a *API) handleExchanges(w http.ResponseWriter, r *http.Request) {
	if a.records == nil {
		a.writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}

	limit := DefaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err != nil || n < 0 {
			a.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		} else {
			limit = n
		}
	}

	recs, err := a.records.List(limit)
	if err != nil {
		log.WithError(err).Warn("Listing exchange history errored")
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}

	a.writeJson(w, http.StatusOK, recs)
}

// handleExchange processes /exchanges/{id} GET requests.
func (a *API) handleExchange(w http.ResponseWriter, r *http.Request) {
	if a.records == nil {
		a.writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := a.records.Get(id)
	switch {
	case errors.Is(err, badgerhold.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case err != nil:
		log.WithError(err).WithField("id", id).Warn("Fetching exchange record errored")
		a.writeError(w, http.StatusInternalServerError, err)
	default:
		a.writeJson(w, http.StatusOK, rec)
	}
}
