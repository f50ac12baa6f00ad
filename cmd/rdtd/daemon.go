// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/api"
	"github.com/rdtfs/rdtfs-go/pkg/cron"
	"github.com/rdtfs/rdtfs-go/pkg/discovery"
	"github.com/rdtfs/rdtfs-go/pkg/history"
	"github.com/rdtfs/rdtfs-go/pkg/httpfs"
	"github.com/rdtfs/rdtfs-go/pkg/rdt"
	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

const statsInterval = time.Minute

// daemon bundles the file server and its optional companions.
type daemon struct {
	conf daemonConfig

	conn   net.PacketConn
	fs     *httpfs.FileSystem
	server *rdt.Server

	store      *history.Store
	api        *api.API
	httpServer *http.Server
	discovery  *discovery.Manager
	cron       *cron.Cron

	cancel   context.CancelFunc
	serving  bool
	serveErr chan error
}

// startDaemon sets up all configured components and starts serving.
func startDaemon(dc daemonConfig) (d *daemon, err error) {
	d = &daemon{
		conf:     dc,
		serveErr: make(chan error, 1),
	}

	if d.fs, err = httpfs.New(dc.root); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	defer func() {
		if err != nil {
			if closeErr := d.close(); closeErr != nil {
				log.WithError(closeErr).Warn("Closing partially started daemon errored")
			}
			d = nil
		}
	}()

	if d.conn, err = transport.ListenUDP(ctx, dc.listen); err != nil {
		return
	}

	if dc.historyStore != "" {
		if d.store, err = history.NewStore(dc.historyStore); err != nil {
			return
		}
	}

	serverConf := dc.server
	serverConf.OnExchange = d.onExchange
	d.server = rdt.NewServer(d.conn, d.fs, serverConf)

	d.cron = cron.New()
	if err = d.registerJobs(); err != nil {
		return
	}

	if dc.apiListen != "" {
		d.startApi(dc.apiListen)
	}

	if dc.discovery {
		port := uint16(d.conn.LocalAddr().(*net.UDPAddr).Port)
		announcement := discovery.Announcement{Name: dc.discoveryName, Port: port}
		if d.discovery, err = discovery.NewManager(announcement, dc.discoveryInterval); err != nil {
			return
		}
	}

	d.serving = true
	go func() { d.serveErr <- d.server.Serve(ctx) }()

	log.WithFields(log.Fields{
		"server": d.server,
		"root":   d.fs.Root(),
	}).Info("Started file server")

	return
}

func (d *daemon) startApi(listen string) {
	var records api.Records
	if d.store != nil {
		records = d.store
	}

	d.api = api.New(mux.NewRouter(), d.server, records, d.fs.Root())
	d.httpServer = &http.Server{
		Addr:    listen,
		Handler: d.api,
	}

	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("listen", listen).Warn("API server errored")
		}
	}()

	log.WithField("listen", listen).Info("Started API server")
}

func (d *daemon) registerJobs() error {
	if d.store != nil {
		retention := d.conf.historyRetention
		err := d.cron.Register("history-purge", func(context.Context) {
			d.store.DeleteExpired(retention)
		}, d.conf.historyPurge)
		if err != nil {
			return err
		}
	}

	return d.cron.Register("stats", func(context.Context) { d.logStats() }, statsInterval)
}

func (d *daemon) logStats() {
	fields := log.Fields{
		"sessions": d.server.Sessions(),
	}
	if d.api != nil {
		fields["feed_subscribers"] = d.api.Feed().Subscribers()
	}
	if d.discovery != nil {
		fields["discovered_servers"] = len(d.discovery.Peers(3 * d.conf.discoveryInterval))
	}

	log.WithFields(fields).Info("File server statistics")
}

// onExchange is called by the rdt.Server for each finished connection.
func (d *daemon) onExchange(e rdt.Exchange) {
	var rec history.Record
	if d.store != nil {
		var err error
		if rec, err = d.store.Add(e); err != nil {
			log.WithError(err).WithField("exchange", e.Request).Warn("Storing exchange in history errored")
		}
	} else {
		rec = history.NewRecord(e)
	}

	entry := log.WithFields(log.Fields{
		"client":   e.Client,
		"request":  e.Request,
		"status":   e.Response.Status,
		"duration": e.Duration,
		"checksum": rec.ResponseChecksum,
	})
	if e.Err != nil {
		entry.WithError(e.Err).Warn("Exchange failed")
	} else {
		entry.Info("Exchange finished")
	}

	if d.api != nil {
		d.api.Feed().Publish(rec)
	}
}

// wait blocks until the server stops on its own or the stop channel is closed.
func (d *daemon) wait(stop <-chan struct{}) error {
	select {
	case err := <-d.serveErr:
		d.serveErr <- err
		return err
	case <-stop:
		return nil
	}
}

// close shuts all components down, in reverse order of their start.
func (d *daemon) close() error {
	var errs error

	if d.cancel != nil {
		d.cancel()
	}
	if d.serving {
		select {
		case err := <-d.serveErr:
			if err != nil {
				errs = multierror.Append(errs, err)
			}
		case <-time.After(5 * time.Second):
			errs = multierror.Append(errs, errors.New("server did not stop in time"))
		}
	}

	if d.discovery != nil {
		d.discovery.Close()
	}
	if d.cron != nil {
		d.cron.Stop()
	}

	if d.httpServer != nil {
		d.api.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := d.httpServer.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
		cancel()
	}

	if d.conn != nil {
		if err := d.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs
}
