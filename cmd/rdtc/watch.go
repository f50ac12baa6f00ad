// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"

	"github.com/rdtfs/rdtfs-go/pkg/history"
	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

// settleTime is the quiet period after a file's last event before it is uploaded.
const settleTime = 250 * time.Millisecond

// poster uploads a file, implemented by rdt.Client.
type poster interface {
	Post(ctx context.Context, path string, body []byte) (rdt.Response, error)
}

// watch uploads changed files of a directory.
type watch struct {
	directory string
	prefix    string
	client    poster
	watcher   *fsnotify.Watcher

	// pending maps files to their last event.
	pending map[string]time.Time
	// uploaded maps files to the checksum of their last upload.
	uploaded map[string]uint16
}

// startWatch for the "watch" CLI option.
func startWatch(ctx context.Context, client poster, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}

	prefix := "/"
	if len(args) == 2 {
		prefix = args[1]
	}

	w, err := newWatch(args[0], prefix, client)
	if err != nil {
		return fmt.Errorf("starting file watcher errored: %w", err)
	}

	if err := w.run(ctx); err != nil {
		return fmt.Errorf("file watcher errored: %w", err)
	}
	return nil
}

func newWatch(directory, prefix string, client poster) (w *watch, err error) {
	w = &watch{
		directory: directory,
		prefix:    prefix,
		client:    client,
		pending:   make(map[string]time.Time),
		uploaded:  make(map[string]uint16),
	}

	if w.watcher, err = fsnotify.NewWatcher(); err != nil {
		return nil, err
	}
	if err = w.watcher.Add(directory); err != nil {
		_ = w.watcher.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"directory": directory,
		"prefix":    prefix,
	}).Info("Watching directory")

	return w, nil
}

// remotePath maps a local file below the directory to its path on the server.
func (w *watch) remotePath(file string) (string, error) {
	rel, err := filepath.Rel(w.directory, file)
	if err != nil {
		return "", err
	}
	return path.Join("/", w.prefix, filepath.ToSlash(rel)), nil
}

// run until the context is canceled or the watcher fails.
func (w *watch) run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(settleTime / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(e)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return err

		case now := <-ticker.C:
			w.uploadSettled(ctx, now)
		}
	}
}

func (w *watch) handleEvent(e fsnotify.Event) {
	if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		log.WithFields(log.Fields{
			"file":      e.Name,
			"operation": e.Op.String(),
		}).Debug("Ignoring fsnotify event")
		return
	}

	info, err := os.Stat(e.Name)
	if err != nil {
		log.WithError(err).WithField("file", e.Name).Debug("File vanished")
		return
	}

	if info.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := w.watcher.Add(e.Name); err != nil {
				log.WithError(err).WithField("directory", e.Name).Warn("Adding directory to file watcher errored")
			}
		}
		return
	}

	w.pending[e.Name] = time.Now()
}

func (w *watch) uploadSettled(ctx context.Context, now time.Time) {
	for file, last := range w.pending {
		if now.Sub(last) < settleTime {
			continue
		}

		delete(w.pending, file)
		w.upload(ctx, file)
	}
}

func (w *watch) upload(ctx context.Context, file string) {
	logger := log.WithField("file", file)

	data, err := os.ReadFile(file)
	if err != nil {
		logger.WithError(err).Warn("Reading file errored")
		return
	}

	checksum := history.Checksum(data)
	if sum, ok := w.uploaded[file]; ok && sum == checksum {
		logger.Debug("Skipping file; content is unchanged")
		return
	}

	remote, err := w.remotePath(file)
	if err != nil {
		logger.WithError(err).Warn("Mapping file to remote path errored")
		return
	}
	logger = logger.WithField("path", remote)

	resp, err := w.client.Post(ctx, remote, data)
	if err != nil {
		logger.WithError(err).Error("Uploading file errored")
		return
	}

	if !resp.OK() {
		logger.WithField("status", resp.Status).Warn("Server refused file")
		return
	}

	w.uploaded[file] = checksum
	logger.WithFields(log.Fields{
		"status":   resp.Status,
		"checksum": checksum,
	}).Info("Uploaded file")
}
