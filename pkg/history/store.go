// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package history persists summaries of handled exchanges.
package history

import (
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

// Store implements a storage for Records, backed by badgerhold.
type Store struct {
	bh *badgerhold.Store

	dir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<26 - 1

	if dirErr := os.MkdirAll(dir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh:  bh,
			dir: dir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Add an Exchange's Record.
func (s *Store) Add(e rdt.Exchange) (rec Record, err error) {
	rec = NewRecord(e)

	log.WithFields(log.Fields{
		"record": rec,
	}).Debug("Store inserts Record")

	err = s.bh.Insert(rec.Id, rec)
	return
}

// Get a Record by its identifier. badgerhold.ErrNotFound is returned for unknown identifiers.
func (s *Store) Get(id string) (rec Record, err error) {
	err = s.bh.Get(id, &rec)
	return
}

// Knows checks if such a Record exists.
func (s *Store) Knows(id string) bool {
	_, err := s.Get(id)
	return err != badgerhold.ErrNotFound
}

// List the newest Records first. A limit of zero or less lists all Records.
func (s *Store) List(limit int) (recs []Record, err error) {
	if err = s.bh.Find(&recs, nil); err != nil {
		return
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Id > recs[j].Id
	})

	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return
}

// QueryStatus fetches all Records with the given status line.
func (s *Store) QueryStatus(status string) (recs []Record, err error) {
	err = s.bh.Find(&recs, badgerhold.Where("Status").Eq(status))
	return
}

// DeleteBefore removes all Records of exchanges started before the given time.
func (s *Store) DeleteBefore(t time.Time) (n int, err error) {
	var recs []Record
	if err = s.bh.Find(&recs, badgerhold.Where("Started").Lt(t)); err != nil {
		return
	}

	for _, rec := range recs {
		if delErr := s.bh.Delete(rec.Id, Record{}); delErr != nil {
			log.WithError(delErr).WithField("record", rec.Id).Warn("Failed to delete Record")
			continue
		}
		n++
	}
	return
}

// DeleteExpired removes all Records older than the retention duration.
func (s *Store) DeleteExpired(retention time.Duration) {
	n, err := s.DeleteBefore(time.Now().Add(-retention))
	if err != nil {
		log.WithError(err).Warn("Failed to delete expired Records")
	} else if n > 0 {
		log.WithFields(log.Fields{
			"records":   n,
			"retention": retention,
		}).Info("Deleted expired Records")
	}
}
