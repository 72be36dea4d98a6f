// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package deadletter

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/setlistlab/segue/internal/models"
)

const keyPrefix = "dl:"

// badgerStore persists dead letters in a Badger keyspace. Keys embed the
// timestamp so external consumers can scan chronologically; retention is
// enforced with per-entry TTLs rather than a sweep.
type badgerStore struct {
	db        *badger.DB
	retention time.Duration
}

func newBadgerStore(path string, retention time.Duration) (*badgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter store at %s: %w", path, err)
	}
	return &badgerStore{db: db, retention: retention}, nil
}

func (b *badgerStore) Put(dl *models.DeadLetter) error {
	val, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter %s: %w", dl.ID, err)
	}

	key := []byte(keyPrefix + dl.Timestamp.UTC().Format(time.RFC3339Nano) + ":" + dl.ID)
	err = b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, val)
		if b.retention > 0 {
			entry = entry.WithTTL(b.retention)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("persist dead letter %s: %w", dl.ID, err)
	}
	return nil
}

func (b *badgerStore) Close() error {
	return b.db.Close()
}
