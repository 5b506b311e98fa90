// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Load and Delete for an unknown note ID.
var ErrNotFound = errors.New("note not found")

const (
	notePrefix      = "note/"
	metaModeManual  = "meta/mode-manual-override"
	metaLastCapable = "meta/mode-last-capable"
)

// StoreConfig holds configuration for the local note database.
type StoreConfig struct {
	// Path is the directory for database files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for database operations.
	// If nil, the database's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultStoreConfig returns production defaults: persistent and
// synchronous. Best-effort local persistence is still the contract;
// sync writes just narrow the loss window.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{Path: path, SyncWrites: true}
}

// InMemoryStoreConfig returns configuration for tests.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store persists notes in an embedded BadgerDB.
//
// # Thread Safety
//
// Store is safe for concurrent use; BadgerDB handles transaction
// isolation.
type Store struct {
	db *badger.DB
}

// OpenStore opens the note database. Caller must Close when done.
func OpenStore(cfg StoreConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open note database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a note, stamping timestamps and assigning an ID when
// missing. Returns the stored note.
func (s *Store) Save(note Note) (Note, error) {
	now := time.Now().UTC()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	value, err := json.Marshal(note)
	if err != nil {
		return Note{}, fmt.Errorf("marshaling note %s: %w", note.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(notePrefix+note.ID), value)
	})
	if err != nil {
		return Note{}, fmt.Errorf("saving note %s: %w", note.ID, err)
	}
	return note, nil
}

// Load reads one note. Unknown IDs return ErrNotFound.
func (s *Store) Load(id string) (Note, error) {
	var note Note
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(notePrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &note)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Note{}, ErrNotFound
		}
		return Note{}, fmt.Errorf("loading note %s: %w", id, err)
	}
	return note, nil
}

// List returns all notes ordered by most-recently-updated first.
func (s *Store) List() ([]Note, error) {
	var result []Note
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(notePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var note Note
				if err := json.Unmarshal(val, &note); err != nil {
					return err
				}
				result = append(result, note)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// Delete removes one note. Unknown IDs return ErrNotFound.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(notePrefix + id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting note %s: %w", id, err)
	}
	return nil
}

// Clear removes every note. Settings keys survive.
func (s *Store) Clear() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		prefix := []byte(notePrefix)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing notes: %w", err)
	}
	return nil
}

// SaveManualOverride persists the user's manual-mode choice so it
// survives restarts.
func (s *Store) SaveManualOverride(enabled bool) error {
	if err := s.setMetaBool(metaModeManual, enabled); err != nil {
		return fmt.Errorf("saving mode override: %w", err)
	}
	return nil
}

// LoadManualOverride reads the persisted manual-mode choice. Missing
// key means no override.
func (s *Store) LoadManualOverride() (bool, error) {
	enabled, err := s.getMetaBool(metaModeManual)
	if err != nil {
		return false, fmt.Errorf("loading mode override: %w", err)
	}
	return enabled, nil
}

// SaveLastCapable persists the capability state seen by the most
// recent probe. The capability-loss latch compares against this across
// restarts: each CLI invocation probes once, so without the persisted
// value a ready-to-not-ready transition between runs would go unseen.
func (s *Store) SaveLastCapable(capable bool) error {
	if err := s.setMetaBool(metaLastCapable, capable); err != nil {
		return fmt.Errorf("saving capability state: %w", err)
	}
	return nil
}

// LoadLastCapable reads the persisted capability state. Missing key
// means never seen capable.
func (s *Store) LoadLastCapable() (bool, error) {
	capable, err := s.getMetaBool(metaLastCapable)
	if err != nil {
		return false, fmt.Errorf("loading capability state: %w", err)
	}
	return capable, nil
}

func (s *Store) setMetaBool(key string, value bool) error {
	raw := []byte("0")
	if value {
		raw = []byte("1")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}

func (s *Store) getMetaBool(key string) (bool, error) {
	var value bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = len(val) == 1 && val[0] == '1'
			return nil
		})
	})
	return value, err
}
