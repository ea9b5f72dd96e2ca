// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

// Key layout. All numbers are fixed-width hex so keys sort numerically.
//
//	s/{edition}/{kind}/{parent}/a/{from}  JSON successor list
//	s/{edition}/{kind}/{parent}/r/{id}    record payload
//	meta/ids                              id sequence
const (
	adjacencyTag = 'a'
	recordTag    = 'r'
)

var idSequenceKey = []byte("meta/ids")

func scopePrefix(key storage.ScopeKey) []byte {
	return []byte(fmt.Sprintf("s/%016x/%02x/%016x/", key.Edition, uint8(key.Kind), key.Parent))
}

func itemKey(key storage.ScopeKey, tag byte, id graph.NodeID) []byte {
	return append(scopePrefix(key), []byte(fmt.Sprintf("%c/%016x", tag, uint64(id)))...)
}

// parseItem splits the suffix after a scope prefix into tag and id.
func parseItem(suffix []byte) (byte, graph.NodeID, error) {
	if len(suffix) != 18 || suffix[1] != '/' {
		return 0, 0, fmt.Errorf("malformed key suffix %q", suffix)
	}
	id, err := strconv.ParseUint(string(suffix[2:]), 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed key id %q: %w", suffix, err)
	}
	return suffix[0], graph.NodeID(id), nil
}

// Store implements storage.Store on BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db  *badger.DB
	gc  *gcRunner
	seq *badger.Sequence

	closeOnce sync.Once
	closeErr  error
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	lease := cfg.IDLease
	if lease == 0 {
		lease = 128
	}
	seq, err := db.GetSequence(idSequenceKey, lease)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open id sequence: %w", err)
	}

	s := &Store{db: db, seq: seq}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Backend implements storage.Store.
func (s *Store) Backend() string {
	return "badger"
}

// LoadScope implements storage.Store.
func (s *Store) LoadScope(ctx context.Context, key storage.ScopeKey) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db.IsClosed() {
		return nil, storage.ErrClosed
	}

	snap := storage.NewSnapshot(key)
	prefix := scopePrefix(key)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			tag, id, err := parseItem(item.Key()[len(prefix):])
			if err != nil {
				return graph.Corrupt("load", err.Error())
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			switch tag {
			case adjacencyTag:
				var succ []graph.NodeID
				if err := json.Unmarshal(val, &succ); err != nil {
					return graph.Corrupt("load", fmt.Sprintf("adjacency row %d: %v", id, err), id)
				}
				snap.Adjacency[id] = succ
			case recordTag:
				snap.Records[id] = val
			default:
				return graph.Corrupt("load", fmt.Sprintf("unknown key tag %q", tag), id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(fmt.Errorf("load scope %s: %w", key, err))
	}
	return snap, nil
}

// NextID implements storage.Store.
func (s *Store) NextID(ctx context.Context) (graph.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.db.IsClosed() {
		return 0, storage.ErrClosed
	}
	n, err := s.seq.Next()
	if err != nil {
		return 0, classify(fmt.Errorf("next id: %w", err))
	}
	// The sequence starts at zero, which is never a valid id.
	return graph.NodeID(n + 1), nil
}

// Commit implements storage.Store.
func (s *Store) Commit(ctx context.Context, cs *storage.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return storage.ErrClosed
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	for _, key := range cs.Drop {
		if err := dropScope(txn, key); err != nil {
			return classify(err)
		}
	}
	for i := range cs.Changes {
		if err := applyChange(txn, &cs.Changes[i]); err != nil {
			return classify(err)
		}
	}
	if err := txn.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func applyChange(txn *badger.Txn, c *storage.ScopeChange) error {
	for id, succ := range c.PutAdjacency {
		k := itemKey(c.Scope, adjacencyTag, id)
		if len(succ) == 0 {
			if err := txn.Delete(k); err != nil {
				return err
			}
			continue
		}
		val, err := json.Marshal(succ)
		if err != nil {
			return fmt.Errorf("encode adjacency %d: %w", id, err)
		}
		if err := txn.Set(k, val); err != nil {
			return err
		}
	}
	for id, body := range c.PutRecords {
		if err := txn.Set(itemKey(c.Scope, recordTag, id), body); err != nil {
			return err
		}
	}
	for _, id := range c.DeleteRecords {
		if err := txn.Delete(itemKey(c.Scope, recordTag, id)); err != nil {
			return err
		}
		if err := txn.Delete(itemKey(c.Scope, adjacencyTag, id)); err != nil {
			return err
		}
	}
	return nil
}

func dropScope(txn *badger.Txn, key storage.ScopeKey) error {
	prefix := scopePrefix(key)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	var keys [][]byte
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return storage.ErrClosed
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// Close releases the id lease, stops GC and closes the database. Safe to
// call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		seqErr := s.seq.Release()
		s.closeErr = errors.Join(seqErr, s.db.Close())
	})
	return s.closeErr
}

// classify wraps conflicts so the resilient wrapper retries them.
func classify(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %w", storage.ErrRetryable, err)
	}
	return err
}
