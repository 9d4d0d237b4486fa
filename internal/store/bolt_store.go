package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/boltdb/bolt"
)

var snapshotBucket = []byte("snapshots")

// BoltStore is a KVStore backed by a single boltdb/bolt database file,
// grounded on the teacher's go.mod dependency on github.com/boltdb/bolt
// (carried there transitively via libp2p's datastore but never directly
// imported by the teacher) — bound here as the entity replication layer's
// concrete snapshot store, the SPEC_FULL.md home this dependency lacked in
// the teacher tree.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bolt database at path and
// ensures the snapshot bucket exists.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(snapshotBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Put(ctx context.Context, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(key, value)
	})
}

func (s *BoltStore) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(snapshotBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
