// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

// BoltBackend stores records in one bbolt bucket.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (creating if needed) the bolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening bolt database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, errCreate := tx.CreateBucketIfNotExists(recordsBucket)
		return errCreate
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating records bucket")
	}

	return &BoltBackend{db: db}, nil
}

// Get implements Backend.
func (b *BoltBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bolt memory is only valid inside the transaction
		value = append([]byte(nil), v...)
		return nil
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading record")
	}
	return value, nil
}

// Put implements Backend.
func (b *BoltBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put([]byte(key), value)
	})
	return errors.Wrap(err, "writing record")
}

// Delete implements Backend.
func (b *BoltBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete([]byte(key))
	})
	return errors.Wrap(err, "deleting record")
}

// Keys implements Backend. Bolt iterates in byte order.
func (b *BoltBackend) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing keys")
	}
	return keys, nil
}

// Close closes the bolt file.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
