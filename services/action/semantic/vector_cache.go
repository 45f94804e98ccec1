// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// vectorPrefix keys persisted vector sets: vectors/v1/<corpus-hash>.
const vectorPrefix = "vectors/v1/"

// vectorTTL bounds how long a persisted vector set may serve before a
// forced re-warm. Stale vectors are merely suboptimal, so the TTL is long.
const vectorTTL = 30 * 24 * time.Hour

// BadgerVectorCache persists warmed action vectors in Badger, keyed by
// corpus hash. Implements VectorCache.
type BadgerVectorCache struct {
	db *badger.DB
}

// NewBadgerVectorCache creates a cache over an open database.
func NewBadgerVectorCache(db *badger.DB) *BadgerVectorCache {
	return &BadgerVectorCache{db: db}
}

// LoadVectors returns the persisted vector set for corpusHash, or an empty
// map on a cache miss.
func (c *BadgerVectorCache) LoadVectors(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	var vectors map[string][]float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(vectorPrefix + corpusHash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &vectors)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading vectors %s: %w", corpusHash[:12], err)
	}
	return vectors, nil
}

// SaveVectors persists one vector set under corpusHash with a TTL.
func (c *BadgerVectorCache) SaveVectors(ctx context.Context, corpusHash string, vectors map[string][]float32) error {
	payload, err := json.Marshal(vectors)
	if err != nil {
		return fmt.Errorf("encoding vectors: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(vectorPrefix+corpusHash), payload).WithTTL(vectorTTL)
		return txn.SetEntry(entry)
	})
}
