// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/emsgrid/emsgrid/internal/logging"
)

const revokedKeyPrefix = "revoked:"

// RevocationStore records revoked token IDs in BadgerDB. Entries carry a
// TTL equal to the token's remaining lifetime, so the store cleans itself
// and never grows past the set of live-but-revoked tokens.
type RevocationStore struct {
	db *badger.DB
}

// OpenRevocationStore opens the badger database at path. An empty path
// opens an in-memory store; tokens then survive revocation only until
// the process restarts, acceptable for single-node evaluation setups.
func OpenRevocationStore(path string) (*RevocationStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("auth: open revocation store: %w", err)
	}
	return &RevocationStore{db: db}, nil
}

// Revoke marks a token ID revoked for ttl.
func (s *RevocationStore) Revoke(jti string, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(revokedKeyPrefix+jti), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	logging.Debug().Str("jti", jti).Dur("ttl", ttl).Msg("token revoked")
	return nil
}

// IsRevoked reports whether a token ID has been revoked.
func (s *RevocationStore) IsRevoked(jti string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(revokedKeyPrefix + jti))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: check revocation: %w", err)
	}
	return true, nil
}

// Close releases the badger database.
func (s *RevocationStore) Close() error {
	return s.db.Close()
}
