// Package bbolt keeps storage records in a single BBolt file.
package bbolt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/prsuperstar/superstar/storage"
)

// Store implements storage.Repository on a BBolt database. Each namespace
// is a top-level bucket holding JSON envelopes under "type:id".
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository wraps an open database. Close closes it.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens (or creates) the database at path with mode 0600.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the database and releases its file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func bucketKey(k storage.Key) []byte {
	return []byte(k.Type + ":" + k.ID)
}

func (s *Store) Put(key storage.Key, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(key.Namespace))
		if err != nil {
			return err
		}
		return b.Put(bucketKey(key), data)
	})
}

func (s *Store) Get(key storage.Key) (*storage.Envelope, error) {
	var envelope storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(key.Namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", key.Namespace, storage.ErrNamespaceNotFound)
		}
		data := b.Get(bucketKey(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (s *Store) Delete(key storage.Key) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(key.Namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", key.Namespace, storage.ErrNamespaceNotFound)
		}
		if b.Get(bucketKey(key)) == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return b.Delete(bucketKey(key))
	})
}
