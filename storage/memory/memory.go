// Package memory keeps storage records in process memory.
package memory

import (
	"sync"

	"github.com/prsuperstar/superstar/storage"
)

// Repository is a storage.Repository that forgets everything when the
// process exits. It is safe for concurrent use.
type Repository struct {
	mu      sync.RWMutex
	records map[storage.Key]storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{records: make(map[storage.Key]storage.Envelope)}
}

// copyEnvelope detaches env from the caller's slices.
func copyEnvelope(env storage.Envelope) storage.Envelope {
	env.Nonce = append([]byte(nil), env.Nonce...)
	env.Ciphertext = append([]byte(nil), env.Ciphertext...)
	return env
}

func (r *Repository) hasNamespaceLocked(ns string) bool {
	for k := range r.records {
		if k.Namespace == ns {
			return true
		}
	}
	return false
}

func (r *Repository) Put(key storage.Key, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[key] = copyEnvelope(*envelope)
	return nil
}

func (r *Repository) Get(key storage.Key) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.records[key]
	if !ok {
		if !r.hasNamespaceLocked(key.Namespace) {
			return nil, storage.ErrNamespaceNotFound
		}
		return nil, storage.ErrNotFound
	}
	out := copyEnvelope(env)
	return &out, nil
}

func (r *Repository) Delete(key storage.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[key]; !ok {
		if !r.hasNamespaceLocked(key.Namespace) {
			return storage.ErrNamespaceNotFound
		}
		return storage.ErrNotFound
	}
	delete(r.records, key)
	return nil
}
