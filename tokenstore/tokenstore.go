// Package tokenstore persists the client's bearer token between runs.
//
// Exactly one item is stored: the bearer token string under a fixed key.
// Writing an empty token is the same as clearing it.
package tokenstore

import (
	"errors"
	"sync"
)

// ErrUnreadable is returned by Load when a stored token exists but cannot be
// opened (wrong key or corrupt record). The record is removed before returning.
var ErrUnreadable = errors.New("stored token is unreadable")

// Store is durable storage for a single bearer token.
type Store interface {
	// Load returns the stored token, or "" if none is stored.
	Load() (string, error)
	// Save writes token, replacing any previous value. Saving "" clears.
	Save(token string) error
	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear() error
}

// Memory is a Store that lives only as long as the process.
type Memory struct {
	mu    sync.Mutex
	token string
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process Store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *Memory) Save(token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear() error {
	return m.Save("")
}
