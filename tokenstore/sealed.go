package tokenstore

import (
	"fmt"

	"github.com/prsuperstar/superstar/internal/util"
	"github.com/prsuperstar/superstar/storage"
)

const (
	tokenAAD     = "superstar:token"
	tokenKeyInfo = "superstar:token-sealing-key:v1"
)

// tokenKey is the fixed storage key for the bearer token.
var tokenKey = storage.Key{Namespace: "client", Type: "TOKEN", ID: "token"}

// Sealed stores the token in a storage.Repository, encrypted at rest with
// AES-256-GCM under a key derived from an externally held wrapping key.
type Sealed struct {
	repo storage.Repository
	key  []byte
}

var _ Store = (*Sealed)(nil)

// NewSealed returns a Store backed by repo. wrappingKey must be 32 bytes and
// is never written to the repository.
func NewSealed(repo storage.Repository, wrappingKey []byte) (*Sealed, error) {
	key, err := util.DeriveKey(wrappingKey, tokenKeyInfo)
	if err != nil {
		return nil, err
	}
	return &Sealed{repo: repo, key: key}, nil
}

func (s *Sealed) Load() (string, error) {
	env, err := s.repo.Get(tokenKey)
	if storage.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading stored token: %w", err)
	}
	data, err := storage.OpenRecord(s.key, env, []byte(tokenAAD))
	if err != nil {
		// Wrong wrapping key or corrupt record: drop it so the next run starts clean.
		_ = s.repo.Delete(tokenKey)
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer util.WipeBytes(data)
	return string(data), nil
}

func (s *Sealed) Save(token string) error {
	if token == "" {
		return s.Clear()
	}
	env, err := storage.SealRecord(s.key, []byte(token), []byte(tokenAAD))
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}
	if err := s.repo.Put(tokenKey, env); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

func (s *Sealed) Clear() error {
	err := s.repo.Delete(tokenKey)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}

// Close wipes the derived sealing key.
func (s *Sealed) Close() {
	util.WipeBytes(s.key)
}
