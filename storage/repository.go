// Package storage provides the record store behind the client's durable state.
//
// A record is an Envelope addressed by a Key. Callers decide whether the
// envelope payload is sealed.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when a namespace has never been written.
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// Key addresses one record.
type Key struct {
	Namespace string
	Type      string
	ID        string
}

func (k Key) String() string {
	return k.Namespace + "/" + k.Type + ":" + k.ID
}

// Repository stores envelopes by key.
type Repository interface {
	Put(key Key, envelope *Envelope) error
	Get(key Key) (*Envelope, error)
	Delete(key Key) error
}

// IsNotFound reports whether err means the record or its namespace is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNamespaceNotFound)
}
