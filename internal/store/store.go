package store

import "time"

// Store abstracts durable key-value persistence for device identity records
// and device tokens.
type Store interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Delete(key string) error
	// List returns entries whose key starts with prefix, newest first.
	List(prefix string) ([]Entry, error)

	Close() error
}

type Entry struct {
	Key       string
	UpdatedAt time.Time
}
