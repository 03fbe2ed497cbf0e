// Package store persists session snapshots, one record per session id.
package store

import (
	"fmt"

	"github.com/martinemde/aethel/agentloop"
)

// Kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// Store is an agentloop.Persister that owns resources.
type Store interface {
	agentloop.Persister
	Close() error
}

// Open returns the store of the given kind rooted at path: a directory for
// "file", a database file for "sqlite".
func Open(kind, path string) (Store, error) {
	switch kind {
	case KindFile, "":
		return NewFileStore(path)
	case KindSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
