// Package store persists per-instance records. Each record pairs an identity
// snapshot (the template at creation time) with the mutable state blob, keyed
// by handle. Writes are whole-record replacements: partial patches would let
// fields computed at different points of a cycle drift apart.
package store

import (
	"errors"
	"fmt"

	"github.com/detextit/apiary/internal/config"
	"github.com/detextit/apiary/internal/instance"
)

// Record is the durable unit for one handle.
type Record struct {
	Identity instance.Template `json:"identity"`
	State    instance.State    `json:"state"`
}

// Store maps handles to durable records.
//
// Implementations replace the whole record on Put; they never merge.
type Store interface {
	// Get returns the record for handle. ok is false when none exists.
	Get(handle string) (rec Record, ok bool, err error)
	// Put replaces the record for handle.
	Put(handle string, rec Record) error
	// List returns all known handles in lexical order.
	List() ([]string, error)
	Close() error
}

// Open initializes the configured backend.
func Open(cfg config.Storage) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return openFile(cfg.Dir)
	case "sqlite":
		return openSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// errBadHandle guards backends against path-shaped handles; the config loader
// validates earlier, so hitting this means a caller bug.
var errBadHandle = errors.New("store: invalid handle")

func checkHandle(handle string) error {
	if err := instance.ValidateHandle(handle); err != nil {
		return fmt.Errorf("%w: %v", errBadHandle, err)
	}
	return nil
}
