// Package store persists records as self-contained JSON documents keyed by kind and identifier.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
)

// Kind names a record family. Identifiers are unique within a kind.
type Kind string

const (
	// KindBooks holds Book records.
	KindBooks Kind = "books"
	// KindReviews holds Review records.
	KindReviews Kind = "reviews"
	// KindUsers holds user profiles.
	KindUsers Kind = "users"
	// KindViews holds materialized views.
	KindViews Kind = "views"

	indexKindPrefix = "indexes/"
)

// IndexKind returns the kind under which one named index stores its per-key documents.
func IndexKind(indexName string) Kind {
	return Kind(indexKindPrefix + indexName)
}

// String returns the kind as a plain string.
func (k Kind) String() string {
	return string(k)
}

// ErrStopScan may be returned by a scan visitor to end the scan early without error.
var ErrStopScan = errors.New("store: stop scan")

// ScanStats reports how many units a scan delivered and how many it skipped as unreadable.
type ScanStats struct {
	Visited int
	Skipped int
}

// Backend is the durable medium behind every collection.
//
// Put is a full overwrite and must never leave a partially written unit observable.
// Scan visits units lazily, one at a time, and skips units it cannot read.
type Backend interface {
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	Put(ctx context.Context, kind Kind, id string, payload []byte) error
	Delete(ctx context.Context, kind Kind, id string) error
	Scan(ctx context.Context, kind Kind, visit func(id string, payload []byte) error) (ScanStats, error)
}

func notFoundError(kind Kind, id string) error {
	return fmt.Errorf("%w: %s/%s", errs.ErrNotFound, kind, id)
}

func storageError(operation string, kind Kind, id string, cause error) error {
	return fmt.Errorf("%w: %s %s/%s: %v", errs.ErrStorage, operation, kind, id, cause)
}

func validateAddress(kind Kind, id string) error {
	if kind == "" {
		return fmt.Errorf("%w: empty record kind", errs.ErrValidation)
	}
	if id == "" {
		return fmt.Errorf("%w: empty record id in %s", errs.ErrValidation, kind)
	}
	return nil
}
