package store

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/metrics"
)

// Collection is a typed view over one kind of a Backend.
type Collection[T any] struct {
	backend Backend
	kind    Kind
}

// NewCollection binds a record type to a kind.
func NewCollection[T any](backend Backend, kind Kind) *Collection[T] {
	return &Collection[T]{backend: backend, kind: kind}
}

// Kind returns the kind this collection reads and writes.
func (c *Collection[T]) Kind() Kind {
	return c.kind
}

// Get loads and decodes one record. A unit that exists but cannot be decoded is reported
// as a storage failure.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var value T
	payload, err := c.backend.Get(ctx, c.kind, id)
	if err != nil {
		return value, err
	}
	if err := decodeDocument(payload, &value); err != nil {
		return value, fmt.Errorf("%w: decode %s/%s: %v", errs.ErrStorage, c.kind, id, err)
	}
	return value, nil
}

// Put encodes and fully overwrites one record.
func (c *Collection[T]) Put(ctx context.Context, id string, value T) error {
	payload, err := encodeDocument(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", errs.ErrStorage, c.kind, id, err)
	}
	return c.backend.Put(ctx, c.kind, id, payload)
}

// Delete removes one record.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.backend.Delete(ctx, c.kind, id)
}

// All visits every decodable record of the kind. Units that cannot be read or decoded are
// skipped and counted in the returned stats. Each call starts a fresh scan.
func (c *Collection[T]) All(ctx context.Context, visit func(id string, value T) error) (ScanStats, error) {
	decodeFailures := 0
	backendStats, err := c.backend.Scan(ctx, c.kind, func(id string, payload []byte) error {
		var value T
		if decodeErr := decodeDocument(payload, &value); decodeErr != nil {
			decodeFailures++
			return nil
		}
		return visit(id, value)
	})
	stats := ScanStats{
		Visited: backendStats.Visited - decodeFailures,
		Skipped: backendStats.Skipped + decodeFailures,
	}
	if stats.Skipped > 0 {
		metrics.StoreSkippedUnits.WithLabelValues(c.kind.String()).Add(float64(stats.Skipped))
	}
	return stats, err
}
