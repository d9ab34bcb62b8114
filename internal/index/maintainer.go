// Package index maintains derived key→value(s) lookups stored one unit per key.
//
// List-valued indexes are read-modify-write over one key's whole list, serialized per key,
// so concurrent additions to the same key are never lost. Single-valued indexes map a key
// to exactly one value.
package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
	"go.uber.org/zap"
)

// Name identifies one index.
type Name string

const (
	// ReviewsByBook maps a book id to the ids of its reviews.
	ReviewsByBook Name = "reviews-by-book"
	// ReviewsByUser maps a user id to the ids of the reviews they authored.
	ReviewsByUser Name = "reviews-by-user"
	// FavoritesByUser maps a user id to favorite book ids.
	FavoritesByUser Name = "favorites-by-user"
	// UsersByEmail maps a normalized email to a user id.
	UsersByEmail Name = "users-by-email"
)

// String returns the index name as a plain string.
func (n Name) String() string {
	return string(n)
}

func (n Name) kind() store.Kind {
	return store.IndexKind(n.String())
}

type listDocument struct {
	Key       string    `json:"key"`
	Values    []string  `json:"values"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type mappingDocument struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MaintainerConfig describes the dependencies of Maintainer.
type MaintainerConfig struct {
	Backend store.Backend
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Maintainer reads and mutates named indexes.
type Maintainer struct {
	backend store.Backend
	locks   *store.KeyedMutex
	clock   func() time.Time
	logger  *zap.Logger
}

// NewMaintainer constructs a Maintainer over the provided backend.
func NewMaintainer(cfg MaintainerConfig) (*Maintainer, error) {
	if cfg.Backend == nil {
		return nil, errors.New("index: backend is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Maintainer{
		backend: cfg.Backend,
		locks:   store.NewKeyedMutex(),
		clock:   clock,
		logger:  logger,
	}, nil
}

// Add inserts value into the list stored under key unless it is already present and
// returns the resulting list.
func (m *Maintainer) Add(ctx context.Context, name Name, key, value string) ([]string, error) {
	if err := validateEntry(name, key, value); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(lockKey(name, key))
	defer unlock()

	values := m.readList(ctx, name, key)
	if slices.Contains(values, value) {
		return values, nil
	}
	values = append(values, value)
	if err := m.writeList(ctx, name, key, values); err != nil {
		return nil, err
	}
	return values, nil
}

// Remove filters value out of the list stored under key and returns the resulting list.
// Removing an absent value is a no-op.
func (m *Maintainer) Remove(ctx context.Context, name Name, key, value string) ([]string, error) {
	if err := validateEntry(name, key, value); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(lockKey(name, key))
	defer unlock()

	values := m.readList(ctx, name, key)
	if !slices.Contains(values, value) {
		return values, nil
	}
	remaining := slices.DeleteFunc(values, func(existing string) bool { return existing == value })
	if len(remaining) == 0 {
		if err := m.deleteUnit(ctx, name, key); err != nil {
			return nil, err
		}
		return []string{}, nil
	}
	if err := m.writeList(ctx, name, key, remaining); err != nil {
		return nil, err
	}
	return remaining, nil
}

// Read returns the list stored under key. Missing, unreadable, or corrupt units read as empty.
func (m *Maintainer) Read(ctx context.Context, name Name, key string) []string {
	return m.readList(ctx, name, key)
}

// Replace rewrites the whole list stored under key. Concurrent replaces are last-writer-wins.
// An empty list removes the unit.
func (m *Maintainer) Replace(ctx context.Context, name Name, key string, values []string) error {
	if err := validateEntry(name, key, "-"); err != nil {
		return err
	}
	unlock := m.locks.Lock(lockKey(name, key))
	defer unlock()

	deduplicated := make([]string, 0, len(values))
	for _, value := range values {
		if value != "" && !slices.Contains(deduplicated, value) {
			deduplicated = append(deduplicated, value)
		}
	}
	if len(deduplicated) == 0 {
		return m.deleteUnit(ctx, name, key)
	}
	return m.writeList(ctx, name, key, deduplicated)
}

// Drop removes every entry stored under key.
func (m *Maintainer) Drop(ctx context.Context, name Name, key string) error {
	if err := validateEntry(name, key, "-"); err != nil {
		return err
	}
	unlock := m.locks.Lock(lockKey(name, key))
	defer unlock()
	return m.deleteUnit(ctx, name, key)
}

// Keys lists every key currently stored in the index.
func (m *Maintainer) Keys(ctx context.Context, name Name) ([]string, store.ScanStats, error) {
	keys := make([]string, 0)
	stats, err := m.backend.Scan(ctx, name.kind(), func(id string, _ []byte) error {
		keys = append(keys, id)
		return nil
	})
	return keys, stats, err
}

// SetMapping stores value under key in a single-valued index, replacing any previous value.
func (m *Maintainer) SetMapping(ctx context.Context, name Name, key, value string) error {
	if err := validateEntry(name, key, value); err != nil {
		return err
	}
	unlock := m.locks.Lock(lockKey(name, key))
	defer unlock()
	return m.writeMapping(ctx, name, key, value)
}

// ClaimMapping stores value under key only when the key is unmapped. It reports the value
// that ends up mapped and whether this call set it.
func (m *Maintainer) ClaimMapping(ctx context.Context, name Name, key, value string) (string, bool, error) {
	if err := validateEntry(name, key, value); err != nil {
		return "", false, err
	}
	unlock := m.locks.Lock(lockKey(name, key))
	defer unlock()

	if existing, ok := m.readMapping(ctx, name, key); ok {
		return existing, existing == value, nil
	}
	if err := m.writeMapping(ctx, name, key, value); err != nil {
		return "", false, err
	}
	return value, true, nil
}

// GetMapping returns the value stored under key, if any.
func (m *Maintainer) GetMapping(ctx context.Context, name Name, key string) (string, bool) {
	return m.readMapping(ctx, name, key)
}

func (m *Maintainer) readList(ctx context.Context, name Name, key string) []string {
	payload, err := m.backend.Get(ctx, name.kind(), key)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			m.degraded(name, key, err)
		}
		return []string{}
	}
	var document listDocument
	if err := decode(payload, &document); err != nil {
		m.degraded(name, key, err)
		return []string{}
	}
	if document.Values == nil {
		return []string{}
	}
	return document.Values
}

func (m *Maintainer) writeList(ctx context.Context, name Name, key string, values []string) error {
	payload, err := encode(listDocument{Key: key, Values: values, UpdatedAt: m.clock().UTC()})
	if err != nil {
		return fmt.Errorf("%w: encode index %s/%s: %v", errs.ErrStorage, name, key, err)
	}
	return m.backend.Put(ctx, name.kind(), key, payload)
}

func (m *Maintainer) readMapping(ctx context.Context, name Name, key string) (string, bool) {
	payload, err := m.backend.Get(ctx, name.kind(), key)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			m.degraded(name, key, err)
		}
		return "", false
	}
	var document mappingDocument
	if err := decode(payload, &document); err != nil || document.Value == "" {
		m.degraded(name, key, err)
		return "", false
	}
	return document.Value, true
}

func (m *Maintainer) writeMapping(ctx context.Context, name Name, key, value string) error {
	payload, err := encode(mappingDocument{Key: key, Value: value, UpdatedAt: m.clock().UTC()})
	if err != nil {
		return fmt.Errorf("%w: encode mapping %s/%s: %v", errs.ErrStorage, name, key, err)
	}
	return m.backend.Put(ctx, name.kind(), key, payload)
}

func (m *Maintainer) deleteUnit(ctx context.Context, name Name, key string) error {
	err := m.backend.Delete(ctx, name.kind(), key)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return nil
}

func (m *Maintainer) degraded(name Name, key string, err error) {
	metrics.IndexDegradedReads.WithLabelValues(name.String()).Inc()
	m.logger.Warn("index unit unreadable; treating as empty",
		zap.String("index", name.String()),
		zap.String("key", key),
		zap.Error(err))
}

func validateEntry(name Name, key, value string) error {
	if name == "" {
		return fmt.Errorf("%w: index name required", errs.ErrValidation)
	}
	if key == "" {
		return fmt.Errorf("%w: index %s: key required", errs.ErrValidation, name)
	}
	if value == "" {
		return fmt.Errorf("%w: index %s: value required", errs.ErrValidation, name)
	}
	return nil
}

func lockKey(name Name, key string) string {
	return name.String() + "\x00" + key
}
