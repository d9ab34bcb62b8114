package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sampleRecord struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func newFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	backend, err := NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)
	return backend
}

func newSQLBackend(t *testing.T) *SQLBackend {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Document{}))
	backend, err := NewSQLBackend(SQLBackendConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)
	return backend
}

func backendsUnderTest(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"filesystem": newFileBackend(t),
		"sqlite":     newSQLBackend(t),
	}
}

func TestCollectionRoundTripAndOverwrite(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			books := NewCollection[sampleRecord](backend, KindBooks)

			require.NoError(t, books.Put(ctx, "b-1", sampleRecord{ID: "b-1", Title: "First", Tags: []string{"x"}}))
			require.NoError(t, books.Put(ctx, "b-1", sampleRecord{ID: "b-1", Title: "Second"}))

			stored, err := books.Get(ctx, "b-1")
			require.NoError(t, err)
			require.Equal(t, "Second", stored.Title)
			require.Empty(t, stored.Tags, "put must be a full overwrite")
		})
	}
}

func TestCollectionMissingRecord(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			books := NewCollection[sampleRecord](backend, KindBooks)

			_, err := books.Get(ctx, "absent")
			require.ErrorIs(t, err, errs.ErrNotFound)

			err = books.Delete(ctx, "absent")
			require.ErrorIs(t, err, errs.ErrNotFound)
		})
	}
}

func TestCollectionDelete(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			books := NewCollection[sampleRecord](backend, KindBooks)
			require.NoError(t, books.Put(ctx, "b-1", sampleRecord{ID: "b-1"}))
			require.NoError(t, books.Delete(ctx, "b-1"))
			_, err := books.Get(ctx, "b-1")
			require.ErrorIs(t, err, errs.ErrNotFound)
		})
	}
}

func TestCollectionAllSkipsCorruptUnits(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			books := NewCollection[sampleRecord](backend, KindBooks)
			require.NoError(t, books.Put(ctx, "a", sampleRecord{ID: "a"}))
			require.NoError(t, backend.Put(ctx, KindBooks, "b", []byte("{not json")))
			require.NoError(t, books.Put(ctx, "c", sampleRecord{ID: "c"}))

			var seen []string
			stats, err := books.All(ctx, func(id string, value sampleRecord) error {
				seen = append(seen, value.ID)
				return nil
			})
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"a", "c"}, seen)
			require.Equal(t, ScanStats{Visited: 2, Skipped: 1}, stats)

			// a second invocation restarts the scan
			again := 0
			_, err = books.All(ctx, func(string, sampleRecord) error {
				again++
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 2, again)
		})
	}
}

func TestCollectionAllStopsEarly(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			books := NewCollection[sampleRecord](backend, KindBooks)
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, books.Put(ctx, id, sampleRecord{ID: id}))
			}
			visited := 0
			_, err := books.All(ctx, func(string, sampleRecord) error {
				visited++
				return ErrStopScan
			})
			require.NoError(t, err)
			require.Equal(t, 1, visited)

			boom := errors.New("boom")
			_, err = books.All(ctx, func(string, sampleRecord) error { return boom })
			require.ErrorIs(t, err, boom)
		})
	}
}

func TestKindsAreIsolated(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, backend.Put(ctx, KindBooks, "shared", []byte(`{"id":"book"}`)))
			require.NoError(t, backend.Put(ctx, IndexKind("reviews-by-book"), "shared", []byte(`{"id":"index"}`)))

			payload, err := backend.Get(ctx, KindBooks, "shared")
			require.NoError(t, err)
			require.JSONEq(t, `{"id":"book"}`, string(payload))

			count := 0
			_, err = backend.Scan(ctx, IndexKind("reviews-by-book"), func(string, []byte) error {
				count++
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 1, count)
		})
	}
}

func TestBackendRejectsEmptyIdentifier(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			err := backend.Put(context.Background(), KindBooks, "", []byte(`{}`))
			require.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestFileBackendEscapesIdentifiers(t *testing.T) {
	backend := newFileBackend(t)
	ctx := context.Background()
	kind := IndexKind("users-by-email")

	require.NoError(t, backend.Put(ctx, kind, "reader@example.com", []byte(`{"v":1}`)))
	require.NoError(t, backend.Put(ctx, kind, "../escape/attempt", []byte(`{"v":2}`)))

	var ids []string
	_, err := backend.Scan(ctx, kind, func(id string, _ []byte) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"reader@example.com", "../escape/attempt"}, ids)

	_, err = os.Stat(filepath.Join(backend.Root(), "escape"))
	require.True(t, os.IsNotExist(err), "identifier must not create directories outside its kind")
}

func TestFileBackendIgnoresTemporaryFiles(t *testing.T) {
	backend := newFileBackend(t)
	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, KindReviews, "r-1", []byte(`{}`)))

	directory := filepath.Join(backend.Root(), "reviews")
	require.NoError(t, os.WriteFile(filepath.Join(directory, ".tmp-123"), []byte("partial"), 0o644))

	stats, err := backend.Scan(ctx, KindReviews, func(string, []byte) error { return nil })
	require.NoError(t, err)
	require.Equal(t, ScanStats{Visited: 1}, stats)

	entries, err := os.ReadDir(directory)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestFileBackendScanOfMissingKindIsEmpty(t *testing.T) {
	backend := newFileBackend(t)
	stats, err := backend.Scan(context.Background(), KindViews, func(string, []byte) error {
		t.Fatalf("visitor must not run")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ScanStats{}, stats)
}

func TestSQLBackendScanAllowsWritesFromVisitor(t *testing.T) {
	backend := newSQLBackend(t)
	ctx := context.Background()
	for i := 0; i < scanPageSize+5; i++ {
		id := fmt.Sprintf("r-%04d", i)
		require.NoError(t, backend.Put(ctx, KindReviews, id, []byte(`{}`)))
	}

	stats, err := backend.Scan(ctx, KindReviews, func(id string, payload []byte) error {
		return backend.Put(ctx, KindBooks, id, payload)
	})
	require.NoError(t, err)
	require.Equal(t, scanPageSize+5, stats.Visited)

	copied := 0
	_, err = backend.Scan(ctx, KindBooks, func(string, []byte) error {
		copied++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, scanPageSize+5, copied)
}
