package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
)

type sequentialIDs struct {
	counter atomic.Int64
}

func (p *sequentialIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%05d", p.counter.Add(1)), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Unix(1700000000, 0).UTC()}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type recordingInvalidator struct {
	mu         sync.Mutex
	cleared    []string
	clearedAll int
}

func (r *recordingInvalidator) Clear(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, userID)
}

func (r *recordingInvalidator) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearedAll++
}

func (r *recordingInvalidator) ClearedAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clearedAll
}

func (r *recordingInvalidator) Cleared() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cleared...)
}

// failingBackend injects write failures for selected kinds.
type failingBackend struct {
	store.Backend
	failPut map[store.Kind]bool
}

func (b *failingBackend) Put(ctx context.Context, kind store.Kind, id string, payload []byte) error {
	if b.failPut[kind] {
		return fmt.Errorf("%w: injected put failure for %s", errs.ErrStorage, kind)
	}
	return b.Backend.Put(ctx, kind, id, payload)
}

type testEnv struct {
	service     *Service
	backend     store.Backend
	indexes     *index.Maintainer
	invalidator *recordingInvalidator
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected backend error: %v", err)
	}
	return newTestEnvWithBackend(t, backend)
}

func newTestEnvWithBackend(t *testing.T, backend store.Backend) testEnv {
	t.Helper()
	clock := newSteppingClock()
	indexes, err := index.NewMaintainer(index.MaintainerConfig{Backend: backend, Clock: clock.Now})
	if err != nil {
		t.Fatalf("unexpected maintainer error: %v", err)
	}
	invalidator := &recordingInvalidator{}
	service, err := NewService(ServiceConfig{
		Backend:     backend,
		Indexes:     indexes,
		Clock:       clock.Now,
		IDProvider:  &sequentialIDs{},
		Invalidator: invalidator,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return testEnv{service: service, backend: backend, indexes: indexes, invalidator: invalidator}
}

func mustCreateBook(t *testing.T, service *Service, title string, genres ...string) Book {
	t.Helper()
	book, err := service.CreateBook(context.Background(), BookInput{
		Title:  title,
		Author: "Author of " + title,
		Genres: genres,
	})
	if err != nil {
		t.Fatalf("unexpected create book error: %v", err)
	}
	return book
}

func mustCreateReview(t *testing.T, service *Service, userID, bookID string, rating int) Review {
	t.Helper()
	result, err := service.CreateReview(context.Background(), ReviewInput{
		UserID: userID,
		BookID: bookID,
		Rating: rating,
		Text:   fmt.Sprintf("%d stars from %s", rating, userID),
	})
	if err != nil {
		t.Fatalf("unexpected create review error: %v", err)
	}
	if result.Effects.Failed() {
		t.Fatalf("unexpected secondary failures: %v", result.Effects.Err())
	}
	return result.Review
}

func mustGetBook(t *testing.T, service *Service, bookID string) Book {
	t.Helper()
	book, err := service.GetBook(context.Background(), bookID)
	if err != nil {
		t.Fatalf("unexpected get book error: %v", err)
	}
	return book
}

func assertRatingTriple(t *testing.T, book Book, average *float64, total int, distribution map[int]int) {
	t.Helper()
	switch {
	case average == nil && book.AverageRating != nil:
		t.Fatalf("expected null average, got %v", *book.AverageRating)
	case average != nil && book.AverageRating == nil:
		t.Fatalf("expected average %v, got null", *average)
	case average != nil && *average != *book.AverageRating:
		t.Fatalf("expected average %v, got %v", *average, *book.AverageRating)
	}
	if book.TotalReviews != total {
		t.Fatalf("expected %d total reviews, got %d", total, book.TotalReviews)
	}
	for star := 1; star <= 5; star++ {
		if book.RatingDistribution[star] != distribution[star] {
			t.Fatalf("expected %d reviews at %d stars, got %d (%v)", distribution[star], star, book.RatingDistribution[star], book.RatingDistribution)
		}
	}
	if book.RatingDistribution.Total() != book.TotalReviews {
		t.Fatalf("distribution total %d does not match total reviews %d", book.RatingDistribution.Total(), book.TotalReviews)
	}
}

func ratingPtr(value float64) *float64 {
	return &value
}

func assertErrorIs(t *testing.T, err error, target error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error matching %v, got nil", target)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected error matching %v, got %v", target, err)
	}
}
