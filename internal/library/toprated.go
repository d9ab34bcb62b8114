package library

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
	"go.uber.org/zap"
)

const (
	// TopRatedCapacity bounds the number of entries in the top-rated view.
	TopRatedCapacity = 50
	topRatedViewID   = "top-rated"
)

// RebuildResult reports one full rebuild of the top-rated view.
type RebuildResult struct {
	Entries      int
	Candidates   int
	SkippedUnits int
}

// MaterializerConfig describes the dependencies of Materializer.
type MaterializerConfig struct {
	Books    *store.Collection[Book]
	Views    *store.Collection[TopRatedView]
	Capacity int
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Materializer rebuilds the top-rated view from a full scan of the books.
type Materializer struct {
	books    *store.Collection[Book]
	views    *store.Collection[TopRatedView]
	capacity int
	clock    func() time.Time
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewMaterializer constructs a Materializer.
func NewMaterializer(cfg MaterializerConfig) (*Materializer, error) {
	if cfg.Books == nil || cfg.Views == nil {
		return nil, newServiceError(opServiceNew, "missing_collections", errMissingBackend)
	}
	capacity := cfg.Capacity
	if capacity <= 0 || capacity > TopRatedCapacity {
		capacity = TopRatedCapacity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Materializer{
		books:    cfg.Books,
		views:    cfg.Views,
		capacity: capacity,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Rebuild scans every book, keeps the rated ones, orders them by average rating descending
// (ties: more reviews first, then id ascending), truncates to capacity, and replaces the view.
// Rebuilds are serialized, so the last one to finish reflects the latest scanned state.
func (m *Materializer) Rebuild(ctx context.Context) (RebuildResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := m.clock()
	candidates := make([]BookSummary, 0)
	stats, err := m.books.All(ctx, func(_ string, book Book) error {
		if book.AverageRating == nil {
			return nil
		}
		candidates = append(candidates, book.Summary())
		return nil
	})
	if err != nil {
		m.logger.Error("top-rated scan failed", zap.Error(err))
		return RebuildResult{SkippedUnits: stats.Skipped}, newServiceError(opRebuildTopRated, reasonScanFailed, err)
	}
	if stats.Skipped > 0 {
		m.logger.Warn("top-rated scan skipped unreadable books", zap.Int("skipped", stats.Skipped))
	}

	ranked := rankSummaries(candidates, m.capacity)
	view := TopRatedView{GeneratedAt: m.clock().UTC(), Books: ranked}
	if err := m.views.Put(ctx, topRatedViewID, view); err != nil {
		m.logger.Error("top-rated view write failed", zap.Error(err))
		return RebuildResult{SkippedUnits: stats.Skipped}, newServiceError(opRebuildTopRated, reasonWriteFailed, err)
	}
	metrics.TopRatedRebuildDuration.Observe(m.clock().Sub(started).Seconds())

	return RebuildResult{
		Entries:      len(ranked),
		Candidates:   len(candidates),
		SkippedUnits: stats.Skipped,
	}, nil
}

// Read returns the current view. A view that was never built reads as empty.
func (m *Materializer) Read(ctx context.Context) (TopRatedView, error) {
	view, err := m.views.Get(ctx, topRatedViewID)
	if errors.Is(err, errs.ErrNotFound) {
		return TopRatedView{Books: []BookSummary{}}, nil
	}
	if err != nil {
		return TopRatedView{}, newServiceError(opGetTopRated, reasonReadFailed, err)
	}
	if view.Books == nil {
		view.Books = []BookSummary{}
	}
	return view, nil
}

func rankSummaries(candidates []BookSummary, capacity int) []BookSummary {
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(left, right BookSummary) int {
		if order := cmp.Compare(right.AverageRating, left.AverageRating); order != 0 {
			return order
		}
		if order := cmp.Compare(right.TotalReviews, left.TotalReviews); order != 0 {
			return order
		}
		return cmp.Compare(left.ID, right.ID)
	})
	if len(ranked) > capacity {
		ranked = ranked[:capacity]
	}
	return ranked
}
