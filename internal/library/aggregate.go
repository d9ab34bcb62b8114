package library

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
	"go.uber.org/zap"
)

// RatingStats is the derived rating triple of a book.
type RatingStats struct {
	AverageRating *float64
	TotalReviews  int
	Distribution  RatingDistribution
}

// computeRatingStats derives the triple from a set of ratings. Ratings outside 1..5 are ignored.
func computeRatingStats(ratings []int) RatingStats {
	distribution := NewRatingDistribution()
	sum := 0
	count := 0
	for _, rating := range ratings {
		if rating < minRating || rating > maxRating {
			continue
		}
		distribution[rating]++
		sum += rating
		count++
	}
	stats := RatingStats{TotalReviews: count, Distribution: distribution}
	if count > 0 {
		average := roundHalfUpTenths(sum, count)
		stats.AverageRating = &average
	}
	return stats
}

// roundHalfUpTenths returns sum/count rounded half up to one decimal, computed in integers
// so that values such as 4.25 round the same way on every platform.
func roundHalfUpTenths(sum, count int) float64 {
	tenths := (20*sum + count) / (2 * count)
	return float64(tenths) / 10
}

// RecomputeResult reports a completed recompute. TopRatedErr carries the outcome of the
// view rebuild the recompute triggers; it never fails the recompute itself.
type RecomputeResult struct {
	Book        Book
	TopRatedErr error
}

// AggregatorConfig describes the dependencies of Aggregator.
type AggregatorConfig struct {
	Books    *store.Collection[Book]
	Reviews  *store.Collection[Review]
	Indexes  *index.Maintainer
	Locks    *store.KeyedMutex
	TopRated *Materializer
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Aggregator keeps each book's rating triple consistent with its reviews.
type Aggregator struct {
	books    *store.Collection[Book]
	reviews  *store.Collection[Review]
	indexes  *index.Maintainer
	locks    *store.KeyedMutex
	topRated *Materializer
	clock    func() time.Time
	logger   *zap.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Books == nil || cfg.Reviews == nil {
		return nil, newServiceError(opServiceNew, "missing_collections", errMissingBackend)
	}
	if cfg.Indexes == nil {
		return nil, newServiceError(opServiceNew, "missing_indexes", errMissingIndexes)
	}
	locks := cfg.Locks
	if locks == nil {
		locks = store.NewKeyedMutex()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Aggregator{
		books:    cfg.Books,
		reviews:  cfg.Reviews,
		indexes:  cfg.Indexes,
		locks:    locks,
		topRated: cfg.TopRated,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Recompute rereads every review of the book, rewrites the book's rating triple, and then
// rebuilds the top-rated view. A failed rebuild is reported in the result, not as an error.
func (a *Aggregator) Recompute(ctx context.Context, bookID string) (RecomputeResult, error) {
	book, err := a.recompute(ctx, bookID)
	if err != nil {
		return RecomputeResult{}, err
	}
	result := RecomputeResult{Book: book}
	if a.topRated != nil {
		if _, rebuildErr := a.topRated.Rebuild(ctx); rebuildErr != nil {
			a.logger.Warn("top-rated rebuild after rating change failed",
				zap.String(fieldBookID, bookID), zap.Error(rebuildErr))
			result.TopRatedErr = rebuildErr
		}
	}
	return result, nil
}

// recompute rewrites the triple without touching the view. The book lock is held for the
// whole read-modify-write so concurrent recomputes and edits of one book serialize.
func (a *Aggregator) recompute(ctx context.Context, bookID string) (Book, error) {
	unlock := a.locks.Lock(bookLockKey(bookID))
	defer unlock()

	book, err := a.books.Get(ctx, bookID)
	if err != nil {
		return Book{}, classifyStoreError(opRecomputeRating, err, reasonReadFailed)
	}

	ratings, err := a.ratingsForBook(ctx, bookID)
	if err != nil {
		return Book{}, err
	}
	stats := computeRatingStats(ratings)
	book.AverageRating = stats.AverageRating
	book.TotalReviews = stats.TotalReviews
	book.RatingDistribution = stats.Distribution
	book.UpdatedAt = a.clock().UTC()

	if err := a.books.Put(ctx, bookID, book); err != nil {
		a.logger.Error("rating aggregate write failed", zap.String(fieldBookID, bookID), zap.Error(err))
		return Book{}, newServiceError(opRecomputeRating, reasonWriteFailed, err)
	}
	return book, nil
}

// ratingsForBook resolves the book's review ids through the index. Ids whose record has
// vanished, or that now point at another book, are skipped.
func (a *Aggregator) ratingsForBook(ctx context.Context, bookID string) ([]int, error) {
	reviewIDs := a.indexes.Read(ctx, index.ReviewsByBook, bookID)
	ratings := make([]int, 0, len(reviewIDs))
	for _, reviewID := range reviewIDs {
		review, err := a.reviews.Get(ctx, reviewID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, newServiceError(opRecomputeRating, reasonReadFailed, ctxErr)
			}
			if !errors.Is(err, errs.ErrNotFound) {
				a.logger.Warn("skipping unreadable review during recompute",
					zap.String(fieldBookID, bookID), zap.String(fieldReviewID, reviewID), zap.Error(err))
			}
			continue
		}
		if review.BookID != bookID {
			continue
		}
		ratings = append(ratings, review.Rating)
	}
	return ratings, nil
}

func bookLockKey(bookID string) string {
	return "book:" + bookID
}

func reviewLockKey(reviewID string) string {
	return "review:" + reviewID
}
