package library

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
	"go.uber.org/zap"
)

// RecommendationInvalidator drops cached recommendations for a user whose reviews or
// favorites changed, or for everyone once a book leaves the catalog.
type RecommendationInvalidator interface {
	Clear(userID string)
	ClearAll()
}

// ServiceConfig describes the dependencies of Service.
type ServiceConfig struct {
	Backend     store.Backend
	Indexes     *index.Maintainer
	Clock       func() time.Time
	IDProvider  IDProvider
	Logger      *zap.Logger
	Invalidator RecommendationInvalidator
}

// Service implements the book, review, and favorite operations on top of the record
// store and keeps the derived indexes, aggregates, and view in step with them.
type Service struct {
	books       *store.Collection[Book]
	reviews     *store.Collection[Review]
	indexes     *index.Maintainer
	locks       *store.KeyedMutex
	aggregator  *Aggregator
	topRated    *Materializer
	clock       func() time.Time
	idProvider  IDProvider
	logger      *zap.Logger
	invalidator RecommendationInvalidator
}

// NewService wires the aggregator and the top-rated materializer over one backend.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, newServiceError(opServiceNew, "missing_backend", errMissingBackend)
	}
	if cfg.Indexes == nil {
		return nil, newServiceError(opServiceNew, "missing_indexes", errMissingIndexes)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	books := store.NewCollection[Book](cfg.Backend, store.KindBooks)
	reviews := store.NewCollection[Review](cfg.Backend, store.KindReviews)
	views := store.NewCollection[TopRatedView](cfg.Backend, store.KindViews)
	locks := store.NewKeyedMutex()

	topRated, err := NewMaterializer(MaterializerConfig{
		Books:  books,
		Views:  views,
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	aggregator, err := NewAggregator(AggregatorConfig{
		Books:    books,
		Reviews:  reviews,
		Indexes:  cfg.Indexes,
		Locks:    locks,
		TopRated: topRated,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		books:       books,
		reviews:     reviews,
		indexes:     cfg.Indexes,
		locks:       locks,
		aggregator:  aggregator,
		topRated:    topRated,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		invalidator: cfg.Invalidator,
	}, nil
}

// RecomputeRating recomputes the rating triple of one book and rebuilds the top-rated view.
func (s *Service) RecomputeRating(ctx context.Context, bookID string) (RecomputeResult, error) {
	if bookID == "" {
		return RecomputeResult{}, s.invalid(opRecomputeRating, "book id is required")
	}
	result, err := s.aggregator.Recompute(ctx, bookID)
	if err != nil {
		s.logError(opRecomputeRating, "recompute_failed", err, zap.String(fieldBookID, bookID))
		return RecomputeResult{}, err
	}
	return result, nil
}

// RebuildTopRated forces a full rebuild of the top-rated view.
func (s *Service) RebuildTopRated(ctx context.Context) (RebuildResult, error) {
	result, err := s.topRated.Rebuild(ctx)
	if err != nil {
		s.logError(opRebuildTopRated, reasonWriteFailed, err)
		return result, err
	}
	return result, nil
}

// GetTopRated returns the first limit entries of the top-rated view. A non-positive limit
// returns the whole view.
func (s *Service) GetTopRated(ctx context.Context, limit int) ([]BookSummary, error) {
	view, err := s.topRated.Read(ctx)
	if err != nil {
		s.logError(opGetTopRated, reasonReadFailed, err)
		return nil, err
	}
	books := view.Books
	if limit > 0 && len(books) > limit {
		books = books[:limit]
	}
	return books, nil
}

func (s *Service) invalid(operation, message string) error {
	return newServiceError(operation, reasonInvalidInput, fmt.Errorf("%w: %s", errs.ErrValidation, message))
}

func (s *Service) invalidate(userID string) {
	if s.invalidator == nil || userID == "" {
		return
	}
	s.invalidator.Clear(userID)
}

func (s *Service) invalidateAll() {
	if s.invalidator == nil {
		return
	}
	s.invalidator.ClearAll()
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, reasonIDFailed, err)
		return "", newServiceError(operation, reasonIDFailed, err)
	}
	return id, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s == nil || s.logger == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("library service failure", allFields...)
}

// logEffect records a swallowed secondary failure.
func (s *Service) logEffect(operation, effect string, err error, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("effect", effect),
		zap.Error(err),
	}, fields...)
	s.logger.Warn("secondary effect failed", allFields...)
}
