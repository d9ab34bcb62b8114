package recommend

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/library"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/users"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheDepth is how many ranked ids a computation keeps; it also caps the limit.
	DefaultCacheDepth = 20
	defaultLimit      = 10
	// DefaultComputeTimeout bounds a shared computation once it no longer follows any caller.
	DefaultComputeTimeout = time.Minute

	SourcePersonalized = "personalized"
	SourceBasic        = "basic"
	SourceFallback     = "fallback"
)

// Catalog is the read side of the library the recommendations are drawn from.
type Catalog interface {
	GetTopRated(ctx context.Context, limit int) ([]library.BookSummary, error)
	GetBook(ctx context.Context, bookID string) (library.Book, error)
	ListBooks(ctx context.Context, filter library.BookFilter) ([]library.Book, error)
	ListReviewsByUser(ctx context.Context, userID string) ([]library.Review, error)
	ListFavorites(ctx context.Context, userID string) ([]library.Book, error)
}

// Profiles resolves the reader profile sent to the personalizer.
type Profiles interface {
	GetUser(ctx context.Context, userID string) (users.User, error)
}

// Options tune one recommendation request.
type Options struct {
	Limit   int
	Refresh bool
	Genres  []string
}

// Result is a ranked list of books and how it was produced.
type Result struct {
	Books  []library.Book
	Source string
	Cached bool
}

// ServiceConfig describes the dependencies of Service.
type ServiceConfig struct {
	Catalog        Catalog
	Profiles       Profiles
	Personalizer   Personalizer
	Cache          *Cache
	MinRating      float64
	CacheDepth     int
	CatalogSample  int
	ComputeTimeout time.Duration
	Seed           int64
	Logger         *zap.Logger
}

// Service serves per-user recommendations from the cache, computing them on a miss.
type Service struct {
	catalog       Catalog
	profiles      Profiles
	personalizer  Personalizer
	cache         *Cache
	minRating     float64
	depth         int
	catalogSample int
	timeout       time.Duration
	logger        *zap.Logger
	group         singleflight.Group
	rng           *rand.Rand
	rngMu         sync.Mutex
}

// NewService constructs a Service. A nil Personalizer serves the basic path for everyone.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("recommend: catalog required")
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache(CacheConfig{})
	}
	minRating := cfg.MinRating
	if minRating <= 0 {
		minRating = DefaultMinRating
	}
	depth := cfg.CacheDepth
	if depth <= 0 {
		depth = DefaultCacheDepth
	}
	sample := cfg.CatalogSample
	if sample <= 0 {
		sample = DefaultCatalogSample
	}
	timeout := cfg.ComputeTimeout
	if timeout <= 0 {
		timeout = DefaultComputeTimeout
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		catalog:       cfg.Catalog,
		profiles:      cfg.Profiles,
		personalizer:  cfg.Personalizer,
		cache:         cache,
		minRating:     minRating,
		depth:         depth,
		catalogSample: sample,
		timeout:       timeout,
		logger:        logger,
		rng:           rand.New(rand.NewSource(seed)), //nolint:gosec // shuffling only breaks ties
	}, nil
}

// Cache exposes the cache for invalidation by the library and the HTTP layer.
func (s *Service) Cache() *Cache {
	return s.cache
}

// GetRecommendations returns up to opts.Limit books for userID. Anonymous callers always get
// the uncached basic ranking. Signed-in callers are served from the cache while it is fresh
// unless opts.Refresh is set.
func (s *Service) GetRecommendations(ctx context.Context, userID string, opts Options) (Result, error) {
	limit := s.clampLimit(opts.Limit)
	genres := normalizeGenres(opts.Genres)
	userID = strings.TrimSpace(userID)

	if userID == "" {
		ids, err := s.basicIDs(ctx, genres)
		if err != nil {
			return Result{}, err
		}
		metrics.RecommendationSource.WithLabelValues(SourceBasic).Inc()
		return Result{Books: s.resolve(ctx, ids, limit), Source: SourceBasic}, nil
	}

	if opts.Refresh {
		metrics.RecommendationCacheLookups.WithLabelValues("refresh").Inc()
	} else if entry, ok := s.cache.Get(userID); ok {
		return Result{Books: s.resolve(ctx, entry.BookIDs, limit), Source: entry.Source, Cached: true}, nil
	}

	// The computation is shared by every waiting caller, so it runs detached from the caller
	// that started it; each caller stops waiting on its own context.
	results := s.group.DoChan(userID, func() (any, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		reservation := s.cache.Reserve(userID)
		ids, source, computeErr := s.compute(computeCtx, userID, genres)
		if computeErr != nil {
			s.cache.Release(userID, reservation)
			return nil, computeErr
		}
		entry, stored := s.cache.Commit(userID, reservation, ids, source)
		if !stored {
			s.logger.Debug("recommendations invalidated during computation; not cached",
				zap.String("user_id", userID))
		}
		return entry, nil
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case outcome := <-results:
		if outcome.Err != nil {
			return Result{}, outcome.Err
		}
		entry := outcome.Val.(Entry)
		return Result{Books: s.resolve(ctx, entry.BookIDs, limit), Source: entry.Source}, nil
	}
}

// Clear drops the cached recommendations of one user.
func (s *Service) Clear(userID string) {
	s.cache.Clear(userID)
}

func (s *Service) compute(ctx context.Context, userID string, genres []string) ([]string, string, error) {
	if s.personalizer == nil {
		ids, err := s.basicIDs(ctx, genres)
		if err != nil {
			return nil, "", err
		}
		metrics.RecommendationSource.WithLabelValues(SourceBasic).Inc()
		return ids, SourceBasic, nil
	}

	ids, err := s.personalized(ctx, userID)
	if err == nil {
		metrics.RecommendationSource.WithLabelValues(SourcePersonalized).Inc()
		return ids, SourcePersonalized, nil
	}
	s.logger.Warn("personalized recommendations unavailable; using basic ranking",
		zap.String("user_id", userID), zap.Error(err))

	ids, err = s.basicIDs(ctx, genres)
	if err != nil {
		return nil, "", err
	}
	metrics.RecommendationSource.WithLabelValues(SourceFallback).Inc()
	return ids, SourceFallback, nil
}

// basicIDs ranks the top-rated view: rating threshold, genre overlap, shuffle, then the
// rarest-genre-first reordering.
func (s *Service) basicIDs(ctx context.Context, genres []string) ([]string, error) {
	view, err := s.catalog.GetTopRated(ctx, 0)
	if err != nil {
		s.logger.Error("top-rated view unavailable for recommendations", zap.Error(err))
		return nil, fmt.Errorf("recommend: read top-rated view: %w", err)
	}
	candidates := filterCandidates(view, s.minRating, genres)
	s.shuffle(candidates)
	return summaryIDs(diversify(candidates), s.depth), nil
}

func (s *Service) personalized(ctx context.Context, userID string) ([]string, error) {
	request, known, err := s.buildRequest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: build personalization request: %v", errs.ErrExternalService, err)
	}
	ranked, err := s.personalizer.Rank(ctx, request)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, min(len(ranked), s.depth))
	for _, id := range ranked {
		if len(ids) == s.depth {
			break
		}
		if _, ok := known[id]; !ok || slices.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: personalizer returned no catalog ids", errs.ErrExternalService)
	}
	return ids, nil
}

func (s *Service) buildRequest(ctx context.Context, userID string) (PersonalizationRequest, map[string]struct{}, error) {
	profile := Profile{UserID: userID, FavoriteGenres: []string{}}
	if s.profiles != nil {
		user, err := s.profiles.GetUser(ctx, userID)
		if err == nil {
			profile.DisplayName = user.DisplayName
			profile.FavoriteGenres = append(profile.FavoriteGenres, user.FavoriteGenres...)
		} else if !errors.Is(err, errs.ErrNotFound) {
			return PersonalizationRequest{}, nil, err
		}
	}

	books, err := s.catalog.ListBooks(ctx, library.BookFilter{})
	if err != nil {
		return PersonalizationRequest{}, nil, err
	}
	slices.SortStableFunc(books, func(left, right library.Book) int {
		return compareRating(right.AverageRating, left.AverageRating)
	})
	if len(books) > s.catalogSample {
		books = books[:s.catalogSample]
	}
	titles := make(map[string]library.Book, len(books))
	catalog := make([]CatalogItem, 0, len(books))
	known := make(map[string]struct{}, len(books))
	for _, book := range books {
		catalog = append(catalog, catalogItem(book))
		known[book.ID] = struct{}{}
		titles[book.ID] = book
	}

	reviews, err := s.catalog.ListReviewsByUser(ctx, userID)
	if err != nil {
		return PersonalizationRequest{}, nil, err
	}
	history := make([]ReviewedBook, 0, len(reviews))
	for _, review := range reviews {
		entry := ReviewedBook{BookID: review.BookID, Rating: review.Rating}
		book, ok := titles[review.BookID]
		if !ok {
			book, err = s.catalog.GetBook(ctx, review.BookID)
			ok = err == nil
		}
		if ok {
			entry.Title = book.Title
			entry.Genres = book.Genres
		}
		history = append(history, entry)
	}

	favorites, err := s.catalog.ListFavorites(ctx, userID)
	if err != nil {
		return PersonalizationRequest{}, nil, err
	}
	favoriteItems := make([]CatalogItem, 0, len(favorites))
	for _, book := range favorites {
		favoriteItems = append(favoriteItems, catalogItem(book))
	}

	return PersonalizationRequest{
		Profile:   profile,
		Reviews:   history,
		Favorites: favoriteItems,
		Catalog:   catalog,
		Limit:     s.depth,
	}, known, nil
}

// resolve loads the ranked ids, skipping books that were deleted since the ranking was made.
func (s *Service) resolve(ctx context.Context, ids []string, limit int) []library.Book {
	books := make([]library.Book, 0, min(len(ids), limit))
	for _, id := range ids {
		if len(books) == limit {
			break
		}
		book, err := s.catalog.GetBook(ctx, id)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				s.logger.Warn("skipping unreadable recommended book", zap.String("book_id", id), zap.Error(err))
			}
			continue
		}
		books = append(books, book)
	}
	return books
}

func (s *Service) shuffle(books []library.BookSummary) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(books), func(i, j int) {
		books[i], books[j] = books[j], books[i]
	})
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		limit = defaultLimit
	}
	return min(limit, s.depth)
}

func catalogItem(book library.Book) CatalogItem {
	return CatalogItem{
		ID:            book.ID,
		Title:         book.Title,
		Author:        book.Author,
		Genres:        book.Genres,
		AverageRating: book.AverageRating,
	}
}

// compareRating orders nil ratings below every rated value.
func compareRating(left, right *float64) int {
	switch {
	case left == nil && right == nil:
		return 0
	case left == nil:
		return -1
	case right == nil:
		return 1
	default:
		return cmp.Compare(*left, *right)
	}
}

func normalizeGenres(genres []string) []string {
	normalized := make([]string, 0, len(genres))
	for _, genre := range genres {
		trimmed := strings.TrimSpace(genre)
		if trimmed != "" && !slices.Contains(normalized, trimmed) {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
