package library

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/validation"
	"go.uber.org/zap"
)

// CreateBook validates input and persists a new unrated book.
func (s *Service) CreateBook(ctx context.Context, input BookInput) (Book, error) {
	input = normalizeBookInput(input)
	if err := validation.Struct(input); err != nil {
		return Book{}, newServiceError(opCreateBook, reasonInvalidInput, err)
	}
	bookID, err := s.newID(opCreateBook)
	if err != nil {
		return Book{}, err
	}
	now := s.clock().UTC()
	book := Book{
		ID:                 bookID,
		Title:              input.Title,
		Author:             input.Author,
		Description:        input.Description,
		CoverImage:         input.CoverImage,
		Genres:             input.Genres,
		PublishedYear:      input.PublishedYear,
		TotalReviews:       0,
		RatingDistribution: NewRatingDistribution(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.books.Put(ctx, bookID, book); err != nil {
		s.logError(opCreateBook, reasonWriteFailed, err, zap.String(fieldBookID, bookID))
		return Book{}, newServiceError(opCreateBook, reasonWriteFailed, err)
	}
	return book, nil
}

// GetBook loads one book.
func (s *Service) GetBook(ctx context.Context, bookID string) (Book, error) {
	if bookID == "" {
		return Book{}, s.invalid(opGetBook, "book id is required")
	}
	book, err := s.books.Get(ctx, bookID)
	if err != nil {
		return Book{}, classifyStoreError(opGetBook, err, reasonReadFailed)
	}
	return book, nil
}

// UpdateBook replaces the editable fields of a book. The rating triple is left untouched.
func (s *Service) UpdateBook(ctx context.Context, bookID string, input BookInput) (Book, error) {
	if bookID == "" {
		return Book{}, s.invalid(opUpdateBook, "book id is required")
	}
	input = normalizeBookInput(input)
	if err := validation.Struct(input); err != nil {
		return Book{}, newServiceError(opUpdateBook, reasonInvalidInput, err)
	}

	unlock := s.locks.Lock(bookLockKey(bookID))
	defer unlock()

	book, err := s.books.Get(ctx, bookID)
	if err != nil {
		return Book{}, classifyStoreError(opUpdateBook, err, reasonReadFailed)
	}
	book.Title = input.Title
	book.Author = input.Author
	book.Description = input.Description
	book.CoverImage = input.CoverImage
	book.Genres = input.Genres
	book.PublishedYear = input.PublishedYear
	book.UpdatedAt = s.clock().UTC()
	if err := s.books.Put(ctx, bookID, book); err != nil {
		s.logError(opUpdateBook, reasonWriteFailed, err, zap.String(fieldBookID, bookID))
		return Book{}, newServiceError(opUpdateBook, reasonWriteFailed, err)
	}
	return book, nil
}

// DeleteBook removes a book, then its reviews and their index entries, then rebuilds the
// top-rated view and drops every cached recommendation list. Only the book delete itself
// can fail the call.
func (s *Service) DeleteBook(ctx context.Context, bookID string) (Effects, error) {
	if bookID == "" {
		return Effects{}, s.invalid(opDeleteBook, "book id is required")
	}

	unlock := s.locks.Lock(bookLockKey(bookID))
	err := s.books.Delete(ctx, bookID)
	unlock()
	if err != nil {
		s.logError(opDeleteBook, reasonDeleteFailed, err, zap.String(fieldBookID, bookID))
		return Effects{}, classifyStoreError(opDeleteBook, err, reasonDeleteFailed)
	}

	var effects Effects
	for _, reviewID := range s.indexes.Read(ctx, index.ReviewsByBook, bookID) {
		if err := s.deleteOrphanedReview(ctx, bookID, reviewID); err != nil {
			s.logEffect(opDeleteBook, effectDeleteReviews, err,
				zap.String(fieldBookID, bookID), zap.String(fieldReviewID, reviewID))
			effects.record(effectDeleteReviews, err)
		}
	}
	if err := s.indexes.Drop(ctx, index.ReviewsByBook, bookID); err != nil {
		s.logEffect(opDeleteBook, effectIndexBook, err, zap.String(fieldBookID, bookID))
		effects.record(effectIndexBook, err)
	}
	if _, err := s.topRated.Rebuild(ctx); err != nil {
		s.logEffect(opDeleteBook, effectTopRated, err, zap.String(fieldBookID, bookID))
		effects.record(effectTopRated, err)
	}
	s.invalidateAll()
	return effects, nil
}

func (s *Service) deleteOrphanedReview(ctx context.Context, bookID, reviewID string) error {
	unlock := s.locks.Lock(reviewLockKey(reviewID))
	defer unlock()

	review, err := s.reviews.Get(ctx, reviewID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if review.BookID != bookID {
		return nil
	}
	if err := s.reviews.Delete(ctx, reviewID); err != nil {
		return err
	}
	s.invalidate(review.UserID)
	if _, err := s.indexes.Remove(ctx, index.ReviewsByUser, review.UserID, reviewID); err != nil {
		return err
	}
	return nil
}

// ListBooks returns every book, newest first, optionally restricted to one genre.
func (s *Service) ListBooks(ctx context.Context, filter BookFilter) ([]Book, error) {
	genre := strings.TrimSpace(filter.Genre)
	books := make([]Book, 0)
	stats, err := s.books.All(ctx, func(_ string, book Book) error {
		if genre != "" && !book.HasGenre(genre) {
			return nil
		}
		books = append(books, book)
		return nil
	})
	if err != nil {
		s.logError(opListBooks, reasonScanFailed, err)
		return nil, newServiceError(opListBooks, reasonScanFailed, err)
	}
	if stats.Skipped > 0 {
		s.logger.Warn("book listing skipped unreadable records", zap.Int("skipped", stats.Skipped))
	}
	slices.SortFunc(books, func(left, right Book) int {
		if order := right.CreatedAt.Compare(left.CreatedAt); order != 0 {
			return order
		}
		return strings.Compare(left.ID, right.ID)
	})
	return books, nil
}
