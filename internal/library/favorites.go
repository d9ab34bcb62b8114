package library

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"go.uber.org/zap"
)

// AddFavorite records bookID as a favorite of userID and returns the user's favorite ids.
func (s *Service) AddFavorite(ctx context.Context, userID, bookID string) ([]string, error) {
	if userID == "" || bookID == "" {
		return nil, s.invalid(opAddFavorite, "user id and book id are required")
	}
	if _, err := s.books.Get(ctx, bookID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, notFound(opAddFavorite, "book", bookID)
		}
		return nil, classifyStoreError(opAddFavorite, err, reasonReadFailed)
	}
	favorites, err := s.indexes.Add(ctx, index.FavoritesByUser, userID, bookID)
	if err != nil {
		s.logError(opAddFavorite, reasonWriteFailed, err, zap.String(fieldUserID, userID), zap.String(fieldBookID, bookID))
		return nil, classifyStoreError(opAddFavorite, err, reasonWriteFailed)
	}
	s.invalidate(userID)
	return favorites, nil
}

// RemoveFavorite drops bookID from the user's favorites. Removing a book that is not a
// favorite, or no longer exists, succeeds.
func (s *Service) RemoveFavorite(ctx context.Context, userID, bookID string) ([]string, error) {
	if userID == "" || bookID == "" {
		return nil, s.invalid(opRemoveFavorite, "user id and book id are required")
	}
	favorites, err := s.indexes.Remove(ctx, index.FavoritesByUser, userID, bookID)
	if err != nil {
		s.logError(opRemoveFavorite, reasonWriteFailed, err, zap.String(fieldUserID, userID), zap.String(fieldBookID, bookID))
		return nil, classifyStoreError(opRemoveFavorite, err, reasonWriteFailed)
	}
	s.invalidate(userID)
	return favorites, nil
}

// ListFavorites resolves the user's favorite ids to books, in the order they were added.
// Favorites whose book was deleted are skipped.
func (s *Service) ListFavorites(ctx context.Context, userID string) ([]Book, error) {
	if userID == "" {
		return nil, s.invalid(opListFavorites, "user id is required")
	}
	bookIDs := s.indexes.Read(ctx, index.FavoritesByUser, userID)
	books := make([]Book, 0, len(bookIDs))
	for _, bookID := range bookIDs {
		book, err := s.books.Get(ctx, bookID)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				s.logger.Warn("skipping unreadable favorite", zap.String(fieldBookID, bookID), zap.Error(err))
			}
			continue
		}
		books = append(books, book)
	}
	return books, nil
}
