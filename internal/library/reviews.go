package library

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/validation"
	"go.uber.org/zap"
)

// CreateReview persists a review and then, best effort, indexes it, recomputes the book's
// rating, and rebuilds the top-rated view. A user may review a book once.
func (s *Service) CreateReview(ctx context.Context, input ReviewInput) (ReviewResult, error) {
	input = normalizeReviewInput(input)
	if err := validation.Struct(input); err != nil {
		return ReviewResult{}, newServiceError(opCreateReview, reasonInvalidInput, err)
	}
	if _, err := s.books.Get(ctx, input.BookID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ReviewResult{}, notFound(opCreateReview, "book", input.BookID)
		}
		s.logError(opCreateReview, reasonReadFailed, err, zap.String(fieldBookID, input.BookID))
		return ReviewResult{}, newServiceError(opCreateReview, reasonReadFailed, err)
	}

	unlock := s.locks.Lock(authorshipLockKey(input.UserID, input.BookID))
	defer unlock()

	if existingID, found := s.findUserReview(ctx, input.UserID, input.BookID); found {
		return ReviewResult{}, newServiceError(opCreateReview, reasonConflict,
			fmt.Errorf("%w: user %s already reviewed book %s as %s", errs.ErrConflict, input.UserID, input.BookID, existingID))
	}

	reviewID, err := s.newID(opCreateReview)
	if err != nil {
		return ReviewResult{}, err
	}
	now := s.clock().UTC()
	review := Review{
		ID:          reviewID,
		UserID:      input.UserID,
		BookID:      input.BookID,
		Rating:      input.Rating,
		Text:        input.Text,
		Attachments: input.Attachments,
		Likes:       []string{},
		Comments:    []Comment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.reviews.Put(ctx, reviewID, review); err != nil {
		s.logError(opCreateReview, reasonWriteFailed, err,
			zap.String(fieldReviewID, reviewID), zap.String(fieldBookID, review.BookID))
		return ReviewResult{}, newServiceError(opCreateReview, reasonWriteFailed, err)
	}

	var effects Effects
	if _, err := s.indexes.Add(ctx, index.ReviewsByBook, review.BookID, reviewID); err != nil {
		s.logEffect(opCreateReview, effectIndexBook, err, zap.String(fieldReviewID, reviewID))
		effects.record(effectIndexBook, err)
	}
	if _, err := s.indexes.Add(ctx, index.ReviewsByUser, review.UserID, reviewID); err != nil {
		s.logEffect(opCreateReview, effectIndexUser, err, zap.String(fieldReviewID, reviewID))
		effects.record(effectIndexUser, err)
	}
	effects.merge(s.recomputeEffect(ctx, opCreateReview, review.BookID))
	s.invalidate(review.UserID)

	return ReviewResult{Review: review, Effects: effects}, nil
}

// GetReview loads one review.
func (s *Service) GetReview(ctx context.Context, reviewID string) (Review, error) {
	if reviewID == "" {
		return Review{}, s.invalid(opGetReview, "review id is required")
	}
	review, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		return Review{}, classifyStoreError(opGetReview, err, reasonReadFailed)
	}
	return review, nil
}

// UpdateReview applies patch to a review owned by actorID. A rating change recomputes the
// book's aggregate.
func (s *Service) UpdateReview(ctx context.Context, reviewID, actorID string, patch ReviewPatch) (ReviewResult, error) {
	if reviewID == "" {
		return ReviewResult{}, s.invalid(opUpdateReview, "review id is required")
	}
	patch, err := validateReviewPatch(patch)
	if err != nil {
		return ReviewResult{}, newServiceError(opUpdateReview, reasonInvalidInput, err)
	}

	unlock := s.locks.Lock(reviewLockKey(reviewID))
	review, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		unlock()
		return ReviewResult{}, classifyStoreError(opUpdateReview, err, reasonReadFailed)
	}
	if review.UserID != actorID {
		unlock()
		return ReviewResult{}, forbidden(opUpdateReview, "only the author may edit a review")
	}
	ratingChanged := patch.Rating != nil && *patch.Rating != review.Rating
	if patch.Rating != nil {
		review.Rating = *patch.Rating
	}
	if patch.Text != nil {
		review.Text = *patch.Text
	}
	if patch.Attachments != nil {
		review.Attachments = slices.Clone(*patch.Attachments)
	}
	review.UpdatedAt = s.clock().UTC()
	err = s.reviews.Put(ctx, reviewID, review)
	unlock()
	if err != nil {
		s.logError(opUpdateReview, reasonWriteFailed, err, zap.String(fieldReviewID, reviewID))
		return ReviewResult{}, newServiceError(opUpdateReview, reasonWriteFailed, err)
	}

	var effects Effects
	if ratingChanged {
		effects.merge(s.recomputeEffect(ctx, opUpdateReview, review.BookID))
	}
	s.invalidate(review.UserID)
	return ReviewResult{Review: review, Effects: effects}, nil
}

// DeleteReview removes a review owned by actorID, drops it from both review indexes, and
// recomputes the book's aggregate.
func (s *Service) DeleteReview(ctx context.Context, reviewID, actorID string) (Effects, error) {
	if reviewID == "" {
		return Effects{}, s.invalid(opDeleteReview, "review id is required")
	}

	unlock := s.locks.Lock(reviewLockKey(reviewID))
	review, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		unlock()
		return Effects{}, classifyStoreError(opDeleteReview, err, reasonReadFailed)
	}
	if review.UserID != actorID {
		unlock()
		return Effects{}, forbidden(opDeleteReview, "only the author may delete a review")
	}
	err = s.reviews.Delete(ctx, reviewID)
	unlock()
	if err != nil {
		s.logError(opDeleteReview, reasonDeleteFailed, err, zap.String(fieldReviewID, reviewID))
		return Effects{}, classifyStoreError(opDeleteReview, err, reasonDeleteFailed)
	}

	var effects Effects
	if _, err := s.indexes.Remove(ctx, index.ReviewsByBook, review.BookID, reviewID); err != nil {
		s.logEffect(opDeleteReview, effectIndexBook, err, zap.String(fieldReviewID, reviewID))
		effects.record(effectIndexBook, err)
	}
	if _, err := s.indexes.Remove(ctx, index.ReviewsByUser, review.UserID, reviewID); err != nil {
		s.logEffect(opDeleteReview, effectIndexUser, err, zap.String(fieldReviewID, reviewID))
		effects.record(effectIndexUser, err)
	}
	effects.merge(s.recomputeEffect(ctx, opDeleteReview, review.BookID))
	s.invalidate(review.UserID)
	return effects, nil
}

// ToggleLike adds userID to the review's likes, or removes it when already present.
// Authors cannot like their own review.
func (s *Service) ToggleLike(ctx context.Context, reviewID, userID string) (Review, error) {
	if reviewID == "" || userID == "" {
		return Review{}, s.invalid(opToggleLike, "review id and user id are required")
	}

	unlock := s.locks.Lock(reviewLockKey(reviewID))
	defer unlock()

	review, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		return Review{}, classifyStoreError(opToggleLike, err, reasonReadFailed)
	}
	if review.UserID == userID {
		return Review{}, s.invalid(opToggleLike, "authors cannot like their own review")
	}
	if review.LikedBy(userID) {
		review.Likes = slices.DeleteFunc(review.Likes, func(liker string) bool { return liker == userID })
	} else {
		review.Likes = append(review.Likes, userID)
	}
	review.UpdatedAt = s.clock().UTC()
	if err := s.reviews.Put(ctx, reviewID, review); err != nil {
		s.logError(opToggleLike, reasonWriteFailed, err, zap.String(fieldReviewID, reviewID))
		return Review{}, newServiceError(opToggleLike, reasonWriteFailed, err)
	}
	return review, nil
}

// AddComment appends a comment to the review's discussion.
func (s *Service) AddComment(ctx context.Context, reviewID, userID, text string) (Review, error) {
	if reviewID == "" || userID == "" {
		return Review{}, s.invalid(opAddComment, "review id and user id are required")
	}
	text = strings.TrimSpace(text)
	if err := validation.Var("text", text, fmt.Sprintf("required,max=%d", maxCommentTextLength)); err != nil {
		return Review{}, newServiceError(opAddComment, reasonInvalidInput, err)
	}
	commentID, err := s.newID(opAddComment)
	if err != nil {
		return Review{}, err
	}

	unlock := s.locks.Lock(reviewLockKey(reviewID))
	defer unlock()

	review, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		return Review{}, classifyStoreError(opAddComment, err, reasonReadFailed)
	}
	now := s.clock().UTC()
	review.Comments = append(review.Comments, Comment{
		ID:        commentID,
		UserID:    userID,
		Text:      text,
		CreatedAt: now,
	})
	review.UpdatedAt = now
	if err := s.reviews.Put(ctx, reviewID, review); err != nil {
		s.logError(opAddComment, reasonWriteFailed, err, zap.String(fieldReviewID, reviewID))
		return Review{}, newServiceError(opAddComment, reasonWriteFailed, err)
	}
	return review, nil
}

// ListReviewsForBook returns the book's reviews, newest first.
func (s *Service) ListReviewsForBook(ctx context.Context, bookID string) ([]Review, error) {
	if bookID == "" {
		return nil, s.invalid(opListReviews, "book id is required")
	}
	if _, err := s.books.Get(ctx, bookID); err != nil {
		return nil, classifyStoreError(opListReviews, err, reasonReadFailed)
	}
	reviews := s.resolveReviews(ctx, s.indexes.Read(ctx, index.ReviewsByBook, bookID), func(review Review) bool {
		return review.BookID == bookID
	})
	return reviews, nil
}

// ListReviewsByUser returns the user's reviews, newest first.
func (s *Service) ListReviewsByUser(ctx context.Context, userID string) ([]Review, error) {
	if userID == "" {
		return nil, s.invalid(opListReviews, "user id is required")
	}
	reviews := s.resolveReviews(ctx, s.indexes.Read(ctx, index.ReviewsByUser, userID), func(review Review) bool {
		return review.UserID == userID
	})
	return reviews, nil
}

// resolveReviews loads the indexed ids. Ids that no longer resolve to a matching record
// are skipped.
func (s *Service) resolveReviews(ctx context.Context, reviewIDs []string, belongs func(Review) bool) []Review {
	reviews := make([]Review, 0, len(reviewIDs))
	for _, reviewID := range reviewIDs {
		review, err := s.reviews.Get(ctx, reviewID)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				s.logger.Warn("skipping unreadable review", zap.String(fieldReviewID, reviewID), zap.Error(err))
			}
			continue
		}
		if !belongs(review) {
			continue
		}
		reviews = append(reviews, review)
	}
	slices.SortFunc(reviews, func(left, right Review) int {
		if order := right.CreatedAt.Compare(left.CreatedAt); order != 0 {
			return order
		}
		return strings.Compare(left.ID, right.ID)
	})
	return reviews
}

func (s *Service) findUserReview(ctx context.Context, userID, bookID string) (string, bool) {
	matches := s.resolveReviews(ctx, s.indexes.Read(ctx, index.ReviewsByUser, userID), func(review Review) bool {
		return review.BookID == bookID
	})
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].ID, true
}

// recomputeEffect runs the aggregator as a secondary effect of a review mutation.
func (s *Service) recomputeEffect(ctx context.Context, operation, bookID string) Effects {
	var effects Effects
	result, err := s.aggregator.Recompute(ctx, bookID)
	if err != nil {
		s.logEffect(operation, effectRecompute, err, zap.String(fieldBookID, bookID))
		effects.record(effectRecompute, err)
		return effects
	}
	if result.TopRatedErr != nil {
		s.logEffect(operation, effectTopRated, result.TopRatedErr, zap.String(fieldBookID, bookID))
		effects.record(effectTopRated, result.TopRatedErr)
	}
	return effects
}

func forbidden(operation, message string) error {
	return newServiceError(operation, reasonForbidden, fmt.Errorf("%w: %s", errs.ErrUnauthorized, message))
}

func authorshipLockKey(userID, bookID string) string {
	return "authorship:" + userID + "\x00" + bookID
}
