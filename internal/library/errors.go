package library

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"go.uber.org/zap"
)

var (
	errMissingBackend    = errors.New("store backend is required")
	errMissingIndexes    = errors.New("index maintainer is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause. The cause
// wraps one of the errs sentinels so callers can classify it with errors.Is.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "library.service.new"
	opCreateBook        = "library.create_book"
	opGetBook           = "library.get_book"
	opUpdateBook        = "library.update_book"
	opDeleteBook        = "library.delete_book"
	opListBooks         = "library.list_books"
	opCreateReview      = "library.create_review"
	opGetReview         = "library.get_review"
	opUpdateReview      = "library.update_review"
	opDeleteReview      = "library.delete_review"
	opToggleLike        = "library.toggle_like"
	opAddComment        = "library.add_comment"
	opListReviews       = "library.list_reviews"
	opAddFavorite       = "library.add_favorite"
	opRemoveFavorite    = "library.remove_favorite"
	opListFavorites     = "library.list_favorites"
	opRecomputeRating   = "library.recompute_rating"
	opRebuildTopRated   = "library.rebuild_top_rated"
	opGetTopRated       = "library.get_top_rated"
	opReindex           = "library.reindex"
	reasonInvalidInput  = "invalid_input"
	reasonNotFound      = "not_found"
	reasonForbidden     = "forbidden"
	reasonConflict      = "conflict"
	reasonIDFailed      = "id_generation_failed"
	reasonReadFailed    = "read_failed"
	reasonWriteFailed   = "write_failed"
	reasonDeleteFailed  = "delete_failed"
	reasonScanFailed    = "scan_failed"
	fieldBookID         = "book_id"
	fieldReviewID       = "review_id"
	fieldUserID         = "user_id"
	effectIndexBook     = "index.reviews_by_book"
	effectIndexUser     = "index.reviews_by_user"
	effectRecompute     = "aggregate.recompute"
	effectTopRated      = "view.top_rated"
	effectDeleteReviews = "book.delete_reviews"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// classifyStoreError maps a store failure onto a reason code, keeping the cause intact.
func classifyStoreError(operation string, err error, fallbackReason string) error {
	if errors.Is(err, errs.ErrNotFound) {
		return newServiceError(operation, reasonNotFound, err)
	}
	if errors.Is(err, errs.ErrValidation) {
		return newServiceError(operation, reasonInvalidInput, err)
	}
	return newServiceError(operation, fallbackReason, err)
}

func notFound(operation, what, id string) error {
	return newServiceError(operation, reasonNotFound, fmt.Errorf("%w: %s %s", errs.ErrNotFound, what, id))
}
