package library

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
)

func TestCreateReviewValidation(t *testing.T) {
	env := newTestEnv(t)
	book := mustCreateBook(t, env.service, "Ubik")

	testCases := []struct {
		name   string
		input  ReviewInput
		target error
	}{
		{name: "rating too low", input: ReviewInput{UserID: "u", BookID: book.ID, Rating: 0, Text: "ok"}, target: errs.ErrValidation},
		{name: "rating too high", input: ReviewInput{UserID: "u", BookID: book.ID, Rating: 6, Text: "ok"}, target: errs.ErrValidation},
		{name: "blank text", input: ReviewInput{UserID: "u", BookID: book.ID, Rating: 3, Text: "   "}, target: errs.ErrValidation},
		{name: "text too long", input: ReviewInput{UserID: "u", BookID: book.ID, Rating: 3, Text: strings.Repeat("x", maxReviewTextLength+1)}, target: errs.ErrValidation},
		{name: "too many attachments", input: ReviewInput{UserID: "u", BookID: book.ID, Rating: 3, Text: "ok", Attachments: make([]string, maxAttachments+1)}, target: errs.ErrValidation},
		{name: "missing user", input: ReviewInput{BookID: book.ID, Rating: 3, Text: "ok"}, target: errs.ErrValidation},
		{name: "missing book", input: ReviewInput{UserID: "u", BookID: "absent", Rating: 3, Text: "ok"}, target: errs.ErrNotFound},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := env.service.CreateReview(context.Background(), testCase.input)
			assertErrorIs(t, err, testCase.target)
		})
	}
}

func TestCreateReviewValidationDescribesConstraint(t *testing.T) {
	env := newTestEnv(t)
	book := mustCreateBook(t, env.service, "Ubik")

	_, err := env.service.CreateReview(context.Background(), ReviewInput{UserID: "u", BookID: book.ID, Rating: 9, Text: "ok"})
	if err == nil || !strings.Contains(err.Error(), "rating must be at most 5") {
		t.Fatalf("expected rating constraint description, got %v", err)
	}
}

func TestCreateReviewRejectsSecondReviewOfSameBook(t *testing.T) {
	env := newTestEnv(t)
	book := mustCreateBook(t, env.service, "Kindred")
	mustCreateReview(t, env.service, "user-1", book.ID, 4)

	_, err := env.service.CreateReview(context.Background(), ReviewInput{UserID: "user-1", BookID: book.ID, Rating: 2, Text: "again"})
	assertErrorIs(t, err, errs.ErrConflict)
}

func TestCreateReviewIndexesAndInvalidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book := mustCreateBook(t, env.service, "Beloved")
	review := mustCreateReview(t, env.service, "user-1", book.ID, 5)

	if ids := env.indexes.Read(ctx, index.ReviewsByBook, book.ID); !slices.Equal(ids, []string{review.ID}) {
		t.Fatalf("unexpected reviews-by-book index: %v", ids)
	}
	if ids := env.indexes.Read(ctx, index.ReviewsByUser, "user-1"); !slices.Equal(ids, []string{review.ID}) {
		t.Fatalf("unexpected reviews-by-user index: %v", ids)
	}
	if cleared := env.invalidator.Cleared(); !slices.Equal(cleared, []string{"user-1"}) {
		t.Fatalf("expected the author's recommendations to be invalidated, got %v", cleared)
	}
}

func TestSecondaryFailuresDoNotFailReviewCreation(t *testing.T) {
	base, err := store.NewFileBackend(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected backend error: %v", err)
	}
	backend := &failingBackend{Backend: base, failPut: map[store.Kind]bool{}}
	env := newTestEnvWithBackend(t, backend)
	ctx := context.Background()
	book := mustCreateBook(t, env.service, "Piranesi")

	backend.failPut[store.KindViews] = true
	backend.failPut[store.IndexKind(index.ReviewsByUser.String())] = true

	result, err := env.service.CreateReview(ctx, ReviewInput{UserID: "user-1", BookID: book.ID, Rating: 5, Text: "wonderful"})
	if err != nil {
		t.Fatalf("expected primary write to succeed, got %v", err)
	}
	if !result.Effects.Failed() {
		t.Fatalf("expected secondary failures to be reported")
	}
	effects := make([]string, 0, len(result.Effects.Failures))
	for _, failure := range result.Effects.Failures {
		effects = append(effects, failure.Effect)
		assertErrorIs(t, failure.Err, errs.ErrStorage)
	}
	slices.Sort(effects)
	if !slices.Equal(effects, []string{effectIndexUser, effectTopRated}) {
		t.Fatalf("unexpected failed effects: %v", effects)
	}

	if _, err := env.service.GetReview(ctx, result.Review.ID); err != nil {
		t.Fatalf("expected review to be persisted: %v", err)
	}
	assertRatingTriple(t, mustGetBook(t, env.service, book.ID), ratingPtr(5.0), 1, map[int]int{5: 1})
}

func TestPrimaryWriteFailureSurfaces(t *testing.T) {
	base, err := store.NewFileBackend(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected backend error: %v", err)
	}
	backend := &failingBackend{Backend: base, failPut: map[store.Kind]bool{}}
	env := newTestEnvWithBackend(t, backend)
	book := mustCreateBook(t, env.service, "Piranesi")

	backend.failPut[store.KindReviews] = true
	_, err = env.service.CreateReview(context.Background(), ReviewInput{UserID: "user-1", BookID: book.ID, Rating: 5, Text: "lost"})
	assertErrorIs(t, err, errs.ErrStorage)

	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "library.create_review.write_failed" {
		t.Fatalf("unexpected error code: %v", err)
	}
	if ids := env.indexes.Read(context.Background(), index.ReviewsByBook, book.ID); len(ids) != 0 {
		t.Fatalf("expected no index entries after failed primary write, got %v", ids)
	}
}

func TestUpdateAndDeleteReviewRequireAuthor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book := mustCreateBook(t, env.service, "Lolita")
	review := mustCreateReview(t, env.service, "author", book.ID, 3)

	text := "edited"
	_, err := env.service.UpdateReview(ctx, review.ID, "intruder", ReviewPatch{Text: &text})
	assertErrorIs(t, err, errs.ErrUnauthorized)

	_, err = env.service.DeleteReview(ctx, review.ID, "intruder")
	assertErrorIs(t, err, errs.ErrUnauthorized)

	_, err = env.service.UpdateReview(ctx, "absent", "author", ReviewPatch{Text: &text})
	assertErrorIs(t, err, errs.ErrNotFound)

	result, err := env.service.UpdateReview(ctx, review.ID, "author", ReviewPatch{Text: &text})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if result.Review.Text != "edited" || result.Review.Rating != 3 {
		t.Fatalf("unexpected updated review: %#v", result.Review)
	}
}

func TestToggleLikeAndComments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book := mustCreateBook(t, env.service, "Middlemarch")
	review := mustCreateReview(t, env.service, "author", book.ID, 5)

	_, err := env.service.ToggleLike(ctx, review.ID, "author")
	assertErrorIs(t, err, errs.ErrValidation)

	liked, err := env.service.ToggleLike(ctx, review.ID, "fan")
	if err != nil {
		t.Fatalf("unexpected like error: %v", err)
	}
	if !liked.LikedBy("fan") || len(liked.Likes) != 1 {
		t.Fatalf("expected one like from fan, got %v", liked.Likes)
	}
	unliked, err := env.service.ToggleLike(ctx, review.ID, "fan")
	if err != nil {
		t.Fatalf("unexpected unlike error: %v", err)
	}
	if unliked.LikedBy("fan") {
		t.Fatalf("expected like to be removed, got %v", unliked.Likes)
	}

	if _, err := env.service.AddComment(ctx, review.ID, "fan", "  "); err == nil {
		t.Fatalf("expected blank comment to be rejected")
	}
	if _, err := env.service.AddComment(ctx, review.ID, "fan", "first"); err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}
	commented, err := env.service.AddComment(ctx, review.ID, "author", "second")
	if err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}
	if len(commented.Comments) != 2 || commented.Comments[0].Text != "first" || commented.Comments[1].Text != "second" {
		t.Fatalf("expected comments in insertion order, got %#v", commented.Comments)
	}

	_, err = env.service.AddComment(ctx, "absent", "fan", "hello")
	assertErrorIs(t, err, errs.ErrNotFound)
}

func TestListReviewsSkipsStaleIndexEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book := mustCreateBook(t, env.service, "Emma")
	first := mustCreateReview(t, env.service, "user-1", book.ID, 4)
	second := mustCreateReview(t, env.service, "user-2", book.ID, 2)

	if _, err := env.indexes.Add(ctx, index.ReviewsByBook, book.ID, "ghost"); err != nil {
		t.Fatalf("unexpected index error: %v", err)
	}

	reviews, err := env.service.ListReviewsForBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(reviews) != 2 || reviews[0].ID != second.ID || reviews[1].ID != first.ID {
		t.Fatalf("expected newest-first reviews without the ghost id, got %#v", reviews)
	}

	byUser, err := env.service.ListReviewsByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(byUser) != 1 || byUser[0].ID != first.ID {
		t.Fatalf("unexpected user reviews: %#v", byUser)
	}

	_, err = env.service.ListReviewsForBook(ctx, "absent")
	assertErrorIs(t, err, errs.ErrNotFound)
}
