package library

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/validation"
)

const (
	maxReviewTextLength  = 5000
	maxCommentTextLength = 1000
	maxAttachments       = 10
)

func normalizeGenres(genres []string) []string {
	normalized := make([]string, 0, len(genres))
	seen := make(map[string]struct{}, len(genres))
	for _, genre := range genres {
		trimmed := strings.TrimSpace(genre)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

func normalizeBookInput(input BookInput) BookInput {
	input.Title = strings.TrimSpace(input.Title)
	input.Author = strings.TrimSpace(input.Author)
	input.Description = strings.TrimSpace(input.Description)
	input.CoverImage = strings.TrimSpace(input.CoverImage)
	input.Genres = normalizeGenres(input.Genres)
	return input
}

func normalizeReviewInput(input ReviewInput) ReviewInput {
	input.UserID = strings.TrimSpace(input.UserID)
	input.BookID = strings.TrimSpace(input.BookID)
	input.Text = strings.TrimSpace(input.Text)
	if input.Attachments == nil {
		input.Attachments = []string{}
	}
	return input
}

func validateReviewPatch(patch ReviewPatch) (ReviewPatch, error) {
	if patch.Rating != nil {
		if err := validation.Var("rating", *patch.Rating, "min=1,max=5"); err != nil {
			return patch, err
		}
	}
	if patch.Text != nil {
		trimmed := strings.TrimSpace(*patch.Text)
		if err := validation.Var("text", trimmed, fmt.Sprintf("required,max=%d", maxReviewTextLength)); err != nil {
			return patch, err
		}
		patch.Text = &trimmed
	}
	if patch.Attachments != nil {
		if err := validation.Var("attachments", *patch.Attachments, fmt.Sprintf("max=%d,dive,required,max=2048", maxAttachments)); err != nil {
			return patch, err
		}
	}
	return patch, nil
}
