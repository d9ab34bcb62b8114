package users

import (
	"strings"
	"time"
)

// User is a registered reader. PasswordHash never leaves the service boundary.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	PasswordHash   string    `json:"passwordHash"`
	FavoriteGenres []string  `json:"favoriteGenres"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Registration carries the fields required to create a user.
type Registration struct {
	Email          string   `validate:"required,email,max=320"`
	Password       string   `validate:"required,min=8,max=72"`
	DisplayName    string   `validate:"max=120"`
	FavoriteGenres []string `validate:"max=20,dive,required,max=64"`
}

// Profile carries the editable profile fields.
type Profile struct {
	DisplayName    string   `validate:"max=120"`
	FavoriteGenres []string `validate:"max=20,dive,required,max=64"`
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}

func normalizeGenres(genres []string) []string {
	normalized := make([]string, 0, len(genres))
	for _, genre := range genres {
		trimmed := normalize(genre)
		if trimmed == "" {
			continue
		}
		duplicate := false
		for _, existing := range normalized {
			if existing == trimmed {
				duplicate = true
				break
			}
		}
		if !duplicate {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
