package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
)

type sample struct {
	Email          string   `validate:"required,email"`
	Password       string   `validate:"required,min=8"`
	Rating         int      `validate:"min=1,max=5"`
	FavoriteGenres []string `validate:"max=2"`
}

func TestStructDescribesViolatedConstraint(t *testing.T) {
	valid := sample{Email: "reader@example.com", Password: "password-1", Rating: 3}
	testCases := map[string]struct {
		mutate func(*sample)
		want   string
	}{
		"missing email": {func(s *sample) { s.Email = "" }, "email is required"},
		"bad email":     {func(s *sample) { s.Email = "nope" }, "email must be a valid email address"},
		"short":         {func(s *sample) { s.Password = "short" }, "password must contain at least 8 items or characters"},
		"rating":        {func(s *sample) { s.Rating = 6 }, "rating must be at most 5"},
		"genres":        {func(s *sample) { s.FavoriteGenres = []string{"a", "b", "c"} }, "favoriteGenres must contain at most 2 items or characters"},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			value := valid
			testCase.mutate(&value)
			err := Struct(value)
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.HasSuffix(err.Error(), testCase.want) {
				t.Fatalf("expected %q, got %q", testCase.want, err.Error())
			}
		})
	}
	if err := Struct(valid); err != nil {
		t.Fatalf("unexpected error for valid input: %v", err)
	}
}

func TestVarUsesGivenFieldName(t *testing.T) {
	err := Var("text", "", "required,max=10")
	if err == nil || !strings.HasSuffix(err.Error(), "text is required") {
		t.Fatalf("unexpected error %v", err)
	}
}
