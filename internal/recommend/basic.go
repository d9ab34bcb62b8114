package recommend

import (
	"slices"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/library"
)

// DefaultMinRating is the lowest average rating the basic path recommends.
const DefaultMinRating = 4.0

// filterCandidates keeps the books rated at least minRating that share a genre with
// genres. An empty genres list does not filter by genre.
func filterCandidates(books []library.BookSummary, minRating float64, genres []string) []library.BookSummary {
	candidates := make([]library.BookSummary, 0, len(books))
	for _, book := range books {
		if book.AverageRating < minRating {
			continue
		}
		if len(genres) > 0 && !sharesGenre(book.Genres, genres) {
			continue
		}
		candidates = append(candidates, book)
	}
	return candidates
}

func sharesGenre(bookGenres, wanted []string) bool {
	for _, genre := range bookGenres {
		if slices.Contains(wanted, genre) {
			return true
		}
	}
	return false
}

// diversify reorders books so that the rarest genres surface first. Genres are visited from
// least to most frequent (ties in order of first appearance) and every book carrying the
// genre that was not emitted yet follows. Books without genres keep their relative order
// at the end.
func diversify(books []library.BookSummary) []library.BookSummary {
	frequency := make(map[string]int)
	genres := make([]string, 0)
	for _, book := range books {
		for _, genre := range book.Genres {
			if _, seen := frequency[genre]; !seen {
				genres = append(genres, genre)
			}
			frequency[genre]++
		}
	}
	slices.SortStableFunc(genres, func(left, right string) int {
		return frequency[left] - frequency[right]
	})

	ordered := make([]library.BookSummary, 0, len(books))
	emitted := make([]bool, len(books))
	for _, genre := range genres {
		for i, book := range books {
			if emitted[i] || !slices.Contains(book.Genres, genre) {
				continue
			}
			emitted[i] = true
			ordered = append(ordered, book)
		}
	}
	for i, book := range books {
		if !emitted[i] {
			ordered = append(ordered, book)
		}
	}
	return ordered
}

func summaryIDs(books []library.BookSummary, limit int) []string {
	if limit > 0 && len(books) > limit {
		books = books[:limit]
	}
	ids := make([]string, 0, len(books))
	for _, book := range books {
		ids = append(ids, book.ID)
	}
	return ids
}
