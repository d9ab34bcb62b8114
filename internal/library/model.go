// Package library owns books, reviews, and favorites, together with the data derived from
// them: the per-book rating aggregate and the top-rated materialized view.
package library

import "time"

const (
	minRating = 1
	maxRating = 5
)

// RatingDistribution counts reviews per star value, keyed 1 through 5.
type RatingDistribution map[int]int

// NewRatingDistribution returns a distribution with every star value present and zero.
func NewRatingDistribution() RatingDistribution {
	distribution := make(RatingDistribution, maxRating)
	for star := minRating; star <= maxRating; star++ {
		distribution[star] = 0
	}
	return distribution
}

// Total sums the counts across all star values.
func (d RatingDistribution) Total() int {
	total := 0
	for _, count := range d {
		total += count
	}
	return total
}

// Book is a catalog entry. AverageRating, TotalReviews, and RatingDistribution are owned by
// the rating aggregator; no other writer sets them.
type Book struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Author             string             `json:"author"`
	Description        string             `json:"description"`
	CoverImage         string             `json:"coverImage"`
	Genres             []string           `json:"genres"`
	PublishedYear      int                `json:"publishedYear,omitempty"`
	AverageRating      *float64           `json:"averageRating"`
	TotalReviews       int                `json:"totalReviews"`
	RatingDistribution RatingDistribution `json:"ratingDistribution"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// HasGenre reports whether the book is tagged with genre.
func (b Book) HasGenre(genre string) bool {
	for _, candidate := range b.Genres {
		if candidate == genre {
			return true
		}
	}
	return false
}

// Summary projects the book onto the top-rated view shape.
func (b Book) Summary() BookSummary {
	summary := BookSummary{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		CoverImage:   b.CoverImage,
		Genres:       append([]string(nil), b.Genres...),
		TotalReviews: b.TotalReviews,
	}
	if b.AverageRating != nil {
		summary.AverageRating = *b.AverageRating
	}
	return summary
}

// Comment is one entry of a review's append-only discussion.
type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Review is a user's rating and text for one book.
type Review struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	BookID      string    `json:"bookId"`
	Rating      int       `json:"rating"`
	Text        string    `json:"text"`
	Attachments []string  `json:"attachments"`
	Likes       []string  `json:"likes"`
	Comments    []Comment `json:"comments"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LikedBy reports whether userID has liked the review.
func (r Review) LikedBy(userID string) bool {
	for _, liker := range r.Likes {
		if liker == userID {
			return true
		}
	}
	return false
}

// BookSummary is one entry of the top-rated view.
type BookSummary struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	CoverImage    string   `json:"coverImage"`
	Genres        []string `json:"genres"`
	AverageRating float64  `json:"averageRating"`
	TotalReviews  int      `json:"totalReviews"`
}

// TopRatedView is the materialized list of the best-rated books.
type TopRatedView struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	Books       []BookSummary `json:"books"`
}

// BookInput carries the caller-editable fields of a book.
type BookInput struct {
	Title         string   `validate:"required,max=300"`
	Author        string   `validate:"required,max=200"`
	Description   string   `validate:"max=5000"`
	CoverImage    string   `validate:"max=2048"`
	Genres        []string `validate:"max=20,dive,required,max=64"`
	PublishedYear int      `validate:"min=0,max=9999"`
}

// BookFilter narrows ListBooks.
type BookFilter struct {
	Genre string
}

// ReviewInput carries the fields required to create a review.
type ReviewInput struct {
	UserID      string   `validate:"required"`
	BookID      string   `validate:"required"`
	Rating      int      `validate:"min=1,max=5"`
	Text        string   `validate:"required,max=5000"`
	Attachments []string `validate:"max=10,dive,required,max=2048"`
}

// ReviewPatch carries the optional fields of a review update; nil fields are left unchanged.
type ReviewPatch struct {
	Rating      *int
	Text        *string
	Attachments *[]string
}
