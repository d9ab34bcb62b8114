package library

import (
	"context"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"go.uber.org/zap"
)

// ReindexReport summarizes a full repair pass.
type ReindexReport struct {
	Reviews      int
	Books        int
	SkippedUnits int
	Effects      Effects
}

// Reindex rebuilds both review indexes from a scan of every review, recomputes the rating
// of every book, and rebuilds the top-rated view once. Index keys are rewritten whole, so a
// review mutation racing with the repair may need another pass.
func (s *Service) Reindex(ctx context.Context) (ReindexReport, error) {
	var report ReindexReport

	byBook := make(map[string][]Review)
	byUser := make(map[string][]Review)
	reviewStats, err := s.reviews.All(ctx, func(_ string, review Review) error {
		if review.ID == "" || review.BookID == "" || review.UserID == "" {
			return nil
		}
		byBook[review.BookID] = append(byBook[review.BookID], review)
		byUser[review.UserID] = append(byUser[review.UserID], review)
		report.Reviews++
		return nil
	})
	report.SkippedUnits += reviewStats.Skipped
	if err != nil {
		s.logError(opReindex, reasonScanFailed, err)
		return report, newServiceError(opReindex, reasonScanFailed, err)
	}

	for _, rebuild := range []struct {
		name    index.Name
		effect  string
		entries map[string][]Review
	}{
		{name: index.ReviewsByBook, effect: effectIndexBook, entries: byBook},
		{name: index.ReviewsByUser, effect: effectIndexUser, entries: byUser},
	} {
		skipped, err := s.rewriteIndex(ctx, rebuild.name, rebuild.effect, rebuild.entries, &report.Effects)
		report.SkippedUnits += skipped
		if err != nil {
			return report, err
		}
	}

	bookIDs := make([]string, 0)
	bookStats, err := s.books.All(ctx, func(id string, _ Book) error {
		bookIDs = append(bookIDs, id)
		return nil
	})
	report.SkippedUnits += bookStats.Skipped
	if err != nil {
		s.logError(opReindex, reasonScanFailed, err)
		return report, newServiceError(opReindex, reasonScanFailed, err)
	}
	for _, bookID := range bookIDs {
		if _, err := s.aggregator.recompute(ctx, bookID); err != nil {
			s.logEffect(opReindex, effectRecompute, err, zap.String(fieldBookID, bookID))
			report.Effects.record(effectRecompute, err)
			continue
		}
		report.Books++
	}

	if _, err := s.topRated.Rebuild(ctx); err != nil {
		s.logEffect(opReindex, effectTopRated, err)
		report.Effects.record(effectTopRated, err)
	}

	s.logger.Info("reindex completed",
		zap.Int("reviews", report.Reviews),
		zap.Int("books", report.Books),
		zap.Int("skipped_units", report.SkippedUnits),
		zap.Int("effect_failures", len(report.Effects.Failures)))
	return report, nil
}

// rewriteIndex replaces every key of the index with the scanned entries and drops keys
// that no longer have any.
func (s *Service) rewriteIndex(ctx context.Context, name index.Name, effect string, entries map[string][]Review, effects *Effects) (int, error) {
	existing, stats, err := s.indexes.Keys(ctx, name)
	if err != nil {
		s.logError(opReindex, reasonScanFailed, err, zap.String("index", name.String()))
		return stats.Skipped, newServiceError(opReindex, reasonScanFailed, err)
	}
	for _, key := range existing {
		if _, keep := entries[key]; keep {
			continue
		}
		if err := s.indexes.Drop(ctx, name, key); err != nil {
			s.logEffect(opReindex, effect, err, zap.String("key", key))
			effects.record(effect, err)
		}
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		reviews := entries[key]
		slices.SortFunc(reviews, func(left, right Review) int {
			if order := left.CreatedAt.Compare(right.CreatedAt); order != 0 {
				return order
			}
			return strings.Compare(left.ID, right.ID)
		})
		ids := make([]string, 0, len(reviews))
		for _, review := range reviews {
			ids = append(ids, review.ID)
		}
		if err := s.indexes.Replace(ctx, name, key, ids); err != nil {
			s.logEffect(opReindex, effect, err, zap.String("key", key))
			effects.record(effect, err)
		}
	}
	return stats.Skipped, nil
}
