// Package validator decides correctness of one submitted answer against one
// question. It is pure: no session, clock, or store is involved, so it can be
// exercised directly by both the scoring engine and live-feedback paths.
package validator

import (
	"strings"

	"psychoprep-engine/internal/domain"
)

// IsCorrect reports whether the submitted answer matches the question's
// expected answer. A nil answer is always incorrect. The switch over the
// question kind is exhaustive; an unknown kind grades as incorrect rather
// than panicking, since bank content is external input.
func IsCorrect(q domain.Question, a *domain.SubmittedAnswer) bool {
	if a == nil {
		return false
	}

	switch q.Kind {
	case domain.KindChoice, domain.KindImage:
		if q.Choice == nil || a.OptionID == "" {
			return false
		}
		return a.OptionID == q.Choice.CorrectOptionID()

	case domain.KindMemorize:
		if q.Memorize == nil || a.ImageIndex == nil {
			return false
		}
		return *a.ImageIndex == q.Memorize.TargetIndex

	case domain.KindSequence:
		if q.Sequence == nil {
			return false
		}
		return a.Value == q.Sequence.Expected

	case domain.KindOpenText:
		if q.OpenText == nil {
			return false
		}
		// Trimmed, case-insensitive exact match only. No fuzzy matching:
		// a near-miss like "fourty" vs "forty" grades incorrect.
		return strings.EqualFold(
			strings.TrimSpace(a.Value),
			strings.TrimSpace(q.OpenText.Expected),
		)

	case domain.KindDistraction:
		// Interstitial sub-answers are discarded, never graded.
		return false
	}

	return false
}
