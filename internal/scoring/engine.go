// Package scoring grades a completed answer log against a blueprint and a
// weight configuration. Output is deterministic for identical input; the
// rest of the engine involves randomness and timers, so this is the one
// place where exact-value tests are possible.
package scoring

import (
	"sort"

	"go.uber.org/zap"

	"psychoprep-engine/internal/domain"
)

const (
	strengthThreshold = 75.0
	weaknessThreshold = 50.0

	defaultBasePoints = 1.0
	defaultMultiplier = 1.0
)

// Engine computes weighted score reports. The logger only observes weight
// configuration gaps; it never influences the report.
type Engine struct {
	log *zap.Logger
}

// NewEngine accepts a nil logger.
func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log}
}

// Correctness decides one question. Injected so the engine can be tested
// against a fixed oracle; production wiring passes validator.IsCorrect.
type Correctness func(q domain.Question, a *domain.SubmittedAnswer) bool

// Score walks every scorable question in the blueprint, not just answered
// ones: an unanswered question grades incorrect rather than erroring.
// Distraction interstitials never reach the tallies.
func (e *Engine) Score(
	bp domain.Blueprint,
	answers map[string]domain.SubmittedAnswer,
	weights domain.ScoreWeightConfig,
	isCorrect Correctness,
) domain.ScoreReport {
	report := domain.ScoreReport{
		TestID:     bp.ID,
		Categories: make(map[domain.Category]domain.CategoryPerformance),
	}

	for _, q := range bp.Questions {
		if !q.Scorable() {
			continue
		}

		var answer *domain.SubmittedAnswer
		if a, ok := answers[q.ID]; ok {
			answer = &a
		}
		correct := isCorrect(q, answer)

		perf := report.Categories[q.Category]
		perf.TotalQuestions++
		report.TotalQuestions++

		if correct {
			points := e.questionScore(q, weights)
			perf.CorrectAnswers++
			perf.Score += points
			report.CorrectAnswers++
			report.TotalScore += points
		}
		report.Categories[q.Category] = perf
	}

	// Percentages recomputed from counts to avoid rounding drift.
	for category, perf := range report.Categories {
		perf.Percentage = percentage(perf.CorrectAnswers, perf.TotalQuestions)
		report.Categories[category] = perf

		switch {
		case perf.Percentage >= strengthThreshold:
			report.Strengths = append(report.Strengths, category)
		case perf.Percentage < weaknessThreshold:
			report.Weaknesses = append(report.Weaknesses, category)
		}
	}
	// Map iteration order is random; sort for deterministic output.
	sort.Strings(report.Strengths)
	sort.Strings(report.Weaknesses)

	report.PercentageScore = percentage(report.CorrectAnswers, report.TotalQuestions)
	return report
}

// questionScore is basePoints x difficultyMultiplier, with a logged fallback
// to defaults when the weight table has no entry for the category. A missing
// entry usually means a configuration gap, hence the warning.
func (e *Engine) questionScore(q domain.Question, weights domain.ScoreWeightConfig) float64 {
	weight, ok := weights.Categories[q.Category]
	if !ok {
		e.log.Warn("no weight entry for category, using defaults",
			zap.String("category", q.Category),
			zap.String("weightConfig", weights.Name))
		return defaultBasePoints * defaultMultiplier
	}

	multiplier, ok := weight.Multipliers[q.Difficulty]
	if !ok {
		e.log.Warn("no difficulty multiplier, using default",
			zap.String("category", q.Category),
			zap.String("difficulty", string(q.Difficulty)),
			zap.String("weightConfig", weights.Name))
		multiplier = defaultMultiplier
	}
	return weight.BasePoints * multiplier
}

func percentage(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total) * 100
}
