package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psychoprep-engine/internal/domain"
	"psychoprep-engine/internal/validator"
)

// twoByTwoBlueprint builds the reference scenario: two categories with two
// easy choice questions each. Option "right" is correct everywhere.
func twoByTwoBlueprint() domain.Blueprint {
	bp := domain.Blueprint{ID: "test-1"}
	for _, category := range []domain.Category{"Verbal", "Numeric"} {
		for i := 0; i < 2; i++ {
			bp.Questions = append(bp.Questions, domain.Question{
				ID:         fmt.Sprintf("%s-%d", category, i),
				Category:   category,
				Difficulty: domain.DifficultyEasy,
				Kind:       domain.KindChoice,
				Active:     true,
				Choice: &domain.ChoicePayload{
					Options: []domain.Option{
						{ID: "right", Correct: true},
						{ID: "wrong"},
					},
				},
			})
		}
	}
	return bp
}

func twoByTwoWeights() domain.ScoreWeightConfig {
	weight := domain.CategoryWeight{
		BasePoints:  2,
		Multipliers: map[domain.Difficulty]float64{domain.DifficultyEasy: 1},
	}
	return domain.ScoreWeightConfig{
		Name: "standard",
		Categories: map[domain.Category]domain.CategoryWeight{
			"Verbal":  weight,
			"Numeric": weight,
		},
	}
}

func answerAll(bp domain.Blueprint, optionID string) map[string]domain.SubmittedAnswer {
	answers := make(map[string]domain.SubmittedAnswer, len(bp.Questions))
	for _, q := range bp.Questions {
		answers[q.ID] = domain.SubmittedAnswer{
			QuestionID:  q.ID,
			OptionID:    optionID,
			SubmittedAt: time.Unix(1700000000, 0),
		}
	}
	return answers
}

func TestScore_AllCorrect(t *testing.T) {
	engine := NewEngine(nil)
	bp := twoByTwoBlueprint()

	report := engine.Score(bp, answerAll(bp, "right"), twoByTwoWeights(), validator.IsCorrect)

	assert.Equal(t, 8.0, report.TotalScore)
	assert.Equal(t, 100.0, report.PercentageScore)
	assert.Equal(t, 4, report.TotalQuestions)
	assert.Equal(t, 4, report.CorrectAnswers)
	assert.Equal(t, []domain.Category{"Numeric", "Verbal"}, report.Strengths)
	assert.Empty(t, report.Weaknesses)
}

func TestScore_OneOfFourCorrect(t *testing.T) {
	engine := NewEngine(nil)
	bp := twoByTwoBlueprint()

	answers := answerAll(bp, "wrong")
	answers["Verbal-0"] = domain.SubmittedAnswer{QuestionID: "Verbal-0", OptionID: "right"}

	report := engine.Score(bp, answers, twoByTwoWeights(), validator.IsCorrect)

	assert.Equal(t, 25.0, report.PercentageScore)
	assert.Equal(t, 2.0, report.TotalScore)

	// Verbal sits at 50%: neither a strength nor a weakness.
	verbal := report.Categories["Verbal"]
	assert.Equal(t, 50.0, verbal.Percentage)
	assert.NotContains(t, report.Strengths, "Verbal")
	assert.NotContains(t, report.Weaknesses, "Verbal")

	numeric := report.Categories["Numeric"]
	assert.Equal(t, 0.0, numeric.Percentage)
	assert.Contains(t, report.Weaknesses, "Numeric")
}

func TestScore_UnansweredQuestionsAreIncorrectNotErrors(t *testing.T) {
	engine := NewEngine(nil)
	bp := twoByTwoBlueprint()

	report := engine.Score(bp, nil, twoByTwoWeights(), validator.IsCorrect)

	assert.Equal(t, 0.0, report.TotalScore)
	assert.Equal(t, 0.0, report.PercentageScore)
	assert.Equal(t, 4, report.TotalQuestions)
	assert.Equal(t, 0, report.CorrectAnswers)
	assert.Equal(t, []domain.Category{"Numeric", "Verbal"}, report.Weaknesses)
}

func TestScore_StrengthsAndWeaknessesDisjoint(t *testing.T) {
	engine := NewEngine(nil)
	bp := twoByTwoBlueprint()

	// Half right per category: both land in [50, 75) and in neither list.
	answers := map[string]domain.SubmittedAnswer{
		"Verbal-0":  {QuestionID: "Verbal-0", OptionID: "right"},
		"Numeric-0": {QuestionID: "Numeric-0", OptionID: "right"},
	}
	report := engine.Score(bp, answers, twoByTwoWeights(), validator.IsCorrect)

	assert.Empty(t, report.Strengths)
	assert.Empty(t, report.Weaknesses)
	for _, list := range [][]domain.Category{report.Strengths, report.Weaknesses} {
		for _, c := range list {
			assert.NotContains(t, report.Strengths, c, "category %s in both lists", c)
		}
	}
}

func TestScore_DeterministicForIdenticalInput(t *testing.T) {
	engine := NewEngine(nil)
	bp := twoByTwoBlueprint()
	answers := answerAll(bp, "right")
	weights := twoByTwoWeights()

	first := engine.Score(bp, answers, weights, validator.IsCorrect)
	second := engine.Score(bp, answers, weights, validator.IsCorrect)
	assert.Equal(t, first, second)
}

func TestScore_PercentagesStayInRange(t *testing.T) {
	engine := NewEngine(nil)
	bp := twoByTwoBlueprint()

	for _, answers := range []map[string]domain.SubmittedAnswer{
		nil,
		answerAll(bp, "right"),
		answerAll(bp, "wrong"),
		{"Verbal-1": {QuestionID: "Verbal-1", OptionID: "right"}},
	} {
		report := engine.Score(bp, answers, twoByTwoWeights(), validator.IsCorrect)
		assert.GreaterOrEqual(t, report.PercentageScore, 0.0)
		assert.LessOrEqual(t, report.PercentageScore, 100.0)
		for category, perf := range report.Categories {
			assert.GreaterOrEqual(t, perf.Percentage, 0.0, "category %s", category)
			assert.LessOrEqual(t, perf.Percentage, 100.0, "category %s", category)
		}
	}
}

func TestScore_MissingWeightEntryFallsBackToDefaults(t *testing.T) {
	engine := NewEngine(nil)
	bp := twoByTwoBlueprint()

	weights := domain.ScoreWeightConfig{
		Name: "verbal-only",
		Categories: map[domain.Category]domain.CategoryWeight{
			"Verbal": {BasePoints: 2, Multipliers: map[domain.Difficulty]float64{domain.DifficultyEasy: 1}},
		},
	}
	report := engine.Score(bp, answerAll(bp, "right"), weights, validator.IsCorrect)

	// Verbal 2x2=4, Numeric falls back to 1 point per question.
	assert.Equal(t, 6.0, report.TotalScore)
	assert.Equal(t, 100.0, report.PercentageScore)
}

func TestScore_DifficultyMultipliersApply(t *testing.T) {
	engine := NewEngine(nil)
	bp := domain.Blueprint{ID: "test-2"}
	for i, difficulty := range []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyHard} {
		bp.Questions = append(bp.Questions, domain.Question{
			ID:         fmt.Sprintf("q-%d", i),
			Category:   "Numeric",
			Difficulty: difficulty,
			Kind:       domain.KindChoice,
			Active:     true,
			Choice:     &domain.ChoicePayload{Options: []domain.Option{{ID: "right", Correct: true}}},
		})
	}
	weights := domain.ScoreWeightConfig{
		Categories: map[domain.Category]domain.CategoryWeight{
			"Numeric": {BasePoints: 2, Multipliers: map[domain.Difficulty]float64{
				domain.DifficultyEasy: 1,
				domain.DifficultyHard: 2.5,
			}},
		},
	}

	report := engine.Score(bp, answerAll(bp, "right"), weights, validator.IsCorrect)
	assert.Equal(t, 2.0+5.0, report.TotalScore)
}

func TestScore_DistractionInterstitialsExcluded(t *testing.T) {
	engine := NewEngine(nil)
	bp := twoByTwoBlueprint()
	bp.Questions = append(bp.Questions, domain.Question{
		ID:          "filler-1",
		Category:    "Memory",
		Kind:        domain.KindDistraction,
		Active:      true,
		Distraction: &domain.DistractionPayload{Prompt: "Count backwards from 20", DisplaySeconds: 10},
	})

	report := engine.Score(bp, answerAll(bp, "right"), twoByTwoWeights(), validator.IsCorrect)

	assert.Equal(t, 4, report.TotalQuestions)
	assert.Equal(t, 100.0, report.PercentageScore)
	require.NotContains(t, report.Categories, "Memory")
}
