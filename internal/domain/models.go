package domain

import "time"

// Category tags a question with the aptitude domain it exercises
// (e.g. "Verbal", "Numeric", "Memory"). Categories are free-form strings
// owned by the question bank; the engine treats them as opaque keys.
type Category = string

// Difficulty levels recognised by the scoring weight tables.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// QuestionKind is a closed tagged variant. Adding a kind requires touching
// the validator and the session phase selector, both of which switch
// exhaustively on it.
type QuestionKind string

const (
	KindChoice      QuestionKind = "choice"      // plain multiple choice
	KindImage       QuestionKind = "image"       // multiple choice over images
	KindMemorize    QuestionKind = "memorize"    // memorize-then-recall pair
	KindSequence    QuestionKind = "sequence"    // complete the sequence
	KindDistraction QuestionKind = "distraction" // timed interstitial, never scored
	KindOpenText    QuestionKind = "open_text"   // free text, exact match
)

// Option is one selectable answer for choice and image questions.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Image   string `json:"image,omitempty"`
	Correct bool   `json:"correct"`
}

// ChoicePayload backs KindChoice and KindImage questions.
type ChoicePayload struct {
	Options []Option `json:"options"`
}

// CorrectOptionID returns the ID of the first option marked correct.
func (p ChoicePayload) CorrectOptionID() string {
	for _, opt := range p.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// MemorizePayload backs KindMemorize questions: an ordered image set is shown
// non-interactively for MemorizeSeconds, then re-displayed as answer options
// during recall. TargetIndex marks which image the recall prompt asks for.
// An optional embedded distraction interstitial runs between the two phases.
type MemorizePayload struct {
	Images          []string            `json:"images"`
	TargetIndex     int                 `json:"targetIndex"`
	RecallPrompt    string              `json:"recallPrompt"`
	MemorizeSeconds int                 `json:"memorizeSeconds"`
	Distraction     *DistractionPayload `json:"distraction,omitempty"`
}

// SequencePayload backs KindSequence questions. Expected is the exact
// next-in-sequence value; no partial credit.
type SequencePayload struct {
	Terms    []string `json:"terms"`
	Expected string   `json:"expected"`
}

// DistractionPayload is a short unrelated prompt shown for DisplaySeconds to
// create working-memory interference. Whatever the user answers is discarded.
type DistractionPayload struct {
	Prompt         string   `json:"prompt"`
	Options        []string `json:"options,omitempty"`
	DisplaySeconds int      `json:"displaySeconds"`
}

// OpenTextPayload backs KindOpenText questions. Matching is case-insensitive
// trimmed exact match; no fuzzy or semantic matching (known precision
// limitation, kept deliberately).
type OpenTextPayload struct {
	Expected string `json:"expected"`
}

// Question is one bank record. Exactly one payload field matching Kind is
// non-nil. Immutable once fetched for a session.
type Question struct {
	ID         string       `json:"id"`
	Category   Category     `json:"category"`
	Difficulty Difficulty   `json:"difficulty"`
	Kind       QuestionKind `json:"kind"`
	Prompt     string       `json:"prompt"`
	Active     bool         `json:"active"`

	Choice      *ChoicePayload      `json:"choice,omitempty"`
	Memorize    *MemorizePayload    `json:"memorize,omitempty"`
	Sequence    *SequencePayload    `json:"sequence,omitempty"`
	Distraction *DistractionPayload `json:"distraction,omitempty"`
	OpenText    *OpenTextPayload    `json:"openText,omitempty"`
}

// Scorable reports whether the question counts toward totals. Distraction
// interstitials are presented but never graded.
func (q Question) Scorable() bool {
	return q.Kind != KindDistraction
}

// Block groups the blueprint questions belonging to one category, in
// presentation order. Start/End index into Blueprint.Questions.
type Block struct {
	Category Category `json:"category"`
	Start    int      `json:"start"`
	End      int      `json:"end"` // exclusive
}

// Blueprint is a fully materialized, ordered test instance. Immutable after
// generation so a session can be replayed against it.
type Blueprint struct {
	ID                string        `json:"id"`
	Questions         []Question    `json:"questions"`
	Blocks            []Block       `json:"blocks"`
	TimeLimit         time.Duration `json:"timeLimit"`
	SkippedCategories []Category    `json:"skippedCategories,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// QuestionByID looks a blueprint question up by ID.
func (b Blueprint) QuestionByID(id string) (Question, bool) {
	for _, q := range b.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// SubmittedAnswer is one entry in a session's answer log. Exactly one of the
// value fields is meaningful, matching the question's kind: OptionID for
// choice/image, ImageIndex for memorize recall, Value for sequence and
// open text.
type SubmittedAnswer struct {
	QuestionID  string    `json:"questionId"`
	OptionID    string    `json:"optionId,omitempty"`
	ImageIndex  *int      `json:"imageIndex,omitempty"`
	Value       string    `json:"value,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// CategoryWeight configures scoring for one category.
type CategoryWeight struct {
	BasePoints  float64                `json:"basePoints"`
	Multipliers map[Difficulty]float64 `json:"multipliers"`
}

// ScoreWeightConfig maps categories to their weights. Categories without an
// entry fall back to basePoints=1, multiplier=1.
type ScoreWeightConfig struct {
	Name       string                      `json:"name,omitempty"`
	Categories map[Category]CategoryWeight `json:"categories"`
}

// CategoryPerformance aggregates correctness within one category. Percentage
// is recomputed from the counts, never accumulated incrementally.
type CategoryPerformance struct {
	CorrectAnswers int     `json:"correctAnswers"`
	TotalQuestions int     `json:"totalQuestions"`
	Score          float64 `json:"score"`
	Percentage     float64 `json:"percentage"`
}

// ScoreReport is the terminal grading artifact. TotalScore is the weighted
// sum; PercentageScore is unweighted correct/total*100. Both are preserved
// because downstream dashboards consume both.
type ScoreReport struct {
	TestID          string                           `json:"testId"`
	TotalScore      float64                          `json:"totalScore"`
	PercentageScore float64                          `json:"percentageScore"`
	TotalQuestions  int                              `json:"totalQuestions"`
	CorrectAnswers  int                              `json:"correctAnswers"`
	Categories      map[Category]CategoryPerformance `json:"categories"`
	Strengths       []Category                       `json:"strengths"`
	Weaknesses      []Category                       `json:"weaknesses"`
}

// SessionMeta travels with a ScoreReport to the result store.
type SessionMeta struct {
	UserID      string        `json:"userId"`
	TestID      string        `json:"testId"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	TimeSpent   time.Duration `json:"timeSpent"`
	TimedOut    bool          `json:"timedOut"`
}
