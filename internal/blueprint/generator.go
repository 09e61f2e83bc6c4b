// Package blueprint assembles concrete test instances from a question pool
// under per-category quantity constraints.
package blueprint

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"psychoprep-engine/internal/domain"
)

// QuestionBank abstracts the question store. Implementations must return only
// active questions. Declared here, on the consumer side.
type QuestionBank interface {
	FetchByCategory(ctx context.Context, category domain.Category) ([]domain.Question, error)
}

// CategoryRequest asks for between Min and Max questions of one category.
// Desired is the preferred count; zero means "as many as Max allows".
type CategoryRequest struct {
	Category domain.Category `yaml:"category" json:"category"`
	Min      int             `yaml:"min" json:"min"`
	Max      int             `yaml:"max" json:"max"`
	Desired  int             `yaml:"desired,omitempty" json:"desired,omitempty"`
}

// Config is consumed once per generation. Request order is presentation order.
type Config struct {
	Categories []CategoryRequest `yaml:"categories" json:"categories"`
	TimeLimit  time.Duration     `yaml:"time_limit" json:"timeLimit"`
	WeightName string            `yaml:"weight_name,omitempty" json:"weightName,omitempty"`
}

// Generator draws uniformly random question subsets from a bank.
type Generator struct {
	bank QuestionBank
	rng  *rand.Rand
	log  *zap.Logger
	now  func() time.Time
}

// NewGenerator seeds the generator's own rng so concurrent generations don't
// contend on the global source. Pass a nil logger to silence it.
func NewGenerator(bank QuestionBank, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		bank: bank,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		log:  log,
		now:  time.Now,
	}
}

// WithRand replaces the random source, for deterministic tests.
func (g *Generator) WithRand(rng *rand.Rand) *Generator {
	g.rng = rng
	return g
}

// WithClock replaces the creation-timestamp clock, for deterministic tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds an ordered blueprint. The overall time limit must be
// positive (domain.ErrInvalidTimeLimit). Categories with no eligible
// questions are skipped and recorded, not fatal; only a fully empty result
// is an error (domain.ErrEmptyBlueprint).
func (g *Generator) Generate(ctx context.Context, cfg Config) (domain.Blueprint, error) {
	if cfg.TimeLimit <= 0 {
		return domain.Blueprint{}, fmt.Errorf("%w: got %s", domain.ErrInvalidTimeLimit, cfg.TimeLimit)
	}

	bp := domain.Blueprint{
		ID:        uuid.NewString(),
		TimeLimit: cfg.TimeLimit,
		CreatedAt: g.now(),
	}

	for _, req := range cfg.Categories {
		pool, err := g.bank.FetchByCategory(ctx, req.Category)
		if err != nil {
			return domain.Blueprint{}, fmt.Errorf("fetch category %q: %w", req.Category, err)
		}
		pool = activeOnly(pool)
		if len(pool) == 0 {
			g.log.Warn("category has no eligible questions, skipping",
				zap.String("category", req.Category))
			bp.SkippedCategories = append(bp.SkippedCategories, req.Category)
			continue
		}

		n := pickCount(req, len(pool))
		selected := g.sample(pool, n)

		start := len(bp.Questions)
		bp.Questions = append(bp.Questions, selected...)
		bp.Blocks = append(bp.Blocks, domain.Block{
			Category: req.Category,
			Start:    start,
			End:      len(bp.Questions),
		})
	}

	if len(bp.Questions) == 0 {
		return domain.Blueprint{}, domain.ErrEmptyBlueprint
	}
	return bp, nil
}

// pickCount clamps the desired count into [max(min,1), min(max, available)].
func pickCount(req CategoryRequest, available int) int {
	lo := req.Min
	if lo < 1 {
		lo = 1
	}
	hi := req.Max
	if hi > available {
		hi = available
	}
	if hi < lo {
		// Fewer questions than the minimum: take everything there is.
		return available
	}

	n := req.Desired
	if n == 0 {
		n = req.Max
	}
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return n
}

// sample returns n questions drawn uniformly without replacement. A proper
// Fisher-Yates shuffle over a copy, then take-n: comparator-based
// pseudo-shuffles do not produce uniform permutations.
func (g *Generator) sample(pool []domain.Question, n int) []domain.Question {
	shuffled := make([]domain.Question, len(pool))
	copy(shuffled, pool)
	g.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

func activeOnly(pool []domain.Question) []domain.Question {
	out := pool[:0:0]
	for _, q := range pool {
		if q.Active {
			out = append(out, q)
		}
	}
	return out
}
