package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"psychoprep-engine/internal/domain"
)

// QuestionLoader fetches question pools from a backing store (e.g. the
// document DB the content admins write to).
type QuestionLoader interface {
	LoadCategory(ctx context.Context, category domain.Category) ([]domain.Question, error)
}

// QuestionBank caches per-category pools with TTL to avoid repeated store
// hits during blueprint generation.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[domain.Category]cachedPool
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[domain.Category]cachedPool),
	}
}

// FetchByCategory returns the active questions of a category, serving from
// cache when fresh.
func (b *QuestionBank) FetchByCategory(ctx context.Context, category domain.Category) ([]domain.Question, error) {
	now := b.clock()

	b.mu.RLock()
	if entry, ok := b.cache[category]; ok && entry.expiresAt.After(now) {
		b.mu.RUnlock()
		return entry.questions, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do(category, func() (interface{}, error) {
		now := b.clock()
		b.mu.RLock()
		if entry, ok := b.cache[category]; ok && entry.expiresAt.After(now) {
			b.mu.RUnlock()
			return entry.questions, nil
		}
		b.mu.RUnlock()

		pool, err := b.loader.LoadCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		pool = activeOnly(pool)

		b.mu.Lock()
		b.cache[category] = cachedPool{
			questions: pool,
			expiresAt: now.Add(b.ttlWithJitter()),
		}
		b.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves a fixed in-memory pool (tests/demos).
type StaticQuestionLoader struct {
	pools map[domain.Category][]domain.Question
}

func NewStaticQuestionLoader(pools map[domain.Category][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{pools: pools}
}

func (l *StaticQuestionLoader) LoadCategory(_ context.Context, category domain.Category) ([]domain.Question, error) {
	if pool, ok := l.pools[category]; ok {
		return pool, nil
	}
	return nil, nil // unknown category reads as empty, generation skips it
}

func activeOnly(pool []domain.Question) []domain.Question {
	out := make([]domain.Question, 0, len(pool))
	for _, q := range pool {
		if q.Active {
			out = append(out, q)
		}
	}
	return out
}
