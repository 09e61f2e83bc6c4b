package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"psychoprep-engine/internal/domain"
	"psychoprep-engine/internal/infra/memory"
)

// QuestionBank caches per-category question pools in Redis as JSON and falls
// back to a loader on cache miss.
// Pools are stored as: SET questions:{category} {json array} EX {ttl}
type QuestionBank struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) FetchByCategory(ctx context.Context, category domain.Category) ([]domain.Question, error) {
	key := b.poolKey(category)

	raw, err := b.client.Get(ctx, key).Bytes()
	if err == nil {
		return decodePool(raw)
	}

	result, err, _ := b.sf.Do(category, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := b.client.Get(ctx, key).Bytes()
		if err == nil {
			return decodePoolIface(raw)
		}

		pool, err := b.loader.LoadCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		active := make([]domain.Question, 0, len(pool))
		for _, q := range pool {
			if q.Active {
				active = append(active, q)
			}
		}

		if encoded, err := json.Marshal(active); err == nil {
			// best-effort cache fill
			_ = b.client.Set(ctx, key, encoded, b.ttlWithJitter()).Err()
		}
		return active, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (b *QuestionBank) poolKey(category domain.Category) string {
	return "questions:" + category
}

func decodePool(raw []byte) ([]domain.Question, error) {
	var pool []domain.Question
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, fmt.Errorf("decode cached pool: %w", err)
	}
	return pool, nil
}

func decodePoolIface(raw []byte) (interface{}, error) {
	pool, err := decodePool(raw)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
