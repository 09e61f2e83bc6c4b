package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psychoprep-engine/internal/domain"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	pools map[domain.Category][]domain.Question
	err   error
}

func (l *countingLoader) LoadCategory(_ context.Context, category domain.Category) ([]domain.Question, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.pools[category], nil
}

func (l *countingLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func verbalPool() []domain.Question {
	return []domain.Question{
		{ID: "v1", Category: "Verbal", Kind: domain.KindChoice, Active: true},
		{ID: "v2", Category: "Verbal", Kind: domain.KindChoice, Active: true},
		{ID: "v3", Category: "Verbal", Kind: domain.KindChoice, Active: false},
	}
}

func TestQuestionBank_CachesWithinTTL(t *testing.T) {
	loader := &countingLoader{pools: map[domain.Category][]domain.Question{"Verbal": verbalPool()}}
	bank := NewQuestionBank(loader, time.Minute)

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	bank.clock = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		qs, err := bank.FetchByCategory(context.Background(), "Verbal")
		require.NoError(t, err)
		assert.Len(t, qs, 2, "inactive questions are filtered out")
	}
	assert.Equal(t, 1, loader.callCount())
}

func TestQuestionBank_ReloadsAfterExpiry(t *testing.T) {
	loader := &countingLoader{pools: map[domain.Category][]domain.Question{"Verbal": verbalPool()}}
	bank := NewQuestionBank(loader, time.Minute)

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	bank.clock = func() time.Time { return now }

	_, err := bank.FetchByCategory(context.Background(), "Verbal")
	require.NoError(t, err)

	// Jitter extends the TTL by at most 10%, so two minutes is past it.
	now = now.Add(2 * time.Minute)
	_, err = bank.FetchByCategory(context.Background(), "Verbal")
	require.NoError(t, err)

	assert.Equal(t, 2, loader.callCount())
}

func TestQuestionBank_LoaderErrorIsNotCached(t *testing.T) {
	loader := &countingLoader{err: errors.New("store down")}
	bank := NewQuestionBank(loader, time.Minute)

	_, err := bank.FetchByCategory(context.Background(), "Verbal")
	require.Error(t, err)

	loader.mu.Lock()
	loader.err = nil
	loader.pools = map[domain.Category][]domain.Question{"Verbal": verbalPool()}
	loader.mu.Unlock()

	qs, err := bank.FetchByCategory(context.Background(), "Verbal")
	require.NoError(t, err)
	assert.Len(t, qs, 2)
}

func TestQuestionBank_ConcurrentFetchLoadsOnce(t *testing.T) {
	loader := &countingLoader{pools: map[domain.Category][]domain.Question{"Verbal": verbalPool()}}
	bank := NewQuestionBank(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bank.FetchByCategory(context.Background(), "Verbal")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, loader.callCount())
}

func TestStaticQuestionLoader_UnknownCategoryIsEmpty(t *testing.T) {
	loader := NewStaticQuestionLoader(nil)
	qs, err := loader.LoadCategory(context.Background(), "Spatial")
	require.NoError(t, err)
	assert.Empty(t, qs)
}
