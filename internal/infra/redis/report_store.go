package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"psychoprep-engine/internal/domain"
)

// ReportStore keeps score reports in Redis with a TTL, keyed by blueprint id.
// It serves deployments where Postgres is absent and as a hot lookup layer in
// front of it.
// Reports are stored as: SET report:{testID} {json} EX {ttl}
// A per-user index is kept as: LPUSH report:user:{userID} {testID}
type ReportStore struct {
	client *redis.Client
	ttl    time.Duration
}

type storedReport struct {
	Report domain.ScoreReport `json:"report"`
	Meta   domain.SessionMeta `json:"meta"`
}

func NewReportStore(client *redis.Client, ttl time.Duration) *ReportStore {
	return &ReportStore{client: client, ttl: ttl}
}

func (s *ReportStore) SaveReport(ctx context.Context, report domain.ScoreReport, meta domain.SessionMeta) error {
	encoded, err := json.Marshal(storedReport{Report: report, Meta: meta})
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.reportKey(report.TestID), encoded, s.ttl)
	pipe.LPush(ctx, s.userKey(meta.UserID), report.TestID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.userKey(meta.UserID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// GetReport returns the report saved for a blueprint id.
func (s *ReportStore) GetReport(ctx context.Context, testID string) (domain.ScoreReport, domain.SessionMeta, error) {
	raw, err := s.client.Get(ctx, s.reportKey(testID)).Bytes()
	if err == redis.Nil {
		return domain.ScoreReport{}, domain.SessionMeta{}, domain.ErrReportNotFound
	}
	if err != nil {
		return domain.ScoreReport{}, domain.SessionMeta{}, fmt.Errorf("get report: %w", err)
	}
	var entry storedReport
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.ScoreReport{}, domain.SessionMeta{}, fmt.Errorf("decode report: %w", err)
	}
	return entry.Report, entry.Meta, nil
}

// RecentTestIDs returns the newest-first blueprint ids a user has completed.
func (s *ReportStore) RecentTestIDs(ctx context.Context, userID string, limit int64) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.userKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return ids, nil
}

func (s *ReportStore) reportKey(testID string) string {
	return "report:" + testID
}

func (s *ReportStore) userKey(userID string) string {
	return "report:user:" + userID
}
