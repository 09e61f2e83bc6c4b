package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"psychoprep-engine/internal/domain"
)

// ReportStore persists score reports to Postgres. The report body is kept as
// JSONB alongside the columns dashboards filter on.
type ReportStore struct {
	pool *pgxpool.Pool
}

func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

func (s *ReportStore) SaveReport(ctx context.Context, report domain.ScoreReport, meta domain.SessionMeta) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO reports (test_id, user_id, total_score, percentage_score, timed_out, time_spent_ms, completed_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (test_id) DO NOTHING`,
		report.TestID,
		meta.UserID,
		report.TotalScore,
		report.PercentageScore,
		meta.TimedOut,
		meta.TimeSpent.Milliseconds(),
		meta.CompletedAt,
		data,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// GetReport returns the stored report for a blueprint id.
func (s *ReportStore) GetReport(ctx context.Context, testID string) (domain.ScoreReport, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM reports WHERE test_id=$1`, testID).Scan(&raw)
	if err != nil {
		return domain.ScoreReport{}, domain.ErrReportNotFound
	}
	var report domain.ScoreReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return domain.ScoreReport{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
