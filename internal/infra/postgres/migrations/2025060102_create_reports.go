package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

const createReportsSQL = `
CREATE TABLE IF NOT EXISTS reports (
    test_id          TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    total_score      DOUBLE PRECISION NOT NULL,
    percentage_score DOUBLE PRECISION NOT NULL,
    timed_out        BOOLEAN NOT NULL DEFAULT FALSE,
    time_spent_ms    BIGINT NOT NULL DEFAULT 0,
    completed_at     TIMESTAMPTZ,
    data             JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_user_idx ON reports (user_id, completed_at DESC);
`

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createReportsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`DROP TABLE IF EXISTS reports`)
			return err
		},
	)
}
