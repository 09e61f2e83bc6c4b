package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

const createQuestionsSQL = `
CREATE TABLE IF NOT EXISTS questions (
    id       TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    active   BOOLEAN NOT NULL DEFAULT TRUE,
    data     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS questions_category_idx ON questions (category) WHERE active;
`

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createQuestionsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`DROP TABLE IF EXISTS questions`)
			return err
		},
	)
}
