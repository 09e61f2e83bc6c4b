package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"psychoprep-engine/internal/app"
	"psychoprep-engine/internal/blueprint"
	"psychoprep-engine/internal/domain"
	"psychoprep-engine/internal/infra/memory"
	pginfra "psychoprep-engine/internal/infra/postgres"
	pgmigrations "psychoprep-engine/internal/infra/postgres/migrations"
	redisinfra "psychoprep-engine/internal/infra/redis"
)

// End to end: questions seeded in Postgres, pools cached in Redis, a full
// session driven through the service, and the report landing back in Postgres.
func TestAdministerTestEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestions(t, ctx, pgURL, seedPool())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	loader := pginfra.NewQuestionLoader(pool)
	bank := redisinfra.NewQuestionBank(redisClient, loader, 5*time.Minute)
	sink := pginfra.NewReportStore(pool)

	service := app.NewTestService(bank, memory.NewSessionStore(), sink, app.Options{
		TickInterval: 10 * time.Millisecond,
	}, zap.NewNop())

	ts, err := service.CreateSession(ctx, "u1", blueprint.Config{
		Categories: []blueprint.CategoryRequest{
			{Category: "Numeric", Min: 1, Max: 2, Desired: 2},
		},
		TimeLimit: time.Minute,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(ts.Blueprint.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(ts.Blueprint.Questions))
	}

	if _, err := service.Start(ctx, ts.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.ConfirmIntro(ts.ID); err != nil {
		t.Fatalf("confirm intro: %v", err)
	}

	for _, q := range ts.Blueprint.Questions {
		answer := domain.SubmittedAnswer{QuestionID: q.ID}
		switch q.Kind {
		case domain.KindChoice:
			answer.OptionID = q.Choice.CorrectOptionID()
		case domain.KindSequence:
			answer.Value = q.Sequence.Expected
		}
		if _, _, err := service.SubmitAnswer(ts.ID, answer); err != nil {
			t.Fatalf("submit %s: %v", q.ID, err)
		}
	}

	report, err := service.Report(ts.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.PercentageScore != 100 {
		t.Fatalf("expected perfect score, got %v", report.PercentageScore)
	}

	// The observer persisted synchronously; read it back from Postgres.
	stored, err := sink.GetReport(ctx, ts.Blueprint.ID)
	if err != nil {
		t.Fatalf("stored report: %v", err)
	}
	if stored.CorrectAnswers != 2 {
		t.Fatalf("expected 2 correct in stored report, got %d", stored.CorrectAnswers)
	}

	// A second generation serves the pool from the Redis cache.
	if _, err := service.CreateSession(ctx, "u2", blueprint.Config{
		Categories: []blueprint.CategoryRequest{{Category: "Numeric", Min: 1, Max: 2}},
		TimeLimit:  time.Minute,
	}); err != nil {
		t.Fatalf("second session: %v", err)
	}
	keys, err := redisClient.Keys(ctx, "questions:*").Result()
	if err != nil || len(keys) == 0 {
		t.Fatalf("expected cached pool in redis, keys=%v err=%v", keys, err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "engine", "POSTGRES_PASSWORD": "enginepass", "POSTGRES_DB": "enginedb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://engine:enginepass@%s:%s/enginedb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuestions(t *testing.T, ctx context.Context, dsn string, pool []domain.Question) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, q := range pool {
		data, err := json.Marshal(q)
		if err != nil {
			t.Fatalf("marshal question: %v", err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO questions (id, category, active, data) VALUES (?, ?, ?, ?::jsonb)
			 ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`,
			q.ID, q.Category, q.Active, string(data)); err != nil {
			t.Fatalf("insert question: %v", err)
		}
	}
}

func seedPool() []domain.Question {
	return []domain.Question{
		{ID: "num-1", Category: "Numeric", Difficulty: domain.DifficultyEasy, Kind: domain.KindChoice, Active: true,
			Prompt: "What is 7 x 8?",
			Choice: &domain.ChoicePayload{Options: []domain.Option{
				{ID: "o1", Text: "54"},
				{ID: "o2", Text: "56", Correct: true},
			}}},
		{ID: "num-2", Category: "Numeric", Difficulty: domain.DifficultyMedium, Kind: domain.KindSequence, Active: true,
			Prompt:   "Complete the sequence",
			Sequence: &domain.SequencePayload{Terms: []string{"1", "4", "9", "16"}, Expected: "25"}},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
