package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"psychoprep-engine/internal/app"
	"psychoprep-engine/internal/blueprint"
	"psychoprep-engine/internal/config"
	"psychoprep-engine/internal/domain"
	"psychoprep-engine/internal/infra/memory"
	pginfra "psychoprep-engine/internal/infra/postgres"
	redisinfra "psychoprep-engine/internal/infra/redis"
	"psychoprep-engine/internal/logger"
	transport "psychoprep-engine/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the test engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pginfra.NewQuestionLoader(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var bank blueprint.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewQuestionBank(redisClient, loader, questionTTL)
	} else {
		bank = memory.NewQuestionBank(loader, questionTTL)
	}

	var sink app.ReportSink
	switch {
	case pool != nil:
		sink = pginfra.NewReportStore(pool)
	case redisClient != nil:
		sink = redisinfra.NewReportStore(redisClient, redisTTL)
	default:
		sink = memory.NewReportStore()
	}

	// Live sessions carry running timers and stay in-process.
	sessions := memory.NewSessionStore()

	service := app.NewTestService(bank, sessions, sink, app.Options{
		FeedbackEnabled: cfg.Engine.Feedback,
		TickInterval:    config.Duration(cfg.Engine.TickInterval, time.Second),
		PersistTimeout:  config.Duration(cfg.Engine.PersistTimeout, 10*time.Second),
		WeightTables:    cfg.WeightTables(),
	}, log)
	wsHandler := transport.NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting test engine", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions seeds a small demo pool; production deployments point the
// loader at Postgres instead.
func sampleQuestions() map[domain.Category][]domain.Question {
	return map[domain.Category][]domain.Question{
		"Numeric": {
			{ID: "num-1", Category: "Numeric", Difficulty: domain.DifficultyEasy, Kind: domain.KindChoice, Active: true,
				Prompt: "What is 12 x 12?",
				Choice: &domain.ChoicePayload{Options: []domain.Option{
					{ID: "o1", Text: "124"},
					{ID: "o2", Text: "144", Correct: true},
					{ID: "o3", Text: "154"},
				}}},
			{ID: "num-2", Category: "Numeric", Difficulty: domain.DifficultyMedium, Kind: domain.KindSequence, Active: true,
				Prompt:   "Complete the sequence",
				Sequence: &domain.SequencePayload{Terms: []string{"2", "6", "18", "54"}, Expected: "162"}},
		},
		"Memory": {
			{ID: "mem-1", Category: "Memory", Difficulty: domain.DifficultyHard, Kind: domain.KindMemorize, Active: true,
				Memorize: &domain.MemorizePayload{
					Images:          []string{"apple.png", "train.png", "clock.png"},
					TargetIndex:     2,
					RecallPrompt:    "Which image showed a clock?",
					MemorizeSeconds: 10,
					Distraction:     &domain.DistractionPayload{Prompt: "Count down from 20 in threes", DisplaySeconds: 8},
				}},
		},
	}
}
