package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"post-curator/internal/calibration"
	"post-curator/internal/config"
	"post-curator/internal/judge"
	"post-curator/internal/llm"
	"post-curator/internal/metrics"
	"post-curator/internal/prompt"
	"post-curator/internal/repository"
	"post-curator/internal/service"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *sqlx.DB
	posts       repository.PostRepository
	settings    repository.ConfigRepository
	calibration *calibration.Aggregator
	metrics     *metrics.Metrics
	oracle      llm.Oracle
	persona     *prompt.FileInstruction
	curator     *service.Curator
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}

	zc := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zc.Level = level
	return zc.Build()
}

// openStore connects and migrates the decision store.
func openStore(cfg *config.Config, logger *zap.Logger) (*sqlx.DB, error) {
	if cfg.Database.Type == repository.TypeSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := repository.Open(cfg.Database.Type, cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := repository.MigrateDB(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// newApp wires the store and, when withJudge is set, the judge pipeline.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, withJudge bool) (*app, error) {
	db, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		posts:    repository.NewPostRepository(db, logger),
		settings: repository.NewConfigRepository(db, logger),
		metrics:  metrics.New(),
	}
	a.calibration = calibration.NewAggregator(a.posts, logger)

	if !withJudge {
		return a, nil
	}
	if err := a.initJudge(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) initJudge(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Judge.Provider.APIKey == "" {
		return fmt.Errorf("judge API key not configured, set judge.provider.api_key in %s", configPath)
	}

	base, err := llm.NewOracle(ctx, cfg.Judge.Provider, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize judge provider: %w", err)
	}
	a.oracle = llm.NewRetryingOracle(base, llm.RetryConfig{
		MaxAttempts:  cfg.Judge.MaxAttempts,
		DefaultDelay: cfg.Judge.DefaultRetryDelay,
	}, a.logger, llm.WithRetryObserver(func(attempt int, delay time.Duration, err error) {
		a.metrics.JudgeRetry()
	}))

	a.persona, err = prompt.LoadFileInstruction(cfg.Judge.PersonaPath, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load persona: %w", err)
	}

	var quick judge.InstructionSource
	if cfg.Judge.QuickInstructionPath != "" {
		if quick, err = prompt.LoadFileInstruction(cfg.Judge.QuickInstructionPath, a.logger); err != nil {
			return fmt.Errorf("failed to load quick filter instruction: %w", err)
		}
	}

	j := judge.New(a.oracle, a.persona, quick, judge.Config{
		Model:                cfg.Judge.Provider.ModelName,
		ReasoningEffort:      cfg.Judge.ReasoningEffort,
		QuickModel:           cfg.Judge.QuickModel,
		QuickReasoningEffort: cfg.Judge.QuickReasoningEffort,
		MaxExamplesPerType:   cfg.Curation.MaxExamplesPerType,
		ExampleTextLimit:     cfg.Curation.ExampleTextLimit,
	}, a.metrics, a.logger)

	a.curator = service.NewCurator(a.posts, a.settings, a.calibration, j, a.metrics, service.Options{
		SelfUsername:   cfg.Curation.SelfUsername,
		ChainResponses: cfg.Judge.ChainResponses,
	}, a.logger)

	a.logger.Info("Judge ready",
		zap.String("provider", a.oracle.Name()),
		zap.String("model", cfg.Judge.Provider.ModelName),
		zap.Bool("chain_responses", cfg.Judge.ChainResponses))
	return nil
}

// reset wipes the store, or with conversationOnly just the stored judge
// conversation handle.
func (a *app) reset(ctx context.Context, conversationOnly bool) (string, error) {
	if conversationOnly {
		if err := a.settings.DeleteConfig(ctx, repository.KeyPreviousResponseID); err != nil {
			return "", err
		}
		return "conversation handle cleared", nil
	}
	if err := a.posts.Reset(ctx); err != nil {
		return "", err
	}
	return "store reset", nil
}

func (a *app) Close() {
	if a.oracle != nil {
		if err := a.oracle.Close(); err != nil {
			a.logger.Warn("Failed to close judge provider", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}
