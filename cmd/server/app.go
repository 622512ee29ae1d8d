package main

import (
	"context"
	"fmt"

	"github.com/aimd54/lingo-progression/internal/cache"
	"github.com/aimd54/lingo-progression/internal/config"
	"github.com/aimd54/lingo-progression/internal/repository"
	"github.com/aimd54/lingo-progression/internal/service/achievements"
	"github.com/aimd54/lingo-progression/internal/service/hearts"
	"github.com/aimd54/lingo-progression/internal/service/leaderboard"
	"github.com/aimd54/lingo-progression/internal/service/progress"
	"github.com/aimd54/lingo-progression/internal/service/reconcile"
	"github.com/aimd54/lingo-progression/internal/service/srs"
	"github.com/aimd54/lingo-progression/internal/service/xp"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *repository.DB
	redis *cache.Redis

	learners *repository.LearnerRepository

	ledger       *xp.Ledger
	hearts       *hearts.Service
	achievements *achievements.Service
	leaderboard  *leaderboard.Service
	reviews      *srs.Service
	progress     *progress.Service
	reconcile    *reconcile.Service
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)

	db, err := repository.NewDB(&cfg.Database, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db}

	// Redis is optional; without it locking is process-local and reads are uncached.
	var c cache.Cache
	if cfg.Database.Redis.Host != "" {
		redisClient, err := cache.New(&cfg.Database.Redis)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = redisClient
		c = redisClient
		log.Info().Str("addr", cfg.Database.Redis.Addr()).Msg("Connected to Redis")
	} else {
		log.Warn().Msg("Redis not configured, using in-process leaderboard locks")
	}

	loc, err := cfg.Leaderboard.Location()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("invalid leaderboard timezone: %w", err)
	}

	a.learners = repository.NewLearnerRepository(db)
	xpRepo := repository.NewXPRepository(db)

	a.ledger = xp.NewLedger(xpRepo, log.Component("xp"))
	a.hearts = hearts.NewService(a.learners, &cfg.Hearts, log.Component("hearts"))
	a.achievements = achievements.NewService(
		repository.NewAchievementRepository(db), a.learners, achievements.NewRegistry(), log.Component("achievements"))

	a.leaderboard, err = leaderboard.NewService(
		repository.NewLeaderboardRepository(db), c, &cfg.Leaderboard, log.Component("leaderboard"))
	if err != nil {
		a.close()
		return nil, err
	}

	a.reviews = srs.NewService(repository.NewReviewStateRepository(db), a.learners, &cfg.SRS, log.Component("srs"))
	a.progress = progress.NewService(
		a.ledger, a.leaderboard, a.achievements, a.hearts, a.learners, &cfg.Progress, loc, log.Component("progress"))
	a.reconcile = reconcile.NewService(xpRepo, a.learners, log.Component("reconcile"))

	return a, nil
}

// migrate brings the schema up to date: versioned migrations on Postgres,
// AutoMigrate on SQLite.
func (a *app) migrate() error {
	if a.cfg.Database.Driver == "sqlite" {
		if err := a.db.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to auto-migrate sqlite schema: %w", err)
		}
		a.log.Info().Msg("SQLite schema migrated")
		return nil
	}
	return repository.Migrate(a.cfg.Database.Postgres.URL(), a.log)
}

// syncCatalog loads the YAML catalog into the store. A missing path is a no-op.
func (a *app) syncCatalog(ctx context.Context) error {
	path := a.cfg.Achievements.CatalogPath
	if path == "" {
		a.log.Warn().Msg("No achievement catalog configured, skipping sync")
		return nil
	}

	defs, err := achievements.LoadCatalog(path)
	if err != nil {
		return err
	}

	report, err := a.achievements.SyncCatalog(ctx, defs)
	if err != nil {
		return fmt.Errorf("failed to sync achievement catalog: %w", err)
	}

	a.log.Info().
		Str("path", path).
		Int("upserted", report.Upserted).
		Int64("deactivated", report.Deactivated).
		Msg("Achievement catalog synced")
	return nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close Redis")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
