// Package repository provides data access layer using GORM for database operations.
package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/config"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// DB holds the database connection.
type DB struct {
	*gorm.DB
}

// NewDB opens the store selected by cfg.Driver.
func NewDB(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormLogLevel(log)),
		TranslateError: true,
	}

	switch cfg.Driver {
	case "sqlite":
		return openSQLite(cfg.SQLite.Path, gormConfig, log)
	case "postgres", "":
		return openPostgres(&cfg.Postgres, gormConfig, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openPostgres(cfg *config.PostgresConfig, gormConfig *gorm.Config, log *logger.Logger) (*DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to PostgreSQL")

	return &DB{db}, nil
}

func openSQLite(path string, gormConfig *gorm.Config, log *logger.Logger) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions serialized.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	log.Info().Str("path", path).Msg("Opened SQLite database")

	return &DB{db}, nil
}

func gormLogLevel(log *logger.Logger) gormlogger.LogLevel {
	if log.GetLogger().GetLevel() <= 0 {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

// AutoMigrate creates or updates tables for all models. Production Postgres
// deployments use the versioned migrations instead (see Migrate).
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&models.Learner{},
		&models.XPEvent{},
		&models.AchievementDefinition{},
		&models.AchievementUnlock{},
		&models.LeaderboardEntry{},
		&models.ReviewState{},
		&models.ActionReceipt{},
	)
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database is healthy.
func (db *DB) Health() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// learnerExists fails with apperror.ErrNotFound when the learner row is
// missing, so writes referencing it never reach a foreign key violation.
func learnerExists(tx *gorm.DB, id uint) error {
	var found struct{ ID uint }
	err := tx.Model(&models.Learner{}).Select("id").Where("id = ?", id).Take(&found).Error
	if err != nil {
		return notFound(err, "learner", id)
	}
	return nil
}

// wrapWrite maps a foreign key violation on a learner reference to NotFound.
func wrapWrite(err error, learnerID uint, format string, args ...any) error {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return apperror.NotFound("learner", learnerID)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// notFound converts gorm.ErrRecordNotFound into apperror.ErrNotFound.
func notFound(err error, kind string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(kind, id)
	}
	return fmt.Errorf("failed to get %s %v: %w", kind, id, err)
}
