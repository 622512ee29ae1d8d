package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aimd54/lingo-progression/internal/models"
)

// setupTestDB creates a named shared-cache in-memory SQLite database so
// concurrent goroutines in one test see the same data.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	wrapped := &DB{db}
	if err := wrapped.AutoMigrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return wrapped
}

// createTestLearner inserts a learner with full hearts.
func createTestLearner(t *testing.T, db *DB, externalID string) *models.Learner {
	t.Helper()

	learner := &models.Learner{ExternalID: externalID, Hearts: 5}
	if err := db.Create(learner).Error; err != nil {
		t.Fatalf("Failed to create test learner: %v", err)
	}
	return learner
}

func createTestAchievement(t *testing.T, db *DB, code string, reward int64) *models.AchievementDefinition {
	t.Helper()

	def := &models.AchievementDefinition{
		Code:     code,
		Name:     code,
		Criteria: models.Criteria{Kind: models.CriteriaStreak, Threshold: 7},
		XPReward: reward,
		IsActive: true,
	}
	if err := db.Create(def).Error; err != nil {
		t.Fatalf("Failed to create test achievement: %v", err)
	}
	return def
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
