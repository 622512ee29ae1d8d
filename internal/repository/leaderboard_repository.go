package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/lingo-progression/internal/models"
)

// rankOrder puts unranked placeholders after ranked rows.
const rankOrder = "CASE WHEN rank = 0 THEN 1 ELSE 0 END, rank ASC, xp DESC, id ASC"

// LeaderboardRepository handles leaderboard entry persistence.
type LeaderboardRepository struct {
	db *DB
}

// NewLeaderboardRepository creates a new leaderboard repository.
func NewLeaderboardRepository(db *DB) *LeaderboardRepository {
	return &LeaderboardRepository{db: db}
}

// Increment adds entry.XP to the learner's row in the entry's partition,
// creating it with rank 0 when absent.
func (r *LeaderboardRepository) Increment(ctx context.Context, entry *models.LeaderboardEntry) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "period"}, {Name: "period_start"}, {Name: "language_id"}, {Name: "learner_id"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"xp":         gorm.Expr("leaderboard_entries.xp + ?", entry.XP),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to increment leaderboard entry for learner %d: %w", entry.LearnerID, err)
	}
	return nil
}

func partitionScope(p models.Partition) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("period = ? AND period_start = ? AND language_id = ?", p.Period, p.PeriodStart.UTC(), p.LanguageID)
	}
}

// ListPartition returns every entry of the partition in id order.
func (r *LeaderboardRepository) ListPartition(ctx context.Context, p models.Partition) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	err := r.db.WithContext(ctx).
		Scopes(partitionScope(p)).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list partition %s: %w", p.Key(), err)
	}
	return entries, nil
}

// UpdateRanks writes entry id -> rank in a single transaction.
func (r *LeaderboardRepository) UpdateRanks(ctx context.Context, ranks map[uint]int) error {
	if len(ranks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, rank := range ranks {
			err := tx.Model(&models.LeaderboardEntry{}).
				Where("id = ?", id).
				Update("rank", rank).Error
			if err != nil {
				return fmt.Errorf("failed to update rank of entry %d: %w", id, err)
			}
		}
		return nil
	})
}

// Top returns up to limit entries of the partition ordered by rank.
func (r *LeaderboardRepository) Top(ctx context.Context, p models.Partition, limit int) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	err := r.db.WithContext(ctx).
		Scopes(partitionScope(p)).
		Order(rankOrder).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get top entries of %s: %w", p.Key(), err)
	}
	return entries, nil
}

// GetEntry returns the learner's entry in the partition.
func (r *LeaderboardRepository) GetEntry(ctx context.Context, p models.Partition, learnerID uint) (*models.LeaderboardEntry, error) {
	var entry models.LeaderboardEntry
	err := r.db.WithContext(ctx).
		Scopes(partitionScope(p)).
		Where("learner_id = ?", learnerID).
		First(&entry).Error
	if err != nil {
		return nil, notFound(err, "leaderboard entry for learner", learnerID)
	}
	return &entry, nil
}

// CountPartition returns the number of entries in the partition.
func (r *LeaderboardRepository) CountPartition(ctx context.Context, p models.Partition) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LeaderboardEntry{}).
		Scopes(partitionScope(p)).
		Count(&count).Error
	return count, err
}

// LanguageIDs returns the distinct language ids that have entries for the
// given period window, including 0 for the global partition.
func (r *LeaderboardRepository) LanguageIDs(ctx context.Context, period models.Period, periodStart time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.LeaderboardEntry{}).
		Where("period = ? AND period_start = ?", period, periodStart.UTC()).
		Distinct("language_id").
		Order("language_id ASC").
		Pluck("language_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list languages for %s: %w", period, err)
	}
	return ids, nil
}
