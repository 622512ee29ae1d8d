// Package leaderboard maintains per-period XP rankings.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/cache"
	"github.com/aimd54/lingo-progression/internal/config"
	prommetrics "github.com/aimd54/lingo-progression/internal/metrics"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/repository"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Rank modes.
const (
	ModeSync  = "sync"
	ModeBatch = "batch"
)

// Repository is the storage the leaderboard service needs.
type Repository interface {
	Increment(ctx context.Context, entry *models.LeaderboardEntry) error
	ListPartition(ctx context.Context, p models.Partition) ([]models.LeaderboardEntry, error)
	UpdateRanks(ctx context.Context, ranks map[uint]int) error
	Top(ctx context.Context, p models.Partition, limit int) ([]models.LeaderboardEntry, error)
	GetEntry(ctx context.Context, p models.Partition, learnerID uint) (*models.LeaderboardEntry, error)
	CountPartition(ctx context.Context, p models.Partition) (int64, error)
	LanguageIDs(ctx context.Context, period models.Period, periodStart time.Time) ([]uint, error)
}

// Options tune partitioning and ranking.
type Options struct {
	Location  *time.Location
	WeekStart time.Weekday
	Mode      string
	CacheTTL  time.Duration
}

// Service records XP into period partitions and keeps their ranks.
type Service struct {
	repo   Repository
	locker Locker
	cache  cache.Cache // optional
	opts   Options
	now    func() time.Time
	log    *logger.Logger
}

// NewService creates a leaderboard service from configuration. A nil cache
// leaves ranking serialized in-process and disables the read cache.
func NewService(repo *repository.LeaderboardRepository, c cache.Cache, cfg *config.LeaderboardConfig, log *logger.Logger) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid leaderboard timezone: %w", err)
	}
	weekStart, err := cfg.Weekday()
	if err != nil {
		return nil, err
	}

	var locker Locker = NewLocalLocker()
	if c != nil {
		locker = NewRedisLocker(c, cfg.LockTTL)
	}

	opts := Options{
		Location:  loc,
		WeekStart: weekStart,
		Mode:      cfg.RankMode,
		CacheTTL:  cfg.CacheTTL,
	}
	return NewServiceWithInterfaces(repo, locker, c, opts, log), nil
}

// NewServiceWithInterfaces creates a new leaderboard service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(repo Repository, locker Locker, c cache.Cache, opts Options, log *logger.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Mode == "" {
		opts.Mode = ModeSync
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Service{
		repo:   repo,
		locker: locker,
		cache:  c,
		opts:   opts,
		now:    time.Now,
		log:    log,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CurrentPartition returns the partition of period containing the current time.
func (s *Service) CurrentPartition(period models.Period, languageID uint) (models.Partition, time.Time, error) {
	start, end, err := PeriodBounds(period, s.now(), s.opts.Location, s.opts.WeekStart)
	if err != nil {
		return models.Partition{}, time.Time{}, apperror.Invalid("%v", err)
	}
	return models.Partition{Period: period, PeriodStart: start, LanguageID: languageID}, end, nil
}

// RecordXP adds xpEarned to the learner's current entry in every period,
// both globally and for languageID when it is set. In sync mode the
// touched partitions are re-ranked before returning.
func (s *Service) RecordXP(ctx context.Context, learnerID uint, xpEarned int64, languageID uint) error {
	if learnerID == 0 {
		return apperror.Invalid("learner id is required")
	}
	if xpEarned <= 0 {
		return apperror.Invalid("xp earned must be positive, got %d", xpEarned)
	}

	languages := []uint{0}
	if languageID != 0 {
		languages = append(languages, languageID)
	}

	now := s.now().UTC()
	var touched []models.Partition
	var errs []error

	for _, period := range models.Periods {
		start, end, err := PeriodBounds(period, now, s.opts.Location, s.opts.WeekStart)
		if err != nil {
			return err
		}
		for _, lang := range languages {
			entry := &models.LeaderboardEntry{
				Period:      period,
				PeriodStart: start,
				PeriodEnd:   end,
				LanguageID:  lang,
				LearnerID:   learnerID,
				XP:          xpEarned,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.repo.Increment(ctx, entry); err != nil {
				errs = append(errs, err)
				continue
			}
			touched = append(touched, models.Partition{Period: period, PeriodStart: start, LanguageID: lang})
		}
	}

	for _, p := range touched {
		s.invalidate(ctx, p)
	}

	if s.opts.Mode == ModeSync {
		for _, p := range touched {
			if _, err := s.RecalculateRanks(ctx, p.Period, p.PeriodStart, p.LanguageID); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to record xp for learner %d: %w", learnerID, err)
	}

	s.log.Debug().
		Uint("learner_id", learnerID).
		Int64("xp", xpEarned).
		Uint("language_id", languageID).
		Msg("Recorded leaderboard XP")

	return nil
}

// RecalculateRanks re-ranks one partition and returns how many ranks changed.
// Concurrent calls for the same partition are serialized.
func (s *Service) RecalculateRanks(ctx context.Context, period models.Period, periodStart time.Time, languageID uint) (int, error) {
	if !period.Valid() {
		return 0, apperror.Invalid("unknown period %q", period)
	}
	p := models.Partition{Period: period, PeriodStart: periodStart.UTC(), LanguageID: languageID}

	unlock, err := s.locker.Lock(ctx, p.Key())
	if err != nil {
		return 0, fmt.Errorf("failed to lock partition %s: %w", p.Key(), err)
	}
	defer unlock()

	started := time.Now()

	entries, err := s.repo.ListPartition(ctx, p)
	if err != nil {
		return 0, err
	}

	changed := AssignRanks(entries)
	if err := s.repo.UpdateRanks(ctx, changed); err != nil {
		return 0, fmt.Errorf("failed to write ranks for %s: %w", p.Key(), err)
	}

	prommetrics.ObserveRerank(string(period), time.Since(started).Seconds(), len(changed))
	if len(changed) > 0 {
		s.invalidate(ctx, p)
	}

	return len(changed), nil
}

// RecalculateCurrent re-ranks every partition of the current and previous
// window of each period. The previous window is included so a window that
// closed between batch runs still ends with final ranks.
func (s *Service) RecalculateCurrent(ctx context.Context) (int, error) {
	now := s.now()
	partitions := 0
	var errs []error

	for _, period := range models.Periods {
		start, _, err := PeriodBounds(period, now, s.opts.Location, s.opts.WeekStart)
		if err != nil {
			return partitions, err
		}
		starts := []time.Time{start}
		if period != models.PeriodAllTime {
			prev, _, err := PeriodBounds(period, start.Add(-time.Nanosecond), s.opts.Location, s.opts.WeekStart)
			if err != nil {
				return partitions, err
			}
			starts = append(starts, prev)
		}

		for _, windowStart := range starts {
			langs, err := s.repo.LanguageIDs(ctx, period, windowStart)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for _, lang := range langs {
				if _, err := s.RecalculateRanks(ctx, period, windowStart, lang); err != nil {
					s.log.Error().
						Err(err).
						Str("period", string(period)).
						Time("period_start", windowStart).
						Uint("language_id", lang).
						Msg("Failed to re-rank partition")
					errs = append(errs, err)
					continue
				}
				partitions++
			}
		}
	}

	s.log.Info().Int("partitions", partitions).Msg("Leaderboard re-rank completed")

	return partitions, errors.Join(errs...)
}

// GetLeaderboard returns the top entries of the current period for
// languageID (0 for all languages), ordered by rank.
func (s *Service) GetLeaderboard(ctx context.Context, period models.Period, languageID uint, limit int) ([]models.LeaderboardEntry, error) {
	if !period.Valid() {
		return nil, apperror.Invalid("unknown period %q", period)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	p, _, err := s.CurrentPartition(period, languageID)
	if err != nil {
		return nil, err
	}

	if entries, ok := s.cached(ctx, p); ok {
		return truncate(entries, limit), nil
	}

	entries, err := s.repo.Top(ctx, p, maxLimit)
	if err != nil {
		return nil, err
	}
	s.store(ctx, p, entries)

	return truncate(entries, limit), nil
}

func truncate(entries []models.LeaderboardEntry, limit int) []models.LeaderboardEntry {
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

func cacheKey(p models.Partition) string {
	return "leaderboard:top:" + p.Key()
}

func (s *Service) cached(ctx context.Context, p models.Partition) ([]models.LeaderboardEntry, bool) {
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(p))
	if err != nil {
		s.log.Warn().Err(err).Str("partition", p.Key()).Msg("Leaderboard cache read failed")
		return nil, false
	}
	if raw == "" {
		return nil, false
	}
	var entries []models.LeaderboardEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (s *Service) store(ctx context.Context, p models.Partition, entries []models.LeaderboardEntry) {
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(p), string(data), s.opts.CacheTTL); err != nil {
		s.log.Warn().Err(err).Str("partition", p.Key()).Msg("Leaderboard cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, p models.Partition) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(p)); err != nil {
		s.log.Warn().Err(err).Str("partition", p.Key()).Msg("Leaderboard cache invalidation failed")
	}
}
