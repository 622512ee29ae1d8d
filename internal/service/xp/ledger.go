// Package xp provides the append-only XP ledger.
package xp

import (
	"context"
	"strings"

	"github.com/aimd54/lingo-progression/internal/apperror"
	prommetrics "github.com/aimd54/lingo-progression/internal/metrics"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/repository"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

const (
	maxSourceIDLength  = 64
	maxDedupKeyLength  = 128
	defaultHistorySize = 50
	maxHistorySize     = 1000
)

// Repository is the ledger storage.
type Repository interface {
	Append(ctx context.Context, event *models.XPEvent) (*models.XPEvent, bool, error)
	AppendWithProgress(ctx context.Context, event *models.XPEvent, delta *models.ProgressDelta) (*models.XPEvent, bool, error)
	History(ctx context.Context, learnerID uint, limit int) ([]models.XPEvent, error)
}

// AppendInput describes one scoring action. DedupKey is optional; a retry
// carrying the same key resolves to the originally recorded event. Progress,
// when set, is committed with the event or not at all.
type AppendInput struct {
	LearnerID   uint
	Amount      int64
	Source      models.XPSource
	SourceID    string
	Description string
	DedupKey    string
	Progress    *models.ProgressDelta
}

// Validate checks the input without touching storage.
func (in AppendInput) Validate() error {
	switch {
	case in.LearnerID == 0:
		return apperror.Invalid("learner id is required")
	case in.Amount == 0:
		return apperror.Invalid("amount must be non-zero")
	case !in.Source.Valid():
		return apperror.Invalid("unknown xp source %q", in.Source)
	case len(in.SourceID) > maxSourceIDLength:
		return apperror.Invalid("source id exceeds %d characters", maxSourceIDLength)
	case len(in.DedupKey) > maxDedupKeyLength:
		return apperror.Invalid("dedup key exceeds %d characters", maxDedupKeyLength)
	}
	return nil
}

// Ledger appends XP events and keeps the learner total in step.
type Ledger struct {
	repo Repository
	log  *logger.Logger
}

// NewLedger creates a new ledger.
func NewLedger(repo *repository.XPRepository, log *logger.Logger) *Ledger {
	return NewLedgerWithInterfaces(repo, log)
}

// NewLedgerWithInterfaces creates a new ledger with interface dependencies (useful for testing).
func NewLedgerWithInterfaces(repo Repository, log *logger.Logger) *Ledger {
	return &Ledger{repo: repo, log: log}
}

// AppendXP records an event and increments the learner's total atomically.
// Storage failures are returned; the caller must surface them.
func (l *Ledger) AppendXP(ctx context.Context, in AppendInput) (*models.XPEvent, error) {
	event, _, err := l.Append(ctx, in)
	return event, err
}

// Append is AppendXP that also reports whether a new event was written.
// created is false when DedupKey matched an earlier event.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (event *models.XPEvent, created bool, err error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}

	event = &models.XPEvent{
		LearnerID:   in.LearnerID,
		Amount:      in.Amount,
		Source:      in.Source,
		SourceID:    in.SourceID,
		Description: in.Description,
	}
	if key := strings.TrimSpace(in.DedupKey); key != "" {
		event.DedupKey = &key
	}

	var stored *models.XPEvent
	if in.Progress != nil {
		stored, created, err = l.repo.AppendWithProgress(ctx, event, in.Progress)
	} else {
		stored, created, err = l.repo.Append(ctx, event)
	}
	if err != nil {
		prommetrics.RecordXPEvent(string(in.Source), "failed", in.Amount)
		l.log.Error().
			Err(err).
			Uint("learner_id", in.LearnerID).
			Int64("amount", in.Amount).
			Str("source", string(in.Source)).
			Msg("Failed to append XP event")
		return nil, false, err
	}

	if !created {
		prommetrics.RecordXPEvent(string(in.Source), "deduplicated", in.Amount)
		l.log.Info().
			Uint("learner_id", in.LearnerID).
			Str("uid", stored.UID).
			Str("dedup_key", in.DedupKey).
			Msg("Duplicate XP request resolved to existing event")
		return stored, false, nil
	}

	prommetrics.RecordXPEvent(string(in.Source), "created", in.Amount)
	l.log.Debug().
		Uint("learner_id", in.LearnerID).
		Int64("amount", in.Amount).
		Str("source", string(in.Source)).
		Str("uid", stored.UID).
		Msg("XP appended")

	return stored, true, nil
}

// History returns the learner's latest events, newest first. limit is
// clamped to 1..1000 and defaults to 50.
func (l *Ledger) History(ctx context.Context, learnerID uint, limit int) ([]models.XPEvent, error) {
	if learnerID == 0 {
		return nil, apperror.Invalid("learner id is required")
	}
	if limit <= 0 {
		limit = defaultHistorySize
	}
	limit = min(limit, maxHistorySize)
	return l.repo.History(ctx, learnerID, limit)
}
