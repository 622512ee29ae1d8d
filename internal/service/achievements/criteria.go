package achievements

import (
	"context"
	"fmt"
	"sync"

	"github.com/aimd54/lingo-progression/internal/models"
)

// Context is the trigger that prompted a check and its free-form payload.
type Context struct {
	Trigger models.Trigger `json:"trigger"`
	Data    map[string]any `json:"data,omitempty"`
}

// Input is what a predicate sees: the learner's current aggregate and the
// triggering context.
type Input struct {
	Learner *models.Learner
	Context Context
}

// Predicate decides whether def is satisfied for in.
type Predicate func(ctx context.Context, in Input, def *models.AchievementDefinition) (bool, error)

// Registry maps achievement codes and criteria kinds to predicates. A code
// registration overrides the kind registration for that one achievement.
type Registry struct {
	mu     sync.RWMutex
	byCode map[string]Predicate
	byKind map[models.CriteriaKind]Predicate
}

// NewRegistry returns a registry with the built-in criteria kinds and the
// CEL-backed expression kind registered.
func NewRegistry() *Registry {
	r := &Registry{
		byCode: make(map[string]Predicate),
		byKind: make(map[models.CriteriaKind]Predicate),
	}

	r.RegisterKind(models.CriteriaFirstLesson, func(_ context.Context, in Input, _ *models.AchievementDefinition) (bool, error) {
		return in.Learner.LessonsCompleted >= 1, nil
	})
	r.RegisterKind(models.CriteriaLessonsCompleted, threshold(func(l *models.Learner) int64 { return int64(l.LessonsCompleted) }))
	r.RegisterKind(models.CriteriaPerfectLessons, threshold(func(l *models.Learner) int64 { return int64(l.PerfectLessons) }))
	r.RegisterKind(models.CriteriaStreak, threshold(func(l *models.Learner) int64 { return int64(l.CurrentStreak) }))
	r.RegisterKind(models.CriteriaTotalXP, threshold(func(l *models.Learner) int64 { return l.TotalXP }))

	expressions := NewExpressionEvaluator()
	r.RegisterKind(models.CriteriaExpression, func(_ context.Context, in Input, def *models.AchievementDefinition) (bool, error) {
		return expressions.Evaluate(def.Criteria.Expr, in)
	})

	return r
}

func threshold(value func(*models.Learner) int64) Predicate {
	return func(_ context.Context, in Input, def *models.AchievementDefinition) (bool, error) {
		if def.Criteria.Threshold <= 0 {
			return false, fmt.Errorf("achievement %s has non-positive threshold %d", def.Code, def.Criteria.Threshold)
		}
		return value(in.Learner) >= def.Criteria.Threshold, nil
	}
}

// Register binds a predicate to one achievement code.
func (r *Registry) Register(code string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode[code] = p
}

// RegisterKind binds a predicate to every achievement of a criteria kind.
func (r *Registry) RegisterKind(kind models.CriteriaKind, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = p
}

// Lookup returns the predicate for def, by code first and kind second.
func (r *Registry) Lookup(def *models.AchievementDefinition) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.byCode[def.Code]; ok {
		return p, true
	}
	p, ok := r.byKind[def.Criteria.Kind]
	return p, ok
}
