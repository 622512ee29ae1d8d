package achievements

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/aimd54/lingo-progression/internal/models"
)

// ExpressionEvaluator compiles and runs CEL criteria. Expressions see:
//
//	learner  map of the learner aggregate (total_xp, current_streak, ...)
//	trigger  the trigger name
//	data     the trigger payload
//
// Compiled programs are cached by source text.
type ExpressionEvaluator struct {
	env      *cel.Env
	envErr   error
	programs sync.Map // string -> cel.Program
}

// NewExpressionEvaluator builds the CEL environment.
func NewExpressionEvaluator() *ExpressionEvaluator {
	env, err := cel.NewEnv(
		cel.Variable("learner", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("trigger", cel.StringType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	return &ExpressionEvaluator{env: env, envErr: err}
}

// Compile parses and checks expr, caching the program.
func (e *ExpressionEvaluator) Compile(expr string) (cel.Program, error) {
	if e.envErr != nil {
		return nil, fmt.Errorf("cel environment unavailable: %w", e.envErr)
	}
	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid criteria expression %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", expr, err)
	}

	e.programs.Store(expr, prg)
	return prg, nil
}

// Evaluate runs expr against in. Non-boolean results are errors.
func (e *ExpressionEvaluator) Evaluate(expr string, in Input) (bool, error) {
	prg, err := e.Compile(expr)
	if err != nil {
		return false, err
	}

	data := in.Context.Data
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"learner": learnerVars(in.Learner),
		"trigger": string(in.Context.Trigger),
		"data":    data,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate %q: %w", expr, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("criteria expression %q returned %T, want bool", expr, out.Value())
	}
	return result, nil
}

func learnerVars(l *models.Learner) map[string]any {
	return map[string]any{
		"id":                  int64(l.ID),
		"total_xp":            l.TotalXP,
		"hearts":              int64(l.Hearts),
		"current_streak":      int64(l.CurrentStreak),
		"longest_streak":      int64(l.LongestStreak),
		"lessons_completed":   int64(l.LessonsCompleted),
		"perfect_lessons":     int64(l.PerfectLessons),
		"exercises_completed": int64(l.ExercisesCompleted),
	}
}
