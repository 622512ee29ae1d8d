// Package progress provides the REST API for learner progression: hearts,
// XP, achievements, leaderboards and review sessions.
package progress

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/service/achievements"
	"github.com/aimd54/lingo-progression/internal/service/hearts"
	"github.com/aimd54/lingo-progression/internal/service/leaderboard"
	progresssvc "github.com/aimd54/lingo-progression/internal/service/progress"
	"github.com/aimd54/lingo-progression/internal/service/srs"
	"github.com/aimd54/lingo-progression/internal/service/xp"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// IdempotencyHeader carries the client's dedup key for XP-earning requests.
const IdempotencyHeader = "Idempotency-Key"

// HeartsService interface for heart operations.
type HeartsService interface {
	ApplyRecovery(ctx context.Context, learnerID uint) (*hearts.Status, error)
	LoseHeart(ctx context.Context, learnerID uint) (*hearts.Status, error)
	GrantAdHeart(ctx context.Context, learnerID uint) (*hearts.Status, error)
}

// ProgressService interface for XP-earning actions.
type ProgressService interface {
	AwardXP(ctx context.Context, in progresssvc.AwardInput) (*progresssvc.AwardResult, error)
	CompleteLesson(ctx context.Context, in progresssvc.LessonInput) (*progresssvc.LessonResult, error)
	CompleteExercise(ctx context.Context, in progresssvc.ExerciseInput) (*progresssvc.ExerciseResult, error)
}

// LedgerService interface for XP history.
type LedgerService interface {
	History(ctx context.Context, learnerID uint, limit int) ([]models.XPEvent, error)
}

// AchievementService interface for achievement operations.
type AchievementService interface {
	CheckAndUnlock(ctx context.Context, learnerID uint, c achievements.Context) ([]achievements.UnlockResult, error)
	ListUnlocked(ctx context.Context, learnerID uint) ([]models.AchievementUnlock, error)
	ListActive(ctx context.Context) ([]models.AchievementDefinition, error)
}

// LeaderboardService interface for leaderboard reads.
type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, period models.Period, languageID uint, limit int) ([]models.LeaderboardEntry, error)
	GetLearnerPosition(ctx context.Context, learnerID uint, period models.Period, languageID uint) (*leaderboard.Position, error)
}

// ReviewService interface for review sessions.
type ReviewService interface {
	SubmitReview(ctx context.Context, learnerID, cardID uint, quality int) (*models.ReviewState, error)
	DueCards(ctx context.Context, learnerID uint, limit int) ([]models.ReviewState, error)
	NextDueCard(ctx context.Context, learnerID uint) (*models.ReviewState, error)
}

// Handler handles progression API requests.
type Handler struct {
	hearts       HeartsService
	progress     ProgressService
	ledger       LedgerService
	achievements AchievementService
	leaderboard  LeaderboardService
	reviews      ReviewService
	log          *logger.Logger
}

// NewHandler creates a new progression handler.
func NewHandler(
	heartsSvc *hearts.Service,
	progress *progresssvc.Service,
	ledger *xp.Ledger,
	achievementSvc *achievements.Service,
	board *leaderboard.Service,
	reviews *srs.Service,
	log *logger.Logger,
) *Handler {
	return NewHandlerWithInterfaces(heartsSvc, progress, ledger, achievementSvc, board, reviews, log)
}

// NewHandlerWithInterfaces creates a new progression handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(
	heartsSvc HeartsService,
	progress ProgressService,
	ledger LedgerService,
	achievementSvc AchievementService,
	board LeaderboardService,
	reviews ReviewService,
	log *logger.Logger,
) *Handler {
	return &Handler{
		hearts:       heartsSvc,
		progress:     progress,
		ledger:       ledger,
		achievements: achievementSvc,
		leaderboard:  board,
		reviews:      reviews,
		log:          log,
	}
}

// RegisterRoutes mounts the API on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/achievements", h.GetAchievementCatalog)
	rg.GET("/leaderboard", h.GetLeaderboard)

	learners := rg.Group("/learners/:id")
	learners.GET("/hearts", h.GetHearts)
	learners.POST("/hearts/lose", h.LoseHeart)
	learners.POST("/hearts/ad", h.GrantAdHeart)

	learners.POST("/xp", h.AwardXP)
	learners.GET("/xp/history", h.GetXPHistory)

	learners.GET("/achievements", h.GetLearnerAchievements)
	learners.POST("/achievements/check", h.CheckAchievements)

	learners.GET("/leaderboard", h.GetLearnerPosition)

	learners.POST("/lessons/complete", h.CompleteLesson)
	learners.POST("/exercises/complete", h.CompleteExercise)

	learners.GET("/reviews/next", h.GetNextReview)
	learners.GET("/reviews/due", h.GetDueReviews)
	learners.POST("/reviews", h.SubmitReview)
}

// GetHearts applies pending regeneration and returns the heart status.
// GET /api/v1/learners/:id/hearts.
func (h *Handler) GetHearts(c *gin.Context) {
	h.heartsAction(c, h.hearts.ApplyRecovery)
}

// LoseHeart consumes one heart.
// POST /api/v1/learners/:id/hearts/lose.
func (h *Handler) LoseHeart(c *gin.Context) {
	h.heartsAction(c, h.hearts.LoseHeart)
}

// GrantAdHeart grants one heart for a watched ad.
// POST /api/v1/learners/:id/hearts/ad.
func (h *Handler) GrantAdHeart(c *gin.Context) {
	h.heartsAction(c, h.hearts.GrantAdHeart)
}

func (h *Handler) heartsAction(c *gin.Context, fn func(context.Context, uint) (*hearts.Status, error)) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	status, err := fn(c.Request.Context(), learnerID)
	if err != nil {
		h.handleError(c, err, "Failed to update hearts", learnerID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hearts":       status,
		"generated_at": time.Now().UTC(),
	})
}

type awardRequest struct {
	Amount      int64           `json:"amount" binding:"required"`
	Source      models.XPSource `json:"source" binding:"required"`
	SourceID    string          `json:"source_id"`
	Description string          `json:"description"`
	LanguageID  uint            `json:"language_id"`
}

// AwardXP appends an XP event. Replays with the same Idempotency-Key
// return the original event with 200 instead of 201.
// POST /api/v1/learners/:id/xp.
func (h *Handler) AwardXP(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var req awardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	res, err := h.progress.AwardXP(c.Request.Context(), progresssvc.AwardInput{
		LearnerID:   learnerID,
		Amount:      req.Amount,
		Source:      req.Source,
		SourceID:    req.SourceID,
		Description: req.Description,
		DedupKey:    c.GetHeader(IdempotencyHeader),
		LanguageID:  req.LanguageID,
	})
	if err != nil {
		h.handleError(c, err, "Failed to award XP", learnerID)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GetXPHistory returns the learner's latest XP events.
// GET /api/v1/learners/:id/xp/history?limit=50.
func (h *Handler) GetXPHistory(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := h.parseLimit(c, 50, 1000)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.ledger.History(c.Request.Context(), learnerID, limit)
	if err != nil {
		h.handleError(c, err, "Failed to retrieve XP history", learnerID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"learner_id":   learnerID,
		"events":       events,
		"total_events": len(events),
		"generated_at": time.Now().UTC(),
	})
}

// GetAchievementCatalog returns all active achievements.
// GET /api/v1/achievements.
func (h *Handler) GetAchievementCatalog(c *gin.Context) {
	defs, err := h.achievements.ListActive(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get achievement catalog")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to retrieve achievement catalog")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"achievements":       defs,
		"total_achievements": len(defs),
		"generated_at":       time.Now().UTC(),
	})
}

// GetLearnerAchievements returns a learner's unlocked achievements.
// GET /api/v1/learners/:id/achievements.
func (h *Handler) GetLearnerAchievements(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	unlocks, err := h.achievements.ListUnlocked(c.Request.Context(), learnerID)
	if err != nil {
		h.handleError(c, err, "Failed to retrieve achievements", learnerID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"learner_id":   learnerID,
		"achievements": unlocks,
		"total":        len(unlocks),
		"generated_at": time.Now().UTC(),
	})
}

type checkRequest struct {
	Trigger models.Trigger `json:"trigger" binding:"required"`
	Data    map[string]any `json:"data"`
}

// CheckAchievements evaluates achievements for a trigger and returns the
// newly unlocked ones.
// POST /api/v1/learners/:id/achievements/check.
func (h *Handler) CheckAchievements(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	unlocked, err := h.achievements.CheckAndUnlock(c.Request.Context(), learnerID, achievements.Context{
		Trigger: req.Trigger,
		Data:    req.Data,
	})
	if err != nil {
		h.handleError(c, err, "Failed to check achievements", learnerID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"learner_id": learnerID,
		"unlocked":   nonNil(unlocked),
	})
}

// GetLeaderboard returns the current leaderboard of a period.
// GET /api/v1/leaderboard?period=weekly&language_id=3&limit=10.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	period, err := h.parsePeriod(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	languageID, err := h.parseLanguageID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := h.parseLimit(c, 10, 100)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.leaderboard.GetLeaderboard(c.Request.Context(), period, languageID, limit)
	if err != nil {
		h.handleError(c, err, "Failed to retrieve leaderboard", 0)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaderboard":   entries,
		"period":        period,
		"language_id":   languageID,
		"total_entries": len(entries),
		"generated_at":  time.Now().UTC(),
	})
}

// GetLearnerPosition returns a learner's standing in the current period.
// GET /api/v1/learners/:id/leaderboard?period=weekly&language_id=3.
func (h *Handler) GetLearnerPosition(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	period, err := h.parsePeriod(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	languageID, err := h.parseLanguageID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.leaderboard.GetLearnerPosition(c.Request.Context(), learnerID, period, languageID)
	if err != nil {
		h.handleError(c, err, "Failed to retrieve leaderboard position", learnerID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"position":     pos,
		"generated_at": time.Now().UTC(),
	})
}

type lessonRequest struct {
	LessonID   string   `json:"lesson_id"`
	LanguageID uint     `json:"language_id"`
	Accuracy   *float64 `json:"accuracy" binding:"required"`
}

// CompleteLesson credits a finished lesson.
// POST /api/v1/learners/:id/lessons/complete.
func (h *Handler) CompleteLesson(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var req lessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	res, err := h.progress.CompleteLesson(c.Request.Context(), progresssvc.LessonInput{
		LearnerID:  learnerID,
		LessonID:   req.LessonID,
		LanguageID: req.LanguageID,
		Accuracy:   *req.Accuracy,
		DedupKey:   c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		h.handleError(c, err, "Failed to complete lesson", learnerID)
		return
	}

	c.JSON(http.StatusOK, res)
}

type exerciseRequest struct {
	ExerciseID string `json:"exercise_id"`
	LanguageID uint   `json:"language_id"`
	Correct    bool   `json:"correct"`
	XP         int64  `json:"xp"`
}

// CompleteExercise records an answered exercise.
// POST /api/v1/learners/:id/exercises/complete.
func (h *Handler) CompleteExercise(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var req exerciseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	res, err := h.progress.CompleteExercise(c.Request.Context(), progresssvc.ExerciseInput{
		LearnerID:  learnerID,
		ExerciseID: req.ExerciseID,
		LanguageID: req.LanguageID,
		Correct:    req.Correct,
		XP:         req.XP,
		DedupKey:   c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		h.handleError(c, err, "Failed to complete exercise", learnerID)
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetNextReview serves the next due card, or 204 when nothing is due.
// GET /api/v1/learners/:id/reviews/next.
func (h *Handler) GetNextReview(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	card, err := h.reviews.NextDueCard(c.Request.Context(), learnerID)
	if err != nil {
		h.handleError(c, err, "Failed to retrieve next review", learnerID)
		return
	}
	if card == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, gin.H{"card": card})
}

// GetDueReviews lists due cards in priority order.
// GET /api/v1/learners/:id/reviews/due?limit=20.
func (h *Handler) GetDueReviews(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := h.parseLimit(c, 0, 1000)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	cards, err := h.reviews.DueCards(c.Request.Context(), learnerID, limit)
	if err != nil {
		h.handleError(c, err, "Failed to retrieve due reviews", learnerID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"learner_id":   learnerID,
		"cards":        nonNil(cards),
		"total_due":    len(cards),
		"generated_at": time.Now().UTC(),
	})
}

type reviewRequest struct {
	CardID  uint `json:"card_id" binding:"required"`
	Quality *int `json:"quality" binding:"required"`
}

// SubmitReview records a quality rating for a card.
// POST /api/v1/learners/:id/reviews.
func (h *Handler) SubmitReview(c *gin.Context) {
	learnerID, err := h.parseLearnerID(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	state, err := h.reviews.SubmitReview(c.Request.Context(), learnerID, req.CardID, *req.Quality)
	if err != nil {
		h.handleError(c, err, "Failed to submit review", learnerID)
		return
	}

	c.JSON(http.StatusOK, gin.H{"card": state})
}

// Helper functions

// parseLearnerID extracts and validates the learner ID from the URL parameter.
func (h *Handler) parseLearnerID(c *gin.Context) (uint, error) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid learner ID: %s", idStr)
	}
	return uint(id), nil
}

// parseLanguageID reads the optional language_id query parameter; absent
// means all languages.
func (h *Handler) parseLanguageID(c *gin.Context) (uint, error) {
	idStr := c.Query("language_id")
	if idStr == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid language_id parameter: %s", idStr)
	}
	return uint(id), nil
}

// parsePeriod reads the period query parameter, defaulting to weekly.
func (h *Handler) parsePeriod(c *gin.Context) (models.Period, error) {
	period := models.Period(c.DefaultQuery("period", string(models.PeriodWeekly)))
	if !period.Valid() {
		valid := make([]string, len(models.Periods))
		for i, p := range models.Periods {
			valid[i] = string(p)
		}
		return "", fmt.Errorf("invalid period: %s (valid: %s)", period, strings.Join(valid, ", "))
	}
	return period, nil
}

// parseLimit extracts and validates the limit query parameter.
func (h *Handler) parseLimit(c *gin.Context, defaultLimit, maxLimit int) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %s", limitStr)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be greater than 0")
	}

	if limit > maxLimit {
		return 0, fmt.Errorf("limit cannot exceed %d", maxLimit)
	}

	return limit, nil
}

// handleError maps service errors to responses. Caller errors keep their
// message; anything else is logged and reported as msg.
func (h *Handler) handleError(c *gin.Context, err error, msg string, learnerID uint) {
	status := apperror.Status(err)
	if status < http.StatusInternalServerError {
		h.errorResponse(c, status, err.Error())
		return
	}

	h.log.Error().Err(err).Uint("learner_id", learnerID).Str("path", c.FullPath()).Msg(msg)
	h.errorResponse(c, status, msg)
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

