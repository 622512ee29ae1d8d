// Command server runs the learner progression API and its maintenance tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	api "github.com/aimd54/lingo-progression/internal/api/progress"
	"github.com/aimd54/lingo-progression/internal/middleware"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/service/scheduler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "lingo-progression",
		Short:         "Learner progression and review scheduling engine",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newRerankCmd(&configPath),
		newReconcileCmd(&configPath),
		newSyncCatalogCmd(&configPath),
	)
	return root
}

// withApp builds the app, runs fn and releases resources.
func withApp(configPath string, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, a)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the batch scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	if err := a.migrate(); err != nil {
		return err
	}
	if err := a.syncCatalog(ctx); err != nil {
		return err
	}

	sched := scheduler.NewService(&a.cfg.Scheduler, a.leaderboard, a.reconcile, a.achievements, a.log.Component("scheduler"))
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	if a.cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "database": "ok"}
		code := http.StatusOK
		if err := a.db.Health(); err != nil {
			status["status"], status["database"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
		if a.redis != nil {
			status["redis"] = "ok"
			if err := a.redis.Health(c.Request.Context()); err != nil {
				status["status"], status["redis"] = "degraded", err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		c.JSON(code, status)
	})

	if a.cfg.Metrics.Enabled {
		router.GET(a.cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")
	if a.cfg.RateLimit.Enabled {
		v1.Use(middleware.RateLimit(middleware.NewRateLimiter(a.cfg.RateLimit)))
	}
	api.NewHandler(a.hearts, a.progress, a.ledger, a.achievements, a.leaderboard, a.reviews, a.log.Component("api")).
		RegisterRoutes(v1)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Int("port", a.cfg.Server.Port).Str("environment", a.cfg.Server.Environment).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, func(_ context.Context, a *app) error {
				return a.migrate()
			})
		},
	}
}

func newRerankCmd(configPath *string) *cobra.Command {
	var (
		period     string
		languageID uint
	)

	cmd := &cobra.Command{
		Use:   "rerank",
		Short: "Recompute leaderboard ranks",
		Long:  "Recompute ranks for the current and previous windows of every period, or for one partition with --period.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				if period == "" {
					written, err := a.leaderboard.RecalculateCurrent(ctx)
					fmt.Fprintf(cmd.OutOrStdout(), "updated %d ranks\n", written)
					return err
				}

				p, _, err := a.leaderboard.CurrentPartition(models.Period(period), languageID)
				if err != nil {
					return err
				}
				written, err := a.leaderboard.RecalculateRanks(ctx, p.Period, p.PeriodStart, p.LanguageID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %d ranks in %s\n", written, p.Key())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "only this period (daily, weekly, monthly, all_time)")
	cmd.Flags().UintVar(&languageID, "language-id", 0, "language partition for --period (0 = all languages)")
	return cmd
}

func newReconcileCmd(configPath *string) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare cached learner XP totals with the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				report, err := a.reconcile.Run(ctx, fix)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "checked %d learners, %d drifted, %d fixed\n", report.Learners, len(report.Drifted), report.Fixed)
				for _, d := range report.Drifted {
					fmt.Fprintf(out, "  learner %d: cached=%d ledger=%d\n", d.LearnerID, d.Cached, d.Ledger)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite drifted totals from the ledger")
	return cmd
}

func newSyncCatalogCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-catalog",
		Short: "Load the achievement catalog into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				return a.syncCatalog(ctx)
			})
		},
	}
}
