package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mgrabowski/restock-sentinel/internal/api/handlers"
	"github.com/mgrabowski/restock-sentinel/internal/api/middleware"
	"github.com/mgrabowski/restock-sentinel/internal/config"
	"github.com/mgrabowski/restock-sentinel/internal/engine"
	"github.com/mgrabowski/restock-sentinel/internal/notify"
	"github.com/mgrabowski/restock-sentinel/internal/source"
	"github.com/mgrabowski/restock-sentinel/internal/store"
	"github.com/mgrabowski/restock-sentinel/pkg/logger"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitor, dispatcher, and API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.NewPostgresStore(ctx, cfg.Database.DSN())
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	src := source.NewHTTPClient(
		source.WithBaseURL(cfg.Source.BaseURL),
		source.WithRetries(cfg.Source.Retries),
		source.WithHTTPClient(&http.Client{Timeout: cfg.Source.Timeout}),
		source.WithRateLimiter(source.NewRateLimiter(
			cfg.Source.RateLimit.PerSecond,
			cfg.Source.RateLimit.Burst,
			cfg.Source.RateLimit.DailyLimit,
		)),
	)

	notifier := notify.NewWebhookNotifier(cfg.Dispatch.SendTimeout)

	dispatcher := engine.NewDispatcher(st, notifier, log,
		engine.WithDispatchWorkers(cfg.Dispatch.Workers),
		engine.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		engine.WithBackoffBase(cfg.Dispatch.BackoffBase),
		engine.WithSendTimeout(cfg.Dispatch.SendTimeout),
		engine.WithBackendSpacing(domain.BackendDiscord, cfg.Dispatch.DiscordSpacing),
		engine.WithBackendSpacing(domain.BackendSlack, cfg.Dispatch.SlackSpacing),
	)

	eng := engine.NewEngine(st, src, dispatcher,
		engine.WithLogger(log),
		engine.WithDefaultRecipient(cfg.Notifications.Default.Recipient()),
		engine.WithThresholdMinutes(cfg.Monitor.ThresholdMinutes),
		engine.WithFetchConcurrency(cfg.Monitor.FetchConcurrency),
		engine.WithCycleDeadline(cfg.Monitor.CycleDeadline),
		engine.WithSnapshotRetention(cfg.Monitor.SnapshotRetention),
	)

	scheduler, err := engine.NewScheduler(eng, cfg.Monitor.PollInterval, log)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	e.Use(middleware.Recovery(log))
	e.Use(middleware.RequestLog(log))
	e.Use(middleware.Metrics())

	health := handlers.NewHealthHandler(st)
	e.GET("/healthz", health.Healthz)
	e.GET("/readyz", health.Readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	v1.GET("/attempts", handlers.NewAttemptsHandler(st).List)
	v1.GET("/intervals/open", handlers.NewIntervalsHandler(st).ListOpen)
	v1.GET("/items", handlers.NewItemsHandler(st).List)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("starting server", "addr", addr, "poll_interval", cfg.Monitor.PollInterval)

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
		}
	}()

	scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Let any in-flight poll cycle and deliveries finish before closing
	// the HTTP server and the pool.
	<-scheduler.Stop().Done()
	eng.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	log.Info("server stopped")
	return nil
}
