package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mgrabowski/restock-sentinel/internal/config"
	"github.com/mgrabowski/restock-sentinel/internal/engine"
	"github.com/mgrabowski/restock-sentinel/internal/notify"
	"github.com/mgrabowski/restock-sentinel/internal/source"
	"github.com/mgrabowski/restock-sentinel/internal/store"
	"github.com/mgrabowski/restock-sentinel/pkg/logger"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

var checkDryRun bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single poll cycle and exit",
	Long: "check fetches availability for every enabled item once, records\n" +
		"transitions, and dispatches any pending notifications. With --dry-run\n" +
		"deliveries are logged instead of sent, nothing is written to the\n" +
		"attempt history, and intervals stay pending for a real run.",
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "log deliveries instead of sending")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
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

	var notifier notify.Notifier = notify.NewWebhookNotifier(cfg.Dispatch.SendTimeout)
	dispatchOpts := []engine.DispatcherOption{
		engine.WithDispatchWorkers(cfg.Dispatch.Workers),
		engine.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		engine.WithBackoffBase(cfg.Dispatch.BackoffBase),
		engine.WithSendTimeout(cfg.Dispatch.SendTimeout),
		engine.WithBackendSpacing(domain.BackendDiscord, cfg.Dispatch.DiscordSpacing),
		engine.WithBackendSpacing(domain.BackendSlack, cfg.Dispatch.SlackSpacing),
	}
	if checkDryRun {
		notifier = notify.NewNoOpNotifier(log)
		dispatchOpts = append(dispatchOpts, engine.WithDryRun())
	}

	dispatcher := engine.NewDispatcher(st, notifier, log, dispatchOpts...)

	eng := engine.NewEngine(st, src, dispatcher,
		engine.WithLogger(log),
		engine.WithDefaultRecipient(cfg.Notifications.Default.Recipient()),
		engine.WithThresholdMinutes(cfg.Monitor.ThresholdMinutes),
		engine.WithFetchConcurrency(cfg.Monitor.FetchConcurrency),
		engine.WithCycleDeadline(cfg.Monitor.CycleDeadline),
		engine.WithSnapshotRetention(cfg.Monitor.SnapshotRetention),
	)

	if err := eng.RunCycle(cmd.Context()); err != nil {
		return fmt.Errorf("running cycle: %w", err)
	}
	eng.Wait()

	log.Info("cycle complete")
	return nil
}
