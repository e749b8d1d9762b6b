package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mgrabowski/restock-sentinel/internal/engine"
	"github.com/mgrabowski/restock-sentinel/internal/notify"
	"github.com/mgrabowski/restock-sentinel/pkg/logger"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

var (
	webhookURL     string
	webhookBackend string
	webhookChannel string
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook utilities",
}

var webhookTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a synthetic restock notification to a webhook",
	RunE:  runWebhookTest,
}

func init() {
	webhookTestCmd.Flags().StringVar(&webhookURL, "url", "", "webhook URL (required)")
	webhookTestCmd.Flags().StringVar(&webhookBackend, "backend", "discord", "webhook backend (discord, slack)")
	webhookTestCmd.Flags().StringVar(&webhookChannel, "channel", "", "Slack channel override")
	cobra.CheckErr(webhookTestCmd.MarkFlagRequired("url"))

	webhookCmd.AddCommand(webhookTestCmd)
	rootCmd.AddCommand(webhookCmd)
}

func runWebhookTest(cmd *cobra.Command, _ []string) error {
	backend := domain.Backend(webhookBackend)
	if err := notify.ValidateWebhookURL(webhookURL, backend); err != nil {
		return fmt.Errorf("invalid webhook: %w", err)
	}

	log := logger.New("info", "text")

	rec := &domain.Recipient{
		ID:           "webhook-test",
		Kind:         domain.RecipientSystemDefault,
		Backend:      backend,
		WebhookURL:   webhookURL,
		Name:         "Webhook Test",
		SlackChannel: webhookChannel,
		IncludePrice: true,
		IncludeSpecs: true,
		Active:       true,
	}

	notifier := notify.NewWebhookNotifier(10 * time.Second)
	if err := notifier.Send(cmd.Context(), rec, engine.TestEvent(time.Now())); err != nil {
		return fmt.Errorf("sending test notification: %w", err)
	}

	log.Info("test notification delivered", "backend", backend, "url", webhookURL)
	return nil
}
