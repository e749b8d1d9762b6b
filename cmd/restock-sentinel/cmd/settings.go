package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/mgrabowski/restock-sentinel/internal/config"
	"github.com/mgrabowski/restock-sentinel/internal/engine"
	"github.com/mgrabowski/restock-sentinel/internal/store"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write runtime settings",
	Long: "Runtime settings override file configuration without a restart.\n" +
		"Known keys:\n" +
		"  " + store.SettingThresholdMinutes + "\n" +
		"  " + store.SettingDefaultWebhookURL + "\n" +
		"  " + store.SettingDefaultBackend,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one setting, or all settings when no key is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func openStore(ctx context.Context) (*store.PostgresStore, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st, err := store.NewPostgresStore(connCtx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return st, nil
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 0 {
		settings, err := st.ListSettings(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing settings: %w", err)
		}
		for k, v := range settings {
			fmt.Printf("%s=%s\n", k, v)
		}
		return nil
	}

	value, err := st.GetSetting(cmd.Context(), args[0])
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("setting %q is not set", args[0])
	}
	if err != nil {
		return fmt.Errorf("reading setting: %w", err)
	}
	fmt.Println(value)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if key == store.SettingThresholdMinutes {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("threshold must be an integer: %w", err)
		}
		clamped := engine.ClampThreshold(n)
		if clamped != n {
			fmt.Printf("clamped threshold %d to %d minutes\n", n, clamped)
		}
		value = strconv.Itoa(clamped)
	}

	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetSetting(cmd.Context(), key, value); err != nil {
		return fmt.Errorf("writing setting: %w", err)
	}
	fmt.Printf("%s=%s\n", key, value)
	return nil
}
