// Package cmd implements the CLI commands for restock-sentinel.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "restock-sentinel",
	Short: "Detect restocks and fan out webhook notifications",
	Long: "restock-sentinel polls an availability source for monitored items,\n" +
		"tracks out-of-stock intervals, and notifies subscribed Discord and\n" +
		"Slack webhooks when an item comes back in stock after a qualifying\n" +
		"stockout.",
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "config.yaml", "config file path")
	cobra.CheckErr(viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")))
}

// initEnv lets RSN_-prefixed environment variables override flags, e.g.
// RSN_CONFIG=/etc/restock-sentinel/config.yaml.
func initEnv() {
	viper.SetEnvPrefix("RSN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	cfgFile = viper.GetString("config")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
