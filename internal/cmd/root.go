package cmd

import (
	"strings"

	"github.com/prdflow/prdflow/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "prdflow",
	Short: "PRD-to-backlog pipeline engine",
	Long: `Prdflow turns a product requirements document into executed work.
It snapshots the PRD into a content-addressed session, decomposes it
into a phase/milestone/task/subtask backlog, and drives a coding agent
through every subtask with retries, commits, and a QA review.`,
	Version: version,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/prdflow/config.yaml)")
	rootCmd.PersistentFlags().String("plan-root", "", "directory session directories live under")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("plan_root", rootCmd.PersistentFlags().Lookup("plan-root"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PRDFLOW")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PRDFLOW_AGENT_COMMAND for agent.command
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
