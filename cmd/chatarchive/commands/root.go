package commands

import (
	"context"
	"fmt"
	"os"

	"chatarchive/lib/telemetry"
	"chatarchive/lib/timezone"
	"chatarchive/services/archive"

	"github.com/spf13/cobra"
)

var (
	configPath *string
	dbPath     *string
	verbose    *bool

	config Config
)

var rootCmd = &cobra.Command{
	Use:   "chatarchive",
	Short: "chatarchive crawls chat channel history into a local archive and exports it.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = loadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if *dbPath != "" {
			config.Database = archive.Config{File: *dbPath}
		}
		telemetry.InitSlog(*verbose || config.Verbose)

		err = timezone.Load(config.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}
		archive.SetDefaultConfig(config.Database)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "chatarchive.json5", "The config file to read.")
	dbPath = rootCmd.PersistentFlags().String("db", "", "The archive database, overrides the config.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output.")
}

func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return err
}
