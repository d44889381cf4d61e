package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/arkivehq/arkive/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "arkive",
	Short:   "Archive upload service for large objects",
	Long: `Arkive is an archive upload service: it packages byte sources into
archive containers, uploads them single-shot or in parallel parts, and
registers committed archives in a metadata catalog.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		var files []string
		if configFile != "" {
			files = []string{configFile}
		}

		cfg, err := config.Load(files, cmd.Flags())
		if err != nil {
			return err
		}

		setupLogging(cfg)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("db-type", "", "database type: sqlite, postgres (default: sqlite, env: ARKIVE_DATABASE_TYPE)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string (default: arkive.db, env: ARKIVE_DATABASE_DSN)")
	rootCmd.PersistentFlags().String("storage-path", "", "filesystem store root (default: ./data, env: ARKIVE_STORAGE_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
