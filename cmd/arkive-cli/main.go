package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkivehq/arkive/clientcli"
)

var (
	version = "dev"

	cfgFile     string
	server      string
	profileName string
	quiet       bool
)

var rootCmd = &cobra.Command{
	Use:     "arkive-cli",
	Version: version,
	Short:   "Client for the arkive archive service",
	Long: `Arkive CLI - client for an arkive server.

Uploads a file or directory as one archive: small payloads go in a single
request, large ones are split into parts and uploaded in parallel. Directory
uploads are packaged into a zip container preserving relative paths.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.arkive/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", "", "server URL (default: http://localhost:5709, env: ARKIVE_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "profile name (env: ARKIVE_PROFILE)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")

	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(configureCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return clientcli.DefaultConfigPath()
}

// buildConfig resolves the client config: flags > env > profile > defaults.
func buildConfig() (*clientcli.Config, error) {
	cfg := &clientcli.Config{}

	configPath := getConfigPath()
	if configPath != "" {
		file, err := clientcli.LoadConfigFile(configPath)
		switch {
		case err == nil:
			name := profileName
			if name == "" {
				name = os.Getenv("ARKIVE_PROFILE")
			}
			profile, profErr := file.GetProfile(name)
			if profErr != nil {
				if !errors.Is(profErr, clientcli.ErrNoProfiles) {
					return nil, profErr
				}
			} else {
				cfg.Endpoint = profile.Endpoint
				cfg.Policy = profile.Policy
			}
		case cfgFile != "":
			// Only error when the user explicitly named a config file.
			return nil, err
		}
	}

	if env := os.Getenv("ARKIVE_SERVER"); env != "" {
		cfg.Endpoint = env
	}
	if server != "" {
		cfg.Endpoint = server
	}

	return cfg, nil
}

func getClient(opts ...clientcli.Option) (*clientcli.Client, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	return clientcli.New(cfg, opts...)
}
