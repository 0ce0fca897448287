package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/koscakluka/ema-voiceloop/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:          config.AppName,
	Short:        "Voice conversation client for the engineering report assistant",
	SilenceUsage: true,
	Long: `voiceloop records a spoken turn, sends it to the assistant backend and
plays the spoken reply, then listens again. Once the assistant has collected
everything it needs, the report can be generated and saved locally.

Running voiceloop without a subcommand starts a conversation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
			return nil
		}
		// A missing .env in the working directory is fine.
		_ = godotenv.Load()
		return nil
	},
	RunE: runConversation,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default voiceloop.yaml in . or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the config")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
