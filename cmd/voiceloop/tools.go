package main

import (
	"fmt"
	"io"
	"log/slog"

	orchestration "github.com/koscakluka/ema-voiceloop/core"
	"github.com/koscakluka/ema-voiceloop/core/report"
	"github.com/koscakluka/ema-voiceloop/internal/config"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := config.Schema()
		if err != nil {
			return fmt.Errorf("failed to build schema: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
		return err
	},
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print the installation identifier used as the session id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := newIdentityStore(cfg)
		if err != nil {
			return err
		}
		id, err := store.ID()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, store.Path())
		return err
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the report for this installation's session and save it",
	Long: `Report fetches the session fields collected so far, asks the backend to
render the report and saves it into the configured report directory, without
starting a conversation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := newIdentityStore(cfg)
		if err != nil {
			return err
		}
		client, err := newBackendClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			return err
		}

		path, err := orchestration.BuildReport(cmd.Context(), store, client, report.NewDirWriter(cfg.Report.Dir, cfg.Report.FileName))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(reportCmd)
}
