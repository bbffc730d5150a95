package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/semmidev/backupd/internal/app"
	"github.com/semmidev/backupd/internal/config"
)

var version = "dev"

type rootOptions struct {
	configPath string
	envFiles   []string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "backupd",
		Short:         "Scheduled database and volume backups delivered to Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "path to config file")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	cmd.AddCommand(
		newServeCmd(opts),
		newSweepCmd(opts),
		newRunCmd(opts),
		newScheduleCmd(opts),
		newJobsCmd(opts),
		newHistoryCmd(opts),
		newRetentionCmd(opts),
		newDestinationCmd(opts),
		newSourceCmd(opts),
		newCatalogCmd(opts),
		newGDriveAuthCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// withApp loads the configuration, wires the application and hands it to fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(cmd.Context(), cfg, o.configPath)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer a.Close()

	return fn(a)
}

// render prints v as JSON when requested, otherwise through text.
func (o *rootOptions) render(w io.Writer, v any, text func(io.Writer)) error {
	if !o.jsonOutput {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "backupd %s\n", version)
		},
	}
}
