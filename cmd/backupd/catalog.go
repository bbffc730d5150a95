package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/semmidev/backupd/internal/app"
)

func newDestinationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destination",
		Short: "Check or exercise a Telegram destination",
	}

	test := &cobra.Command{
		Use:   "test <name>",
		Short: "Verify the bot can reach the destination chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				ok, msg, err := a.TestDestination(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := struct {
					OK      bool   `json:"ok"`
					Message string `json:"message"`
				}{ok, msg}
				if err := opts.render(cmd.OutOrStdout(), out, func(w io.Writer) {
					if ok {
						fmt.Fprintf(w, "✅ Connection successful: %s\n", msg)
					} else {
						fmt.Fprintf(w, "❌ Connection failed: %s\n", msg)
					}
				}); err != nil {
					return err
				}
				if !ok {
					return errFailed
				}
				return nil
			})
		},
	}

	var message, file string
	send := &cobra.Command{
		Use:   "send <name>",
		Short: "Send a test message or file to the destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" && file == "" {
				return errors.New("either --message or --file is required")
			}
			return opts.withApp(cmd, func(a *app.App) error {
				if err := a.SendToDestination(cmd.Context(), args[0], message, file); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✅ Sent successfully")
				return nil
			})
		},
	}
	send.Flags().StringVar(&message, "message", "", "HTML text to send, or the caption when --file is set")
	send.Flags().StringVar(&file, "file", "", "file to upload")

	cmd.AddCommand(test, send)
	return cmd
}

func newSourceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Check a backup source",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ping <name>",
		Short: "Verify the source is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				if err := a.PingSource(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Source %s is reachable\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the source, destination and job catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Upsert the catalog declared in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.SyncCatalog(cmd.Context())
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Synced %d source(s), %d destination(s), %d job(s)\n", res.Sources, res.Destinations, res.Jobs)
				})
			})
		},
	})
	return cmd
}

func newGDriveAuthCmd(opts *rootOptions) *cobra.Command {
	var target, addr string

	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Authorize a Google Drive archive target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				return a.AuthorizeDrive(cmd.Context(), target, addr)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "name of the gdrive target; empty picks the first one")
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "listen address for the OAuth callback")
	return cmd
}
