package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"x402watch/internal/app"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep over the catalog and exit",
		Long: `Run one sweep over the catalog, notify every new origin, and exit.

An empty seen set is bootstrapped first, so the first sweep of a fresh
install records the current catalog without announcing it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer a.Stop(context.Background(), app.StopOneShot)

			rep, err := a.SweepOnce(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprintf(out, "sweep %s: %d page(s), %d entries, %d new, took %s\n",
				rep.ID, rep.Pages, rep.Entries, len(rep.NewIDs), rep.Duration)
			for _, id := range rep.NewIDs {
				fmt.Fprintf(out, "  new: %s\n", id)
			}
			if rep.Truncated {
				return fmt.Errorf("sweep truncated: %s", rep.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sweep report as JSON")
	return cmd
}
