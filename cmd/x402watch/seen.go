package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"x402watch/internal/app"
	"x402watch/pkg/logx"
)

func newSeenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seen",
		Short: "Inspect the persisted seen set",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Print every known origin id in discovery order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := app.OpenSeen(cmd.Context(), opts.configPath, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			defer set.Close()

			out := cmd.OutOrStdout()
			ids := set.IDs()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "    ")
				return enc.Encode(ids)
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print as a JSON array")

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of known origin ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := app.OpenSeen(cmd.Context(), opts.configPath, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			defer set.Close()
			fmt.Fprintln(cmd.OutOrStdout(), set.Len())
			return nil
		},
	}

	cmd.AddCommand(list, count)
	return cmd
}
