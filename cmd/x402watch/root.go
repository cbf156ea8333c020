package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "x402watch",
		Short: "Announce newly listed x402 services",
		Long: `x402watch polls the x402scan.com seller catalog, remembers every service
origin it has seen, and sends one notification per newly listed origin.

Example usage:
  x402watch run                       # run the discovery loop
  x402watch sweep                     # one sweep, then exit
  x402watch seen count                # number of known origins
  x402watch --config prod.yaml run    # use another config file`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./x402watch.yaml", "path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config (missing file is ignored)")

	root.AddCommand(
		newRunCmd(opts),
		newSweepCmd(opts),
		newSeenCmd(opts),
	)
	return root
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
