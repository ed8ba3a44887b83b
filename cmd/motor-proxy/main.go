// Package main provides the entry point for motor-proxy.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/motor-proxy/internal/config"
	"github.com/jmylchreest/motor-proxy/internal/version"
)

// Exit codes.
const (
	exitError  = 1
	exitConfig = 2
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(exitConfig)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "motor-proxy",
		Short: "Keep a vendor API session alive behind a reverse proxy",
		Long: `motor-proxy logs in to the MOTOR vendor site through its identity
provider chain, caches the resulting session cookies and forwards API
requests with those cookies attached. When the vendor rejects the session
it logs in again in the background.

Run without a subcommand to serve.`,
		Version:      version.Get().Version,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.SetVersionTemplate(`{{printf "motor-proxy version %s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(),
		newLoginCmd(),
		newSessionCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}
