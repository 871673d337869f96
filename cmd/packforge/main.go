// Package main provides the packforge binary entry point.
// Packforge renders, validates and commits deterministic agent packs.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "packforge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFile    string
	trace      bool
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Deterministic agent pack build and validation engine",
		Long: `Packforge renders the 20-document pack for a profile, validates
completeness, references and cross-document parity, applies additive
overlays and commits the result atomically under a per-root build lock.

Configuration is layered: defaults, ~/.config/packforge/config.yaml,
packforge.yaml in the working tree, then PACKFORGE_* environment variables.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML); skips layered discovery")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")
	cmd.PersistentFlags().BoolVar(&opts.trace, "trace", false, "Write one JSON line per pipeline span to stderr")

	cmd.AddCommand(
		buildCmd(opts),
		serveCmd(opts),
		lastCmd(opts),
		archiveCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}
