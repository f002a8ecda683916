// Package main is the entry point for the CastBridge daemon.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/castbridge/internal/config"
	"github.com/edumarques81/castbridge/internal/version"
)

type flags struct {
	configPath string
	debug      bool
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "castbridge",
		Short:         "Expose network renderers as local audio outputs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, f)
		},
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/castbridge/castbridge.yaml)")
	root.PersistentFlags().BoolVar(&f.debug, "debug", false, "enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, f)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo().String())
		},
	}

	root.AddCommand(runCmd, versionCmd)
	return root
}

func runBridge(cmd *cobra.Command, f *flags) error {
	setupLogging(zerolog.InfoLevel)

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return err
	}
	if f.debug {
		cfg.Debug = true
	}
	setupLogging(cfg.Level())

	return run(cmd.Context(), cfg)
}

func setupLogging(level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
