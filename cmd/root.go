// Package cmd assembles the motioncam command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/motioncam/cmd/recordings"
	"github.com/tphakala/motioncam/cmd/run"
	"github.com/tphakala/motioncam/cmd/thermal"
	"github.com/tphakala/motioncam/internal/buildinfo"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(info buildinfo.BuildInfo) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "motioncam",
		Short:         "Motion-triggered camera recorder with thermal throttling",
		Version:       buildinfo.String(info),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default: search the standard locations)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding flags: %v", err))
	}

	rootCmd.AddCommand(
		run.Command(),
		recordings.Command(),
		thermal.Command(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(configPath, info)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Flush()
		_ = logger.Global().Flush()
	}

	return rootCmd
}

// initialize loads the configuration and sets up logging and telemetry before
// any subcommand runs.
func initialize(configPath string, info buildinfo.BuildInfo) error {
	if configPath != "" {
		conf.SetConfigFile(configPath)
	}

	settings, err := conf.Load()
	if err != nil {
		return err
	}

	if settings.Debug {
		settings.Main.Log.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Main.Log.Console != nil {
			settings.Main.Log.Console.Level = string(logger.LogLevelDebug)
		}
	}

	central, err := logger.NewCentralLogger(&settings.Main.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if err := telemetry.InitSentry(settings, info); err != nil {
		// Telemetry is optional; a bad DSN must not keep the camera down.
		central.Module("main").Warn("Sentry telemetry not started", logger.Error(err))
	}

	central.Module("main").Debug("Configuration loaded",
		logger.String("config_file", conf.ConfigFileUsed()),
		logger.String("version", buildinfo.String(info)))
	return nil
}
