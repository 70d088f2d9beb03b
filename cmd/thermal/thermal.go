// Package thermal implements the thermal command, a one-shot readout of the
// CPU temperature and firmware throttle flags.
package thermal

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/cpuspec"
	"github.com/tphakala/motioncam/internal/surveillance"
	"github.com/tphakala/motioncam/internal/thermal"
)

const readTimeout = 5 * time.Second

// Command creates the thermal command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thermal",
		Short: "Show the CPU temperature and throttle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.GetSettings()
			if settings == nil {
				return fmt.Errorf("settings not loaded")
			}
			probe, err := thermal.NewProbe(settings.Thermal.Probe)
			if err != nil {
				return err
			}
			return report(cmd.Context(), cmd.OutOrStdout(), probe, surveillance.ThermalConfig(settings).Thresholds)
		},
	}

	cmd.Flags().String("probe", "", "Temperature source (\"auto\", \"vcgencmd\" or \"sensors\")")
	if err := viper.BindPFlag("thermal.probe", cmd.Flags().Lookup("probe")); err != nil {
		panic(fmt.Sprintf("error binding flags: %v", err))
	}

	return cmd
}

// report reads probe once and prints the temperature classified against th.
func report(ctx context.Context, w io.Writer, probe thermal.Probe, th thermal.Thresholds) error {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	temp, err := probe.ReadCPUTemperature(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "CPU:         %s\n", cpuspec.GetCPUSpec())
	if board := conf.GetBoardModel(); board != "" {
		fmt.Fprintf(w, "Board:       %s\n", board)
	}
	fmt.Fprintf(w, "Temperature: %.1f°C\n", temp)
	fmt.Fprintf(w, "State:       %s (warning %.0f, throttle %.0f, critical %.0f)\n",
		th.Classify(temp), th.Warning, th.Throttle, th.Critical)

	flags, err := probe.ReadThrottleFlags(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(w, "Throttling:  unavailable (%v)\n", err)
	case len(flags.Conditions()) == 0:
		fmt.Fprintln(w, "Throttling:  none")
	default:
		fmt.Fprintf(w, "Throttling:  %s\n", strings.Join(flags.Conditions(), ", "))
	}
	return nil
}
