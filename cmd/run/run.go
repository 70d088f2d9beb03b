// Package run implements the run command, the long-running surveillance mode.
package run

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/motioncam/internal/api"
	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/cpuspec"
	"github.com/tphakala/motioncam/internal/events"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/mqtt"
	"github.com/tphakala/motioncam/internal/observability"
	"github.com/tphakala/motioncam/internal/surveillance"
)

const busShutdownTimeout = 5 * time.Second

// Command creates the run command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start motion-triggered recording",
		Long:  "Open the camera, watch the motion zones and record while motion is present, throttling the framerate when the CPU runs hot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), conf.GetSettings())
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags binds the run flags to their configuration keys so that a flag
// overrides the config file and environment.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "Listen address of the control API")
	cmd.Flags().String("backend", "", "Camera backend (\"simulated\" or \"ffmpeg\")")
	cmd.Flags().String("source", "", "Camera source for the ffmpeg backend (RTSP URL or V4L2 device)")
	cmd.Flags().String("storage", "", "Directory for recordings")

	bindings := map[string]string{
		"listen":  "webserver.listen",
		"backend": "camera.backend",
		"source":  "camera.source",
		"storage": "recording.storagepath",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// Run wires the surveillance system with its event consumers and HTTP
// surfaces, and blocks until ctx is cancelled or a component fails.
func Run(ctx context.Context, settings *conf.Settings) error {
	if settings == nil {
		return fmt.Errorf("settings not loaded")
	}
	log := logger.Global().Module("main")

	log.Info("Starting motioncam",
		logger.String("name", settings.Main.Name),
		logger.String("camera_id", settings.Main.CameraID),
		logger.String("backend", settings.Camera.Backend),
		logger.String("cpu", cpuspec.GetCPUSpec().String()),
		logger.String("board", conf.GetBoardModel()))

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	bus := events.NewBus(events.DefaultConfig())

	if settings.MQTT.Enabled {
		client, err := connectMQTT(ctx, settings, m, bus)
		if err != nil {
			// Events are optional; recording goes on without a broker.
			log.Error("MQTT publisher disabled", logger.Error(err))
		} else {
			defer client.Disconnect()
		}
	}

	bus.Start()
	defer func() {
		if err := bus.Shutdown(busShutdownTimeout); err != nil {
			log.Warn("Event bus did not drain", logger.Error(err))
		}
	}()

	sys, err := surveillance.NewFromSettings(ctx, settings, m, bus, camera.DefaultOpenOptions)
	if err != nil {
		return err
	}

	var srv *api.Server
	if settings.WebServer.Enabled {
		var opts []api.ServerOption
		if settings.Metrics.Enabled {
			opts = append(opts, api.WithMetrics(m))
		}
		if srv, err = api.New(settings, sys, opts...); err != nil {
			_ = sys.Shutdown()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sys.Run(gctx)
	})

	switch {
	case srv != nil:
		g.Go(func() error {
			return srv.Run(gctx)
		})
	case settings.Metrics.Enabled:
		endpoint := observability.NewEndpoint(settings.Metrics.Listen, m)
		g.Go(func() error {
			return endpoint.Run(gctx)
		})
	}

	err = g.Wait()
	log.Info("motioncam stopped", logger.Uint64("events_processed", bus.Stats().EventsProcessed))
	return err
}

// connectMQTT connects to the broker and registers the event publisher on bus.
func connectMQTT(ctx context.Context, settings *conf.Settings, m *observability.Metrics, bus *events.Bus) (mqtt.Client, error) {
	cfg := mqtt.ConfigFromSettings(settings)
	client, err := mqtt.NewClient(cfg, m.MQTT)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	if err := bus.Register(mqtt.NewPublisher(client, cfg, m.MQTT)); err != nil {
		client.Disconnect()
		return nil, err
	}
	return client, nil
}
