// microscoped serves one microscope over HTTP: camera stream, stage moves,
// autofocus and tile-scan actions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openstage/go-microscope/internal/config"
	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/camera"
	"github.com/openstage/go-microscope/pkg/microscope"
	"github.com/openstage/go-microscope/pkg/stage"
	"github.com/openstage/go-microscope/pkg/web"
)

func main() {
	var (
		settingsPath = flag.String("settings", config.SettingsPath(config.DefaultSettings),
			"path to the settings file")
		captureDir = flag.String("captures", "captures", "directory for captured images")
		level      = flag.String("log-level", "info", "log level: debug, info, warn, error")
		simStage   = flag.Bool("sim-stage", false, "force the simulated stage driver")
	)
	flag.Parse()

	log.Init(*level)

	settings, err := config.Load(*settingsPath)
	if err != nil {
		log.Error("loading settings", "err", err)
		os.Exit(1)
	}
	if problems := settings.Validate(); problems != nil {
		log.Error("invalid settings", "problems", problems)
		os.Exit(1)
	}

	st, err := buildStage(settings.Stage, *simStage)
	if err != nil {
		log.Error("opening stage", "err", err)
		os.Exit(1)
	}
	cam := camera.NewSim(settings.Camera)

	scope := microscope.New(cam, st)
	defer scope.Close()
	log.Info("instrument ready", "id", scope.ID,
		"stage", settings.Stage.Type, "real_stage", scope.HasRealStage())

	server := web.NewServer(scope, web.Options{
		Settings:     settings,
		SettingsPath: *settingsPath,
		CaptureDir:   *captureDir,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(fmt.Sprintf(":%d", config.Port(settings.Server.Port)))
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			log.Error("shutdown", "err", err)
		}
	case err := <-errc:
		if err != nil {
			log.Error("server", "err", err)
			os.Exit(1)
		}
	}
}

func buildStage(cfg config.Stage, forceSim bool) (stage.Stage, error) {
	if forceSim || cfg.Type == config.StageSim {
		return stage.NewSim(stage.SimConfig{
			StepsPerSecond: cfg.StepsPerSecond,
			Backlash:       cfg.Backlash,
		}), nil
	}
	return stage.OpenSanga(cfg.Port)
}
