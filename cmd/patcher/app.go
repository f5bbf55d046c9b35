package main

import (
	"fmt"
	"os"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/config"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/engine"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/metrics"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/swarm"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/validate"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/worker"
	"go.uber.org/zap"
)

type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	metrics *metrics.Recorder
	engine  *engine.Engine
}

// newApp reads the configuration and builds the engine. Callers must Sync
// the logger.
func newApp() (*app, error) {
	cfg, err := config.LoadAppConfig(configAppName, configExt, configDir, ".")
	if err != nil {
		return nil, fmt.Errorf("cant read config %s.%s: %w", configAppName, configExt, err)
	}
	logger, err := newLogger(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("cant init logger: %w", err)
	}
	for _, dir := range []string{cfg.InstallDir, cfg.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cant create dir %s: %w", dir, err)
		}
	}

	algo, err := validate.ParseAlgorithm(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	rec := metrics.NewRecorder(nil)
	eng, err := engine.New(engine.Config{
		PatchURL:   cfg.PatchURL,
		InstallDir: cfg.InstallDir,
		StateDir:   cfg.StateDir,
		WorkDir:    cfg.WorkDir,

		UserAgent:   cfg.UserAgent,
		HTTPTimeout: cfg.HTTPTimeout,

		DefaultRetry:     worker.RetryPolicy{Limit: cfg.DefaultRetryLimit, Delay: cfg.DefaultRetryWait},
		UpdateMargin:     cfg.UpdateSpaceMargin,
		BootstrapMargin:  cfg.BootstrapSpaceMargin,
		Hash:             algo,
		ProgressInterval: cfg.ProgressInterval,

		Swarm:         swarm.NewClient(logger.Named("swarm")),
		BootstrapPoll: cfg.BootstrapPollInterval,
		KeepArchive:   cfg.BootstrapKeepArchive,

		Logger:  logger,
		Metrics: rec,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, metrics: rec, engine: eng}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}
