// Package bootstrap acquires a whole base install from a swarm and unpacks
// it into the install directory.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/codec"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/diskspace"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/swarm"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/utils"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/worker"
	"go.uber.org/zap"
)

const DefaultPollInterval = time.Second

type Config struct {
	Swarm     swarm.Swarm
	Extractor codec.BulkExtractor

	InstallDir string
	Free       diskspace.FreeSpaceFunc
	// Margin covers the archive and its extracted copy at once.
	Margin float64

	PollInterval time.Duration
	Sleep        worker.SleepFunc
	KeepArchive  bool

	Logger *zap.Logger
}

type Coordinator struct {
	swarm     swarm.Swarm
	extractor codec.BulkExtractor

	installDir string
	free       diskspace.FreeSpaceFunc
	margin     float64
	interval   time.Duration
	sleep      worker.SleepFunc
	keep       bool

	logger *zap.Logger
}

func NewCoordinator(cfg *Config) (*Coordinator, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: required config")
	}
	if cfg.Swarm == nil {
		return nil, errors.New("bootstrap: required swarm")
	}
	if cfg.InstallDir == "" {
		return nil, errors.New("bootstrap: required install dir")
	}
	c := &Coordinator{
		swarm:      cfg.Swarm,
		extractor:  cfg.Extractor,
		installDir: cfg.InstallDir,
		free:       cfg.Free,
		margin:     cfg.Margin,
		interval:   cfg.PollInterval,
		sleep:      cfg.Sleep,
		keep:       cfg.KeepArchive,
		logger:     cfg.Logger,
	}
	if c.extractor == nil {
		c.extractor = codec.NewArchive(1)
	}
	if c.free == nil {
		c.free = diskspace.Free
	}
	if c.margin <= 0 {
		c.margin = diskspace.DefaultBootstrapMargin
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.sleep == nil {
		c.sleep = worker.Sleep
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Run checks space against the swarm metadata, transfers the archive and
// extracts it. Transfer progress fills the first half of the overall
// fraction and extraction the second half.
func (c *Coordinator) Run(ctx context.Context, transferID, saveDir string, obs core.Observer) error {
	const op = "bootstrap.Coordinator.Run"

	overall := obs.OverallSink()
	obs.SetState(core.StateBootstrapping)
	overall.Report(0, "Querying swarm metadata...")

	meta, err := c.swarm.Metadata(ctx, transferID)
	if err != nil {
		return core.NewTransientError("swarm is unreachable", err, op)
	}
	if err := c.admit(saveDir, meta.Total); err != nil {
		return err
	}

	tr, err := c.swarm.Start(ctx, transferID, saveDir)
	if err != nil {
		return core.NewTransientError("swarm transfer did not start", err, op)
	}
	name := tr.Name()
	err = c.await(ctx, tr, obs)
	_ = tr.Close()
	if err != nil {
		return err
	}

	archive := filepath.Join(saveDir, name)
	obs.SetState(core.StateExtractingArchive)
	if err := c.extract(ctx, archive, obs); err != nil {
		return err
	}
	if !c.keep {
		if err := os.Remove(archive); err != nil {
			c.logger.Warn("cannot remove bootstrap archive", zap.String("path", archive), zap.Error(err))
		}
	}
	overall.Report(1, "Base game installed.")
	return nil
}

// admit checks the save directory for the archive and its extracted copy
// together, then the install directory for the extracted copy alone. On one
// filesystem the second check is implied by the first.
func (c *Coordinator) admit(saveDir string, total int64) error {
	const op = "bootstrap.Coordinator.admit"

	if total <= 0 {
		return core.NewConfigurationError("swarm reports no content", nil, op)
	}
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return core.NewResourceError("cannot create save directory", err, op)
	}
	if err := os.MkdirAll(c.installDir, 0o755); err != nil {
		return core.NewResourceError("cannot create install directory", err, op)
	}
	checks := []struct {
		dir    string
		margin float64
	}{
		{dir: saveDir, margin: c.margin},
		{dir: c.installDir, margin: max(c.margin-1, 1)},
	}
	for _, chk := range checks {
		free, err := c.free(chk.dir)
		if err != nil {
			return core.NewResourceError("cannot determine free disk space", err, op)
		}
		required := diskspace.Required(uint64(total), chk.margin)
		if required > free {
			c.logger.Warn("not enough space for bootstrap",
				zap.String("dir", chk.dir),
				zap.Uint64("required", required),
				zap.Uint64("free", free),
			)
			return core.NewInsufficientSpaceError(required, free, op)
		}
	}
	return nil
}

func (c *Coordinator) await(ctx context.Context, tr swarm.Transfer, obs core.Observer) error {
	const op = "bootstrap.Coordinator.await"

	overall, transfer := obs.OverallSink(), obs.TransferSink()
	for {
		st := tr.Status()
		if st.Failed() {
			return core.NewTransientError("swarm transfer failed", swarm.ErrClosed, op)
		}
		frac := utils.Fraction(st.Downloaded, st.Total)
		label := utils.TransferLabel(st.Downloaded, st.Total, st.Rate)
		transfer.Report(frac, label)
		overall.Report(frac/2, "Downloading base game. "+label)
		if st.Done() {
			c.logger.Info("swarm transfer done", zap.Int64("bytes", st.Total))
			return nil
		}
		if err := c.sleep(ctx, c.interval); err != nil {
			return err
		}
	}
}

func (c *Coordinator) extract(ctx context.Context, archive string, obs core.Observer) error {
	const op = "bootstrap.Coordinator.extract"

	overall, stage := obs.OverallSink(), obs.TransferSink()
	overall.Report(0.5, "Listing base game archive...")
	total, err := c.extractor.Count(ctx, archive)
	if err != nil {
		return core.NewIntegrityError("base game archive is unreadable", err, op)
	}
	if err := os.MkdirAll(c.installDir, 0o755); err != nil {
		return core.NewResourceError("cannot create install directory", err, op)
	}

	n, err := c.extractor.ExtractAll(ctx, archive, c.installDir, func(i int, name string) {
		frac := float64(i) / float64(max(total, 1))
		stage.Report(frac, name)
		overall.Report(0.5+frac/2, fmt.Sprintf("Extracting file %d of %d: %s", i, total, name))
	})
	if err != nil {
		return core.NewIntegrityError("base game archive extraction failed", err, op)
	}
	c.logger.Info("base game extracted", zap.Int("entries", n))
	return nil
}
