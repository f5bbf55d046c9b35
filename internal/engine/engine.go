// Package engine composes resolution, directory reconciliation, the
// download pipeline and the swarm bootstrap into the operations a host
// shell calls.
package engine

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/bootstrap"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/codec"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/diskspace"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/dirtree"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/metrics"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/resolver"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/swarm"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/validate"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/version"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/worker"
	"go.uber.org/zap"
)

const (
	MsgUpToDate     = "Game is up to date."
	MsgAllValid     = "All files are valid."
	MsgAllProcessed = "All downloads processed."
	MsgDegraded     = "Some files could not be updated. Run repair to try again."
)

type Config struct {
	PatchURL   string
	InstallDir string
	StateDir   string
	// WorkDir defaults to a hidden directory inside InstallDir.
	WorkDir string

	UserAgent   string
	HTTPTimeout time.Duration
	// Client replaces the per-invocation HTTP client, mostly for tests.
	Client *http.Client

	DefaultRetry     worker.RetryPolicy
	UpdateMargin     float64
	BootstrapMargin  float64
	Hash             validate.Algorithm
	ProgressInterval time.Duration

	Free  diskspace.FreeSpaceFunc
	Sleep worker.SleepFunc

	Swarm         swarm.Swarm
	BootstrapPoll time.Duration
	KeepArchive   bool

	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Engine runs one operation at a time. A call made while another is in
// flight fails with core.ErrBusy.
type Engine struct {
	cfg       Config
	validator *validate.Validator
	logger    *zap.Logger
	metrics   *metrics.Recorder

	busy atomic.Bool
}

func New(cfg Config) (*Engine, error) {
	if cfg.PatchURL == "" {
		return nil, errors.New("engine: required patch url")
	}
	if cfg.InstallDir == "" || cfg.StateDir == "" {
		return nil, errors.New("engine: required install dir and state dir")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.InstallDir, ".patcher-tmp")
	}
	if cfg.UpdateMargin <= 0 {
		cfg.UpdateMargin = diskspace.DefaultUpdateMargin
	}
	if cfg.BootstrapMargin <= 0 {
		cfg.BootstrapMargin = diskspace.DefaultBootstrapMargin
	}
	if cfg.Free == nil {
		cfg.Free = diskspace.Free
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		validator: validate.New(cfg.Hash),
		logger:    cfg.Logger.Named("engine"),
		metrics:   cfg.Metrics,
	}, nil
}

func (e *Engine) acquire(op string) error {
	if !e.busy.CompareAndSwap(false, true) {
		return core.NewBusyError(op)
	}
	e.metrics.SetBusy(true)
	return nil
}

func (e *Engine) release() {
	e.metrics.SetBusy(false)
	e.busy.Store(false)
}

// Busy reports whether an operation is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

func (e *Engine) newDownloader() (*worker.Downloader, error) {
	client := e.cfg.Client
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return worker.NewDownloader(&worker.DownloaderConfig{
		Client:    client,
		Timeout:   e.cfg.HTTPTimeout,
		UserAgent: e.cfg.UserAgent,
		Sleep:     e.cfg.Sleep,
		Logger:    e.cfg.Logger.Named("transfer"),
		Metrics:   e.metrics,
	})
}

func (e *Engine) newSession(dlr *worker.Downloader) (*resolver.Session, error) {
	return resolver.NewSession(&resolver.Config{
		PatchURL:     e.cfg.PatchURL,
		InstallDir:   e.cfg.InstallDir,
		StateDir:     e.cfg.StateDir,
		DefaultRetry: e.cfg.DefaultRetry,
		Downloader:   dlr,
		Extractor:    codec.NewCabinet(),
		Validator:    e.validator,
		Admission:    diskspace.NewAdmission(e.cfg.Free, e.cfg.UpdateMargin),
		Logger:       e.cfg.Logger.Named("resolver"),
	})
}

// CheckUpdate resolves the files changed since the local version.
func (e *Engine) CheckUpdate(ctx context.Context, obs core.Observer) (*core.UpdateTask, error) {
	const op = "engine.Engine.CheckUpdate"
	if err := e.acquire(op); err != nil {
		return nil, err
	}
	defer e.release()
	return e.check(ctx, core.ModeUpdate, obs)
}

// CheckRepair resolves every file that is missing or differs from the
// manifest. Stale copies are deleted on the way.
func (e *Engine) CheckRepair(ctx context.Context, obs core.Observer) (*core.UpdateTask, error) {
	const op = "engine.Engine.CheckRepair"
	if err := e.acquire(op); err != nil {
		return nil, err
	}
	defer e.release()
	return e.check(ctx, core.ModeRepair, obs)
}

func (e *Engine) check(ctx context.Context, mode core.Mode, obs core.Observer) (*core.UpdateTask, error) {
	obs.SetState(core.StateCheckingManifest)

	dlr, err := e.newDownloader()
	if err != nil {
		return nil, core.NewUnexpectedError("cannot build transport", err, "engine.Engine.check")
	}
	sess, err := e.newSession(dlr)
	if err != nil {
		return nil, core.NewUnexpectedError("cannot build session", err, "engine.Engine.check")
	}
	defer sess.Close()

	task, err := sess.Resolve(ctx, mode, obs.OverallSink())
	if err != nil {
		return nil, err
	}
	if task.Empty() {
		obs.SetState(core.StateUpToDate)
		e.commit(ctx, task)
		return task, nil
	}
	obs.SetState(core.StateHasTasks)
	return task, nil
}

// DownloadAll reconciles the directory tree and runs the pipeline over
// task. Per-file failures leave a degraded result and a nil error.
func (e *Engine) DownloadAll(ctx context.Context, task *core.UpdateTask, obs core.Observer) (*core.BatchResult, error) {
	const op = "engine.Engine.DownloadAll"
	if err := e.acquire(op); err != nil {
		return nil, err
	}
	defer e.release()
	return e.download(ctx, task, obs)
}

func (e *Engine) download(ctx context.Context, task *core.UpdateTask, obs core.Observer) (*core.BatchResult, error) {
	const op = "engine.Engine.download"

	if task == nil {
		return nil, core.NewUnexpectedError("nil task", nil, op)
	}

	obs.SetState(core.StateReconcilingDirectories)
	builder := dirtree.NewBuilder(e.cfg.InstallDir, e.cfg.Logger.Named("dirtree"))
	if err := builder.Reconcile(ctx, task.Directories, obs.OverallSink()); err != nil {
		return nil, err
	}

	obs.SetState(core.StateFetchingFiles)
	dlr, err := e.newDownloader()
	if err != nil {
		return nil, core.NewUnexpectedError("cannot build transport", err, op)
	}
	retry := worker.RetryPolicy{Limit: task.RetryLimit, Delay: task.RetryDelay}
	if task.Descriptor == nil {
		retry = e.cfg.DefaultRetry
	}
	pipeline, err := worker.NewPipeline(&worker.PipelineConfig{
		Downloader:       dlr,
		Extractor:        codec.NewCabinet(),
		Validator:        e.validator,
		InstallDir:       e.cfg.InstallDir,
		WorkDir:          e.cfg.WorkDir,
		Retry:            retry,
		ProgressInterval: e.cfg.ProgressInterval,
		Logger:           e.cfg.Logger.Named("pipeline"),
		Metrics:          e.metrics,
	})
	if err != nil {
		return nil, core.NewUnexpectedError("cannot build pipeline", err, op)
	}

	res, err := pipeline.Process(ctx, task, obs.OverallSink(), obs.TransferSink())
	if err != nil {
		return nil, err
	}
	if res.Success() {
		e.commit(ctx, task)
	}
	e.logger.Info("batch finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Bool("cancelled", res.Cancelled),
	)
	return res, nil
}

// commit stores the descriptor that produced a fully applied task. A
// failure only costs a redundant check next time.
func (e *Engine) commit(ctx context.Context, task *core.UpdateTask) {
	if len(task.Descriptor) == 0 {
		return
	}
	p := filepath.Join(e.cfg.StateDir, version.FileName)
	if err := version.Save(ctx, p, task.Descriptor); err != nil {
		e.logger.Warn("cannot save version descriptor", zap.Error(err))
		return
	}
	e.logger.Info("version descriptor saved", zap.Int64("version", task.ToVersion))
}

// Update checks for updates and applies them.
func (e *Engine) Update(ctx context.Context, obs core.Observer) (*core.Report, error) {
	const op = "engine.Engine.Update"
	if err := e.acquire(op); err != nil {
		return failedReport(err), err
	}
	defer e.release()
	return e.observeRun(core.RunKindUpdate, func() (*core.Report, error) {
		return e.run(ctx, core.ModeUpdate, obs)
	})
}

// Repair re-validates every file and fetches what is missing or stale.
func (e *Engine) Repair(ctx context.Context, obs core.Observer) (*core.Report, error) {
	const op = "engine.Engine.Repair"
	if err := e.acquire(op); err != nil {
		return failedReport(err), err
	}
	defer e.release()
	return e.observeRun(core.RunKindRepair, func() (*core.Report, error) {
		return e.run(ctx, core.ModeRepair, obs)
	})
}

// Bootstrap installs the base game from the swarm and then repairs it. When
// the swarm path fails for any reason other than a stop signal, the repair
// alone fetches everything.
func (e *Engine) Bootstrap(ctx context.Context, transferID, saveDir string, obs core.Observer) (*core.Report, error) {
	const op = "engine.Engine.Bootstrap"
	if err := e.acquire(op); err != nil {
		return failedReport(err), err
	}
	defer e.release()
	return e.observeRun(core.RunKindBootstrap, func() (*core.Report, error) {
		bootErr := e.bootstrap(ctx, transferID, saveDir, obs)
		if bootErr != nil {
			if ctx.Err() != nil {
				return failedReport(bootErr), bootErr
			}
			e.logger.Warn("bootstrap failed, falling back to repair", zap.Error(bootErr))
		}
		rep, err := e.run(ctx, core.ModeRepair, obs)
		if rep != nil {
			rep.Bootstrapped = bootErr == nil
		}
		return rep, err
	})
}

func (e *Engine) bootstrap(ctx context.Context, transferID, saveDir string, obs core.Observer) error {
	const op = "engine.Engine.bootstrap"

	if e.cfg.Swarm == nil {
		return core.NewConfigurationError("no swarm client configured", nil, op)
	}
	if transferID == "" {
		return core.NewConfigurationError("no bootstrap transfer id configured", nil, op)
	}
	if saveDir == "" {
		saveDir = filepath.Join(e.cfg.StateDir, "bootstrap")
	}
	c, err := bootstrap.NewCoordinator(&bootstrap.Config{
		Swarm:        e.cfg.Swarm,
		Extractor:    codec.NewArchive(1),
		InstallDir:   e.cfg.InstallDir,
		Free:         e.cfg.Free,
		Margin:       e.cfg.BootstrapMargin,
		PollInterval: e.cfg.BootstrapPoll,
		Sleep:        e.cfg.Sleep,
		KeepArchive:  e.cfg.KeepArchive,
		Logger:       e.cfg.Logger.Named("bootstrap"),
	})
	if err != nil {
		return core.NewUnexpectedError("cannot build bootstrap", err, op)
	}
	return c.Run(ctx, transferID, saveDir, obs)
}

func (e *Engine) run(ctx context.Context, mode core.Mode, obs core.Observer) (*core.Report, error) {
	task, err := e.check(ctx, mode, obs)
	if err != nil {
		obs.SetState(core.StateDone)
		return failedReport(err), err
	}
	if task.Empty() {
		msg := MsgUpToDate
		if task.Mode == core.ModeRepair {
			msg = MsgAllValid
		}
		obs.OverallSink().Report(1, msg)
		obs.SetState(core.StateDone)
		return &core.Report{Outcome: core.OutcomeSuccess, Message: msg, Task: task}, nil
	}

	batch, err := e.download(ctx, task, obs)
	obs.SetState(core.StateDone)
	if err != nil {
		rep := failedReport(err)
		rep.Task = task
		return rep, err
	}

	rep := &core.Report{Outcome: batch.Outcome, Task: task, Batch: batch, Message: MsgAllProcessed}
	if !batch.Success() {
		rep.Message = MsgDegraded
	}
	obs.OverallSink().Report(1, rep.Message)
	return rep, nil
}

func (e *Engine) observeRun(kind core.RunKind, fn func() (*core.Report, error)) (*core.Report, error) {
	started := time.Now()
	rep, err := fn()
	outcome := core.OutcomeFailed
	if rep != nil {
		outcome = rep.Outcome
	}
	e.metrics.ObserveRun(string(kind), string(outcome), time.Since(started))
	if err != nil {
		e.logger.Error("run failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	return rep, err
}

func failedReport(err error) *core.Report {
	msg := core.UserMessage(err)
	if errors.Is(err, context.Canceled) {
		msg = "Operation cancelled."
	}
	return &core.Report{Outcome: core.OutcomeFailed, Message: msg}
}
