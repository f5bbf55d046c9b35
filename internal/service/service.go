// Package service records engine runs and feeds them, one at a time, to a
// single worker.
package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/storage"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/utils"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/worker"
	"go.uber.org/zap"
)

// Runner is the engine surface the service drives.
type Runner interface {
	Update(ctx context.Context, obs core.Observer) (*core.Report, error)
	Repair(ctx context.Context, obs core.Observer) (*core.Report, error)
	Bootstrap(ctx context.Context, transferID, saveDir string, obs core.Observer) (*core.Report, error)
	Busy() bool
}

type jobSubmitter interface {
	Submit(ctx context.Context, job worker.Job) error
	Stop()
}

type Options struct {
	Store  storage.RunStore
	Runner Runner
	IDGen  IDGenerator
	Now    func() time.Time
	Logger *zap.Logger

	BootstrapTransferID string
	BootstrapSaveDir    string
}

type RunService struct {
	store  storage.RunStore
	runner Runner
	pool   jobSubmitter
	idGen  IDGenerator
	now    func() time.Time
	logger *zap.Logger

	transferID string
	saveDir    string

	// active is held from Start until the job is handled.
	active atomic.Bool
	live   liveTracker
}

// NewRunService starts the single-worker pool the runs are handled on.
func NewRunService(opts *Options) (*RunService, error) {
	const op = "service.NewRunService"
	if opts == nil || opts.Store == nil || opts.Runner == nil {
		return nil, core.NewAppErrorBuilder(core.ErrorCodeUnexpected).
			Message("run store and runner required").
			SafeToShow(false).
			Oper(op).
			Build()
	}
	s := &RunService{
		store:      opts.Store,
		runner:     opts.Runner,
		idGen:      opts.IDGen,
		now:        opts.Now,
		logger:     opts.Logger,
		transferID: opts.BootstrapTransferID,
		saveDir:    opts.BootstrapSaveDir,
	}
	if s.idGen == nil {
		s.idGen = NewRandomIDGenerator("run-")
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	pool, err := worker.NewPool(1, s, 1, s.logger.Named("pool"))
	if err != nil {
		return nil, err
	}
	if err := pool.Start(); err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// Close stops the worker. A run in flight sees its context cancelled and
// stops between files.
func (s *RunService) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Stop()
}

// Start records a queued run of the given kind and hands it to the worker.
// It fails with core.ErrBusy while another run is queued or in flight.
func (s *RunService) Start(ctx context.Context, kind core.RunKind) (*core.Run, error) {
	const op = "service.RunService.Start"

	if err := ctx.Err(); err != nil {
		return nil, internalError(op, "ctx error", err)
	}
	switch kind {
	case core.RunKindUpdate, core.RunKindRepair, core.RunKindBootstrap:
	default:
		return nil, core.NewAppErrorBuilder(core.ErrorCodeConfiguration).
			Message("unknown run kind " + string(kind)).
			SafeToShow(true).
			Oper(op).
			Build()
	}
	if !s.active.CompareAndSwap(false, true) {
		return nil, core.NewBusyError(op)
	}
	if s.runner.Busy() {
		s.active.Store(false)
		return nil, core.NewBusyError(op)
	}

	id, err := s.idGen.NewID()
	if err != nil {
		s.active.Store(false)
		return nil, internalError(op, "gen id error", err)
	}
	run := core.NewRun(id, kind, utils.TimePtr(s.now().UTC()))
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.active.Store(false)
		return nil, internalError(op, "create run", err)
	}

	if err := s.pool.Submit(ctx, worker.Job{RunID: id, Kind: kind}); err != nil {
		s.active.Store(false)
		if errors.Is(err, worker.ErrPoolFull) {
			return nil, core.NewBusyError(op)
		}
		run.Finish(nil, utils.TimePtr(s.now().UTC()))
		run.Message = "run was not scheduled"
		if uerr := s.store.UpdateRun(context.WithoutCancel(ctx), run); uerr != nil {
			s.logger.Warn("cannot record unscheduled run", zap.String("run_id", id), zap.Error(uerr))
		}
		return nil, internalError(op, "submit run", err)
	}
	s.logger.Info("run queued", zap.String("run_id", id), zap.String("kind", string(kind)))
	return run.CloneRun(), nil
}

// Handle runs one queued job. It implements worker.Handler.
func (s *RunService) Handle(ctx context.Context, job worker.Job) error {
	const op = "service.RunService.Handle"
	defer s.active.Store(false)

	// Run history is written even after a stop signal.
	storeCtx := context.WithoutCancel(ctx)

	run, err := s.store.GetRun(storeCtx, job.RunID)
	if err != nil {
		return tryAsAppError(err, op)
	}
	run.Status = core.RunStatusRunning
	run.UpdatedAt = utils.TimePtr(s.now().UTC())
	if err := s.store.UpdateRun(storeCtx, run); err != nil {
		return internalError(op, "update run", err)
	}

	s.live.begin(job.RunID, job.Kind)
	defer s.live.end()
	obs := s.live.observer()

	var rep *core.Report
	var runErr error
	switch job.Kind {
	case core.RunKindUpdate:
		rep, runErr = s.runner.Update(ctx, obs)
	case core.RunKindRepair:
		rep, runErr = s.runner.Repair(ctx, obs)
	case core.RunKindBootstrap:
		rep, runErr = s.runner.Bootstrap(ctx, s.transferID, s.saveDir, obs)
	}

	run.Finish(rep, utils.TimePtr(s.now().UTC()))
	if err := s.store.UpdateRun(storeCtx, run); err != nil {
		return internalError(op, "finish run", err)
	}
	s.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("outcome", string(run.Outcome)),
		zap.String("message", run.Message),
	)
	return runErr
}

// Get returns one run by id.
func (s *RunService) Get(ctx context.Context, id string) (*core.Run, error) {
	const op = "service.RunService.Get"
	if err := ctx.Err(); err != nil {
		return nil, internalError(op, "ctx error", err)
	}
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, tryAsAppError(err, op)
	}
	return run, nil
}

// List returns every recorded run, oldest first.
func (s *RunService) List(ctx context.Context) ([]*core.Run, error) {
	const op = "service.RunService.List"
	if err := ctx.Err(); err != nil {
		return nil, internalError(op, "ctx error", err)
	}
	runs, err := s.store.ListRuns(ctx)
	if err != nil {
		return nil, tryAsAppError(err, op)
	}
	return runs, nil
}

// Live returns the progress of the run in flight, or of the last one.
func (s *RunService) Live() Live {
	l := s.live.get()
	l.Busy = l.Busy || s.active.Load()
	return l
}

func tryAsAppError(err error, op string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := core.AsAppError(err); ok {
		return appErr.WithOper(op)
	}
	return internalError(op, "unexpected error", err)
}

func internalError(op, msg string, err error) error {
	return core.NewAppErrorBuilder(core.ErrorCodeUnexpected).
		Message(msg).
		Err(err).
		SafeToShow(false).
		Oper(op).
		Build()
}
