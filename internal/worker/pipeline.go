package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/codec"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/metrics"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/utils"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/validate"
	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"
)

type PipelineConfig struct {
	Downloader *Downloader
	Extractor  codec.Extractor
	Validator  *validate.Validator

	InstallDir string
	// WorkDir holds downloaded cabinets and extracted artifacts until they
	// are verified. It should live on the install filesystem so the final
	// move is a rename.
	WorkDir string

	Retry            RetryPolicy
	ProgressInterval time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Pipeline downloads, verifies and places the files of a task one by one.
type Pipeline struct {
	dlr       *Downloader
	extractor codec.Extractor
	validator *validate.Validator

	installDir string
	workDir    string
	retry      RetryPolicy
	interval   time.Duration

	logger  *zap.Logger
	metrics *metrics.Recorder
}

func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: required config")
	}
	if cfg.Downloader == nil {
		return nil, errors.New("pipeline: required downloader")
	}
	if cfg.InstallDir == "" {
		return nil, errors.New("pipeline: required install dir")
	}
	p := &Pipeline{
		dlr:        cfg.Downloader,
		extractor:  cfg.Extractor,
		validator:  cfg.Validator,
		installDir: cfg.InstallDir,
		workDir:    cfg.WorkDir,
		retry:      cfg.Retry,
		interval:   cfg.ProgressInterval,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if p.extractor == nil {
		p.extractor = codec.NewCabinet()
	}
	if p.validator == nil {
		p.validator = validate.New(validate.AlgorithmMD5)
	}
	if p.workDir == "" {
		p.workDir = filepath.Join(p.installDir, ".patcher-tmp")
	}
	if p.interval <= 0 {
		p.interval = utils.DefaultProgressInterval
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// Process runs every file of task in order. Per-file failures are recorded
// in the result and never stop the batch. A stop signal on ctx is observed
// only between files: the file in flight runs to completion and the rest
// are marked skipped. The returned error is reserved for failures that make
// the whole batch impossible.
func (p *Pipeline) Process(
	ctx context.Context,
	task *core.UpdateTask,
	overall, transfer core.ProgressSink,
) (*core.BatchResult, error) {
	const op = "worker.Pipeline.Process"

	overall = core.SinkOrNop(overall)
	transfer = core.SinkOrNop(transfer)
	res := &core.BatchResult{}
	if task.Empty() {
		res.Finalize()
		return res, nil
	}
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return nil, core.NewResourceError("cannot create work directory", err, op)
	}

	total := task.Len()
	res.Files = make([]*core.FileResult, total)
	for i, rec := range task.Files {
		res.Files[i] = &core.FileResult{ID: rec.ID, Path: rec.Path, Status: core.FileStatusPending}
	}

	for i, rec := range task.Files {
		fr := res.Files[i]
		if ctx.Err() != nil {
			res.Cancelled = true
			for _, rest := range res.Files[i:] {
				rest.Status = core.FileStatusSkipped
			}
			p.logger.Info("batch stopped", zap.Int("processed", i), zap.Int("total", total))
			break
		}

		overall.Report(float64(i)/float64(total),
			fmt.Sprintf("Downloading file %d of %d: %s", i+1, total, rec.Path))

		started := time.Now()
		err := p.processFile(context.WithoutCancel(ctx), rec, fr, i, total, overall, transfer)
		fr.Elapsed = time.Since(started)
		if err != nil {
			fr.Status = core.FileStatusError
			fr.Error = err.Error()
			fr.Code = core.CodeOf(err)
			p.logger.Warn("file failed",
				zap.Int64("id", rec.ID),
				zap.String("path", rec.Path),
				zap.Int("attempt", fr.Attempts),
				zap.Error(err),
			)
		} else {
			fr.Status = core.FileStatusCompleted
		}
		p.metrics.ObserveFile(string(fr.Status), fr.Elapsed)
	}

	res.Finalize()
	overall.Report(1, "All downloads processed.")
	return res, nil
}

func (p *Pipeline) processFile(
	ctx context.Context,
	rec *core.FileRecord,
	fr *core.FileResult,
	index, total int,
	overall, transfer core.ProgressSink,
) error {
	const op = "worker.Pipeline.processFile"

	base := strconv.FormatInt(rec.ID, 10) + "-" + strconv.FormatInt(rec.Version, 10)
	cabPath := filepath.Join(p.workDir, base+".cab")
	outPath := filepath.Join(p.workDir, base+".out")
	defer func() {
		_ = os.Remove(cabPath)
		_ = os.Remove(outPath)
	}()

	size, attempts, err := p.dlr.Download(ctx, rec.URL, cabPath, p.retry, p.transferProgress(rec, transfer))
	fr.Attempts = attempts
	if err != nil {
		return err
	}
	if size != rec.CompressedSize {
		return core.NewIntegrityError(
			fmt.Sprintf("downloaded size %d does not match %d", size, rec.CompressedSize), nil, op)
	}

	overall.Report(float64(index)/float64(total),
		fmt.Sprintf("Extracting file %d of %d: %s", index+1, total, rec.Path))
	if _, err := p.extractor.Extract(ctx, cabPath, outPath); err != nil {
		return core.NewIntegrityError("cannot extract "+rec.Path, err, op)
	}
	if err := p.validator.Verify(outPath, rec.DecompressedSize, rec.Hash); err != nil {
		return core.NewIntegrityError("verification failed for "+rec.Path, err, op)
	}

	dst, err := securejoin.SecureJoin(p.installDir, rec.Path)
	if err != nil {
		return core.NewResourceError("unsafe destination "+rec.Path, err, op)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return core.NewResourceError("cannot create parent of "+rec.Path, err, op)
	}
	if st, err := os.Lstat(dst); err == nil && st.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return core.NewResourceError("cannot clear "+rec.Path, err, op)
		}
	}
	if err := utils.MoveFile(outPath, dst); err != nil {
		return core.NewResourceError("cannot place "+rec.Path, err, op)
	}
	return nil
}

// transferProgress maps attempt bytes onto the transfer sink at most once
// per interval. The tick that completes the object is always reported.
func (p *Pipeline) transferProgress(rec *core.FileRecord, sink core.ProgressSink) ProgressFunc {
	throttle := utils.NewThrottle(p.interval)
	start := time.Now()
	var last int64
	report := func(received int64) {
		rate := 0.0
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			rate = float64(received) / elapsed
		}
		sink.Report(
			utils.Fraction(received, rec.CompressedSize),
			utils.TransferLabel(received, rec.CompressedSize, rate),
		)
	}
	return func(received int64) {
		if received < last {
			start = time.Now()
		}
		if received == rec.CompressedSize && last != received {
			last = received
			report(received)
			return
		}
		last = received
		throttle.Do(func() { report(received) })
	}
}
