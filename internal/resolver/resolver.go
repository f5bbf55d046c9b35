// Package resolver decides which files a run must fetch. A Session is built
// per invocation and owns the manifest connection and the descriptors it
// read.
package resolver

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
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/dirtree"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/manifest"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/validate"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/version"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/worker"
	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"
)

type Config struct {
	PatchURL   string
	InstallDir string
	// StateDir keeps the local descriptor and the decoded manifest.
	StateDir string

	// DefaultRetry applies to the descriptor fetch when no local descriptor
	// can be read.
	DefaultRetry worker.RetryPolicy

	Downloader *worker.Downloader
	Extractor  codec.Extractor
	Validator  *validate.Validator
	Admission  *diskspace.Admission

	Logger *zap.Logger
}

// Session resolves tasks for one invocation. It is not safe for concurrent
// use.
type Session struct {
	cfg    Config
	logger *zap.Logger

	local     *version.Descriptor
	remote    *version.Descriptor
	remoteRaw []byte
	store     *manifest.Store
}

func NewSession(cfg *Config) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("resolver: required config")
	}
	if cfg.PatchURL == "" || cfg.InstallDir == "" || cfg.StateDir == "" {
		return nil, errors.New("resolver: required patch url, install dir and state dir")
	}
	if cfg.Downloader == nil {
		return nil, errors.New("resolver: required downloader")
	}
	c := *cfg
	if c.Extractor == nil {
		c.Extractor = codec.NewCabinet()
	}
	if c.Validator == nil {
		c.Validator = validate.New(validate.AlgorithmMD5)
	}
	if c.Admission == nil {
		c.Admission = diskspace.NewAdmission(nil, diskspace.DefaultUpdateMargin)
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{cfg: c, logger: logger}, nil
}

func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

func (s *Session) descriptorPath() string {
	return filepath.Join(s.cfg.StateDir, version.FileName)
}

// RetryPolicy is the transfer policy announced by the patch host, or the
// default before a descriptor has been read.
func (s *Session) RetryPolicy() worker.RetryPolicy {
	switch {
	case s.remote != nil:
		return policyOf(s.remote)
	case s.local != nil:
		return policyOf(s.local)
	}
	return s.cfg.DefaultRetry
}

func policyOf(d *version.Descriptor) worker.RetryPolicy {
	return worker.RetryPolicy{Limit: d.RetryLimit, Delay: d.RetryDelay}
}

// Resolve builds the task for mode. Update escalates to Repair once when the
// local descriptor or the manifest cannot be read. An empty task in Update
// mode means the install is up to date.
func (s *Session) Resolve(ctx context.Context, mode core.Mode, sink core.ProgressSink) (*core.UpdateTask, error) {
	sink = core.SinkOrNop(sink)
	sink.Report(0, "Checking for updates...")

	escalated := false
	for {
		task, err := s.resolve(ctx, mode, sink)
		if err == nil {
			return task, nil
		}
		if mode == core.ModeUpdate && !escalated && core.CodeOf(err) == core.ErrorCodeConfiguration {
			s.logger.Warn("escalating update to repair", zap.Error(err))
			mode = core.ModeRepair
			escalated = true
			s.dropStore()
			continue
		}
		return nil, err
	}
}

func (s *Session) resolve(ctx context.Context, mode core.Mode, sink core.ProgressSink) (*core.UpdateTask, error) {
	const op = "resolver.Session.resolve"

	local, err := version.Load(s.descriptorPath())
	if err != nil {
		s.local = nil
		if mode == core.ModeUpdate {
			return nil, core.NewConfigurationError("local version descriptor is unreadable", err, op)
		}
		s.logger.Info("no usable local descriptor", zap.Error(err))
	} else {
		s.local = local
	}

	if err := s.fetchRemote(ctx); err != nil {
		return nil, err
	}
	if err := s.openStore(ctx); err != nil {
		return nil, err
	}

	latest, err := s.store.LatestVersion(ctx)
	if err != nil {
		return nil, core.NewUnexpectedError("manifest query failed", err, op)
	}

	task := &core.UpdateTask{
		Mode:       mode,
		ToVersion:  latest,
		RetryLimit: s.remote.RetryLimit,
		RetryDelay: s.remote.RetryDelay,
		Descriptor: s.remoteRaw,
	}
	if s.local != nil {
		task.FromVersion = s.local.CurrentVersion
	}

	switch mode {
	case core.ModeUpdate:
		task.Files, err = s.store.UpdateManifest(ctx, s.local.CurrentVersion)
		if err != nil {
			return nil, core.NewUnexpectedError("manifest query failed", err, op)
		}
	case core.ModeRepair:
		task.Files, err = s.scan(ctx, sink)
		if err != nil {
			return nil, err
		}
	default:
		return nil, core.NewUnexpectedError(fmt.Sprintf("unknown mode %q", mode), nil, op)
	}

	paths, err := s.store.Paths(ctx)
	if err != nil {
		return nil, core.NewUnexpectedError("manifest query failed", err, op)
	}
	task.Directories = dirtree.Directories(paths)

	var payload uint64
	for _, rec := range task.Files {
		rec.URL = rec.BuildURL(s.cfg.PatchURL, s.remote.DownloadRoot)
		payload += uint64(max(rec.DecompressedSize, 0))
	}
	if task.Empty() {
		s.logger.Info("nothing to fetch", zap.String("mode", string(mode)), zap.Int64("version", latest))
		return task, nil
	}

	required, err := s.cfg.Admission.Admit(s.cfg.InstallDir, payload)
	if err != nil {
		return nil, err
	}
	task.RequiredBytes = required
	s.logger.Info("task resolved",
		zap.String("mode", string(mode)),
		zap.Int("files", task.Len()),
		zap.Uint64("required_bytes", required),
	)
	return task, nil
}

func (s *Session) fetchRemote(ctx context.Context) error {
	const op = "resolver.Session.fetchRemote"

	url := core.JoinURL(s.cfg.PatchURL, version.FileName)
	raw, err := s.cfg.Downloader.Fetch(ctx, url, s.RetryPolicy())
	if err != nil {
		return err
	}
	remote, err := version.Parse(raw)
	if err != nil {
		return core.NewConfigurationError("remote version descriptor is malformed", err, op)
	}
	s.remote, s.remoteRaw = remote, raw
	return nil
}

// openStore fetches and decodes the manifest unless this session already
// holds it.
func (s *Session) openStore(ctx context.Context) error {
	const op = "resolver.Session.openStore"

	if s.store != nil {
		return nil
	}
	if err := os.MkdirAll(s.cfg.StateDir, 0o755); err != nil {
		return core.NewResourceError("cannot create state directory", err, op)
	}

	dbPath := filepath.Join(s.cfg.StateDir, s.remote.ManifestName())
	cabPath := dbPath + ".cab"
	url := core.JoinURL(s.cfg.PatchURL, s.remote.ManifestPath)
	if _, _, err := s.cfg.Downloader.Download(ctx, url, cabPath, s.RetryPolicy(), nil); err != nil {
		return err
	}
	if _, err := s.cfg.Extractor.Extract(ctx, cabPath, dbPath); err != nil {
		_ = os.Remove(cabPath)
		return core.NewConfigurationError("manifest is undecodable", err, op)
	}
	store, err := manifest.Open(ctx, dbPath)
	if err != nil {
		return core.NewConfigurationError("manifest is undecodable", err, op)
	}
	s.store = store
	return nil
}

func (s *Session) dropStore() {
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
}

// scan keeps every manifest file that is absent or differs from the
// manifest. Stale content is deleted right away.
func (s *Session) scan(ctx context.Context, sink core.ProgressSink) ([]*core.FileRecord, error) {
	const op = "resolver.Session.scan"

	total, err := s.store.FullManifestCount(ctx)
	if err != nil {
		return nil, core.NewUnexpectedError("manifest count failed", err, op)
	}
	sink.Report(0, fmt.Sprintf("Scanning %d manifest files...", total))
	all, err := s.store.FullManifest(ctx)
	if err != nil {
		return nil, core.NewUnexpectedError("manifest query failed", err, op)
	}
	if len(all) != total {
		s.logger.Warn("manifest count disagrees with listing",
			zap.Int("count", total),
			zap.Int("listed", len(all)),
		)
		total = len(all)
	}

	started := time.Now()
	var res []*core.FileRecord
	for i, rec := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sink.Report(float64(i)/float64(max(total, 1)),
			fmt.Sprintf("Scanning file %d of %d: %s", i+1, total, rec.Path))

		p, err := securejoin.SecureJoin(s.cfg.InstallDir, rec.Path)
		if err != nil {
			return nil, core.NewResourceError("unsafe manifest path "+rec.Path, err, op)
		}
		cond, err := s.cfg.Validator.Inspect(p, rec.DecompressedSize, rec.Hash)
		if err != nil {
			return nil, core.NewResourceError("cannot inspect "+rec.Path, err, op)
		}
		if !cond.NeedsFetch() {
			continue
		}
		if cond == validate.ConditionHashMismatch {
			if err := os.Remove(p); err != nil {
				return nil, core.NewResourceError("cannot delete stale "+rec.Path, err, op)
			}
		}
		s.logger.Debug("file queued",
			zap.Int64("id", rec.ID),
			zap.String("path", rec.Path),
			zap.Stringer("condition", cond),
		)
		res = append(res, rec)
	}
	sink.Report(1, fmt.Sprintf("Scanned %d files.", total))
	s.logger.Info("repair scan done",
		zap.Int("files", total),
		zap.Int("queued", len(res)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}
