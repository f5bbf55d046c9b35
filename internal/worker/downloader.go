package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/metrics"
	"go.uber.org/zap"
)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy bounds transfer attempts. Limit is the total number of
// attempts; anything below 1 means a single attempt.
type RetryPolicy struct {
	Limit int
	Delay time.Duration
}

func (p RetryPolicy) attempts() int {
	return max(p.Limit, 1)
}

// ProgressFunc receives the bytes read so far by the current attempt.
type ProgressFunc func(received int64)

type DownloaderConfig struct {
	Client *http.Client

	// Timeout bounds one attempt. Zero means no per-attempt limit.
	Timeout   time.Duration
	UserAgent string
	Sleep     SleepFunc

	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Downloader performs HTTP GETs against the patch host with bounded retry.
// One Downloader, and so one transport, serves a whole invocation.
type Downloader struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	sleep     SleepFunc

	logger  *zap.Logger
	metrics *metrics.Recorder
}

func NewDownloader(cfg *DownloaderConfig) (*Downloader, error) {
	if cfg == nil {
		return nil, errors.New("downloader: required config")
	}
	dlr := &Downloader{
		client:    cfg.Client,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		sleep:     cfg.Sleep,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if dlr.client == nil {
		dlr.client = &http.Client{}
	}
	if dlr.sleep == nil {
		dlr.sleep = Sleep
	}
	if dlr.logger == nil {
		dlr.logger = zap.NewNop()
	}
	return dlr, nil
}

// Download writes the object at url to dst through a temp file. It returns
// the byte count and the number of attempts used.
func (dlr *Downloader) Download(
	ctx context.Context,
	url, dst string,
	policy RetryPolicy,
	progress ProgressFunc,
) (int64, int, error) {
	const op = "worker.Downloader.Download"

	var size int64
	attempts, err := dlr.retry(ctx, url, policy, func(ctx context.Context) error {
		n, err := dlr.downloadOnce(ctx, url, dst, progress)
		size = n
		return err
	})
	if err != nil {
		return 0, attempts, core.NewTransientError(
			fmt.Sprintf("download failed after %d attempts", attempts), err, op,
		).WithMeta("url", url)
	}
	return size, attempts, nil
}

// Fetch reads a small object into memory, for descriptors and the like.
func (dlr *Downloader) Fetch(ctx context.Context, url string, policy RetryPolicy) ([]byte, error) {
	const op = "worker.Downloader.Fetch"

	var body []byte
	attempts, err := dlr.retry(ctx, url, policy, func(ctx context.Context) error {
		resp, err := dlr.get(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(&contextReader{resp.Body, ctx})
		return err
	})
	if err != nil {
		return nil, core.NewTransientError(
			fmt.Sprintf("fetch failed after %d attempts", attempts), err, op,
		).WithMeta("url", url)
	}
	dlr.metrics.AddBytes(int64(len(body)))
	return body, nil
}

func (dlr *Downloader) retry(
	ctx context.Context,
	url string,
	policy RetryPolicy,
	once func(ctx context.Context) error,
) (int, error) {
	attempts := policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		attemptCtx, cancel := dlr.attemptContext(ctx)
		err := once(attemptCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}

		lastErr = err
		dlr.logger.Warn("transfer attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		dlr.metrics.IncRetry()
		if err := dlr.sleep(ctx, policy.Delay); err != nil {
			return attempt, err
		}
	}
	return attempts, lastErr
}

func (dlr *Downloader) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if dlr.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, dlr.timeout)
}

func (dlr *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if dlr.userAgent != "" {
		req.Header.Set("User-Agent", dlr.userAgent)
	}
	resp, err := dlr.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("bad response status %d", resp.StatusCode)
	}
	return resp, nil
}

func (dlr *Downloader) downloadOnce(ctx context.Context, url, dst string, progress ProgressFunc) (int64, error) {
	resp, err := dlr.get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	tmpPath := dst + ".part"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open tmp: %w", err)
	}

	reader := &countingReader{r: &contextReader{resp.Body, ctx}, progress: progress}
	n, copyErr := io.Copy(f, reader)
	syncErr := f.Sync()
	closeErr := f.Close()
	dlr.metrics.AddBytes(n)

	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("copy body: %w", copyErr)
	} else if syncErr != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("sync file: %w", syncErr)
	} else if closeErr != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("closing file: %w", closeErr)
	} else if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("rename tmp file: %w", err)
	}
	return n, nil
}

type contextReader struct {
	r   io.Reader
	ctx context.Context
}

func (cr *contextReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
		return cr.r.Read(p)
	}
}

type countingReader struct {
	r        io.Reader
	n        int64
	progress ProgressFunc
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		if cr.progress != nil {
			cr.progress(cr.n)
		}
	}
	return n, err
}
