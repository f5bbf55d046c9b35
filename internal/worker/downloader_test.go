package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// flakyServer fails the first `failures` requests with a 500.
func flakyServer(t *testing.T, failures int32, body []byte) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= failures {
			http.Error(w, "try again", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestDownloader(t *testing.T, srv *httptest.Server, sleep SleepFunc) *Downloader {
	t.Helper()
	dlr, err := NewDownloader(&DownloaderConfig{
		Client:    srv.Client(),
		Timeout:   time.Second,
		UserAgent: "patcher-test",
		Sleep:     sleep,
	})
	require.NoError(t, err)
	return dlr
}

func TestDownloaderOK(t *testing.T) {
	t.Parallel()

	msg := []byte("wake up, samurai")
	srv, _ := flakyServer(t, 0, msg)
	dlr := newTestDownloader(t, srv, nil)

	dst := filepath.Join(t.TempDir(), "objs", "1-7.cab")
	var last int64
	n, attempts, err := dlr.Download(context.Background(), srv.URL+"/patch/1-7.cab", dst,
		RetryPolicy{Limit: 3}, func(received int64) { last = received })
	require.NoError(t, err)
	require.Equal(t, int64(len(msg)), n)
	require.Equal(t, 1, attempts)
	require.Equal(t, int64(len(msg)), last)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, msg, data)
	_, err = os.Stat(dst + ".part")
	require.True(t, os.IsNotExist(err))
}

func TestDownloaderRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	srv, hits := flakyServer(t, 2, []byte("ok"))
	sleeper := &sleepRecorder{}
	dlr := newTestDownloader(t, srv, sleeper.Sleep)

	_, attempts, err := dlr.Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "f"),
		RetryPolicy{Limit: 3, Delay: 250 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, int32(3), atomic.LoadInt32(hits))
	require.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, sleeper.delays)
}

func TestDownloaderExhaustsRetries(t *testing.T) {
	t.Parallel()

	srv, hits := flakyServer(t, 100, nil)
	sleeper := &sleepRecorder{}
	dlr := newTestDownloader(t, srv, sleeper.Sleep)

	dst := filepath.Join(t.TempDir(), "f")
	_, attempts, err := dlr.Download(context.Background(), srv.URL, dst, RetryPolicy{Limit: 3}, nil)
	require.Error(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, int32(3), atomic.LoadInt32(hits))
	require.Len(t, sleeper.delays, 2)
	require.Equal(t, core.ErrorCodeTransient, core.CodeOf(err))
	require.Contains(t, err.Error(), "500")

	_, err = os.Stat(dst)
	require.True(t, os.IsNotExist(err))
}

func TestDownloaderZeroLimitMeansOneAttempt(t *testing.T) {
	t.Parallel()

	srv, hits := flakyServer(t, 100, nil)
	dlr := newTestDownloader(t, srv, (&sleepRecorder{}).Sleep)

	_, attempts, err := dlr.Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "f"), RetryPolicy{}, nil)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestDownloaderTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(srv.Close)

	dlr, err := NewDownloader(&DownloaderConfig{Client: srv.Client(), Timeout: 25 * time.Millisecond})
	require.NoError(t, err)
	_, _, err = dlr.Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "f"), RetryPolicy{Limit: 1}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "context deadline exceeded")
}

func TestDownloaderBadURL(t *testing.T) {
	t.Parallel()

	dlr, err := NewDownloader(&DownloaderConfig{Client: &http.Client{Timeout: time.Second}})
	require.NoError(t, err)
	_, err = dlr.Fetch(context.Background(), "http://bad^url", RetryPolicy{Limit: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "create request")
}

func TestFetch(t *testing.T) {
	t.Parallel()

	srv, _ := flakyServer(t, 1, []byte("[Download]\nVersion = 1\n"))
	dlr := newTestDownloader(t, srv, (&sleepRecorder{}).Sleep)

	body, err := dlr.Fetch(context.Background(), srv.URL+"/version.ini", RetryPolicy{Limit: 2})
	require.NoError(t, err)
	require.Contains(t, string(body), "Version = 1")
}
