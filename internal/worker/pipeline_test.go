package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/codec"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/codec/codectest"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/validate"
	"github.com/stretchr/testify/require"
)

type patchHost struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string]int
	hits     map[string]int
	srv      *httptest.Server
}

func newPatchHost(t *testing.T) *patchHost {
	t.Helper()
	h := &patchHost{
		objects:  map[string][]byte{},
		failures: map[string]int{},
		hits:     map[string]int{},
	}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.hits[r.URL.Path]++
		fail := h.failures[r.URL.Path] >= h.hits[r.URL.Path]
		body, ok := h.objects[r.URL.Path]
		h.mu.Unlock()
		if fail {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *patchHost) hitCount(p string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[p]
}

// publish serves content as a cabinet and returns a matching record.
func (h *patchHost) publish(t *testing.T, id, ver int64, path, content string) *core.FileRecord {
	t.Helper()
	cab := codectest.Cabinet(t, []byte(content))
	sum := md5.Sum([]byte(content))
	rec := &core.FileRecord{
		ID:               id,
		Path:             path,
		Version:          ver,
		CompressedSize:   int64(len(cab)),
		DecompressedSize: int64(len(content)),
		Hash:             hex.EncodeToString(sum[:]),
	}
	rec.URL = rec.BuildURL(h.srv.URL, "patch")
	h.mu.Lock()
	h.objects["/patch/"+rec.ObjectName()] = cab
	h.mu.Unlock()
	return rec
}

type spyExtractor struct {
	inner codec.Extractor
	calls int
}

func (s *spyExtractor) Extract(ctx context.Context, src, dst string) (int64, error) {
	s.calls++
	return s.inner.Extract(ctx, src, dst)
}

type sinkLog struct {
	mu   sync.Mutex
	msgs []string
	last float64
}

func (s *sinkLog) Report(f float64, m string) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.last = f
	s.mu.Unlock()
}

func newTestPipeline(t *testing.T, h *patchHost, install string, ex codec.Extractor) *Pipeline {
	t.Helper()
	dlr, err := NewDownloader(&DownloaderConfig{
		Client: h.srv.Client(),
		Sleep:  (&sleepRecorder{}).Sleep,
	})
	require.NoError(t, err)
	p, err := NewPipeline(&PipelineConfig{
		Downloader: dlr,
		Extractor:  ex,
		Validator:  validate.New(validate.AlgorithmMD5),
		InstallDir: install,
		Retry:      RetryPolicy{Limit: 3},
	})
	require.NoError(t, err)
	return p
}

func readInstalled(t *testing.T, install, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(install, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func TestPipelinePlacesVerifiedFiles(t *testing.T) {
	t.Parallel()

	h := newPatchHost(t)
	install := t.TempDir()
	task := &core.UpdateTask{Mode: core.ModeUpdate, Files: []*core.FileRecord{
		h.publish(t, 1, 7, "Client/Binaries/TERA.exe", strings.Repeat("MZ", 300)),
		h.publish(t, 2, 6, "Client/S1Game/Config/S1Engine.ini", "[Engine]\nFoo=1\n"),
	}}

	overall, transfer := &sinkLog{}, &sinkLog{}
	res, err := newTestPipeline(t, h, install, nil).Process(context.Background(), task, overall, transfer)
	require.NoError(t, err)
	require.True(t, res.Success())
	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, "[Engine]\nFoo=1\n", readInstalled(t, install, "Client/S1Game/Config/S1Engine.ini"))

	require.Equal(t, "Downloading file 1 of 2: Client/Binaries/TERA.exe", overall.msgs[0])
	require.Equal(t, "All downloads processed.", overall.msgs[len(overall.msgs)-1])
	require.Equal(t, 1.0, overall.last)
	require.NotEmpty(t, transfer.msgs)
	require.True(t, strings.HasPrefix(transfer.msgs[0], "Progress: ( "))

	entries, err := os.ReadDir(filepath.Join(install, ".patcher-tmp"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPipelineHashMismatchNeverPlaced(t *testing.T) {
	t.Parallel()

	h := newPatchHost(t)
	install := t.TempDir()
	bad := h.publish(t, 1, 7, "Client/bad.gpk", "tampered content")
	bad.Hash = strings.Repeat("0", 32)
	good := h.publish(t, 2, 7, "Client/good.gpk", "fine")

	res, err := newTestPipeline(t, h, install, nil).Process(context.Background(),
		&core.UpdateTask{Files: []*core.FileRecord{bad, good}}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, core.OutcomeDegraded, res.Outcome)
	require.Equal(t, core.FileStatusError, res.Files[0].Status)
	require.Equal(t, core.ErrorCodeIntegrity, res.Files[0].Code)
	require.Equal(t, core.FileStatusCompleted, res.Files[1].Status)

	_, err = os.Stat(filepath.Join(install, "Client", "bad.gpk"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, "fine", readInstalled(t, install, "Client/good.gpk"))
	// integrity failures are not retried within the pass
	require.Equal(t, 1, h.hitCount("/patch/1-7.cab"))
}

func TestPipelineSizeMismatchSkipsExtraction(t *testing.T) {
	t.Parallel()

	h := newPatchHost(t)
	install := t.TempDir()
	rec := h.publish(t, 1, 7, "a.bin", "abc")
	rec.CompressedSize++

	spy := &spyExtractor{inner: codec.NewCabinet()}
	res, err := newTestPipeline(t, h, install, spy).Process(context.Background(),
		&core.UpdateTask{Files: []*core.FileRecord{rec}}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, core.FileStatusError, res.Files[0].Status)
	require.Equal(t, 0, spy.calls)
}

func TestPipelineRetryScenario(t *testing.T) {
	t.Parallel()

	h := newPatchHost(t)
	install := t.TempDir()
	flaky := h.publish(t, 1, 7, "flaky.bin", "eventually")
	dead := h.publish(t, 2, 7, "dead.bin", "never")
	after := h.publish(t, 3, 7, "after.bin", "still processed")
	h.failures["/patch/1-7.cab"] = 2
	h.failures["/patch/2-7.cab"] = 100

	res, err := newTestPipeline(t, h, install, nil).Process(context.Background(),
		&core.UpdateTask{Files: []*core.FileRecord{flaky, dead, after}}, nil, nil)
	require.NoError(t, err)

	require.Equal(t, core.FileStatusCompleted, res.Files[0].Status)
	require.Equal(t, 3, res.Files[0].Attempts)
	require.Equal(t, core.FileStatusError, res.Files[1].Status)
	require.Equal(t, core.ErrorCodeTransient, res.Files[1].Code)
	require.Equal(t, 3, h.hitCount("/patch/2-7.cab"))
	require.Equal(t, core.FileStatusCompleted, res.Files[2].Status)

	require.Equal(t, core.OutcomeDegraded, res.Outcome)
	require.Equal(t, []int64{2}, res.Remaining())
	require.Equal(t, "still processed", readInstalled(t, install, "after.bin"))
}

func TestPipelineStopsBetweenFiles(t *testing.T) {
	t.Parallel()

	h := newPatchHost(t)
	install := t.TempDir()
	task := &core.UpdateTask{Files: []*core.FileRecord{
		h.publish(t, 1, 7, "one.bin", "1"),
		h.publish(t, 2, 7, "two.bin", "2"),
		h.publish(t, 3, 7, "three.bin", "3"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// stop as soon as the first file starts downloading
	overall := core.SinkFunc(func(_ float64, m string) {
		if strings.HasPrefix(m, "Downloading file 1 ") {
			cancel()
		}
	})

	res, err := newTestPipeline(t, h, install, nil).Process(ctx, task, overall, nil)
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.Equal(t, core.FileStatusCompleted, res.Files[0].Status)
	require.Equal(t, core.FileStatusSkipped, res.Files[1].Status)
	require.Equal(t, core.FileStatusSkipped, res.Files[2].Status)
	require.Equal(t, core.OutcomeDegraded, res.Outcome)
	require.Equal(t, 0, h.hitCount("/patch/2-7.cab"))
}

func TestPipelineEmptyTask(t *testing.T) {
	t.Parallel()

	h := newPatchHost(t)
	res, err := newTestPipeline(t, h, t.TempDir(), nil).Process(context.Background(), &core.UpdateTask{}, nil, nil)
	require.NoError(t, err)
	require.True(t, res.Success())
}

func TestTransferProgressAlwaysReportsCompletion(t *testing.T) {
	t.Parallel()

	p := &Pipeline{interval: time.Hour}
	sink := &sinkLog{}
	progress := p.transferProgress(&core.FileRecord{CompressedSize: 100}, sink)

	progress(10)
	progress(97)
	progress(100)
	progress(100)

	require.Len(t, sink.msgs, 2)
	require.Equal(t, 1.0, sink.last)
	require.True(t, strings.HasPrefix(sink.msgs[1], "Progress: ( 100 B / 100 B )"))
}
