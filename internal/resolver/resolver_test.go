package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/diskspace"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/patchtest"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/version"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/worker"
	"github.com/stretchr/testify/require"
)

const plenty = uint64(1) << 40

type env struct {
	host    *patchtest.Host
	install string
	state   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	h := patchtest.NewHost(t, 7)
	h.Add(1, 0, 5, "Client\\Binaries\\TERA.exe", "exe v5").
		Add(1, 5, 6, "Client\\Binaries\\TERA.exe", "exe v6").
		Add(2, 0, 7, "Client\\S1Game\\Config\\S1Engine.ini", "[Engine]").
		Add(3, 0, 6, "Client\\S1Game\\CookedPC\\Art.gpk", "art").
		Add(4, 0, 3, "readme.txt", "hello")
	h.Publish()
	root := t.TempDir()
	return &env{host: h, install: filepath.Join(root, "TERA"), state: filepath.Join(root, "state")}
}

func (e *env) session(t *testing.T, free uint64) *Session {
	t.Helper()
	dlr, err := worker.NewDownloader(&worker.DownloaderConfig{
		Client:  e.host.Client(),
		Timeout: time.Second,
		Sleep:   func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	require.NoError(t, err)
	s, err := NewSession(&Config{
		PatchURL:     e.host.URL(),
		InstallDir:   e.install,
		StateDir:     e.state,
		DefaultRetry: worker.RetryPolicy{Limit: 1},
		Downloader:   dlr,
		Admission: diskspace.NewAdmission(func(string) (uint64, error) {
			return free, nil
		}, diskspace.DefaultUpdateMargin),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (e *env) installAll(t *testing.T) {
	t.Helper()
	patchtest.Install(t, e.install, "Client/Binaries/TERA.exe", "exe v6")
	patchtest.Install(t, e.install, "Client/S1Game/Config/S1Engine.ini", "[Engine]")
	patchtest.Install(t, e.install, "Client/S1Game/CookedPC/Art.gpk", "art")
	patchtest.Install(t, e.install, "readme.txt", "hello")
}

func ids(task *core.UpdateTask) []int64 {
	var res []int64
	for _, f := range task.Files {
		res = append(res, f.ID)
	}
	return res
}

func TestResolveUpdateDelta(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	patchtest.WriteLocal(t, e.state, 5)

	task, err := e.session(t, plenty).Resolve(context.Background(), core.ModeUpdate, nil)
	require.NoError(t, err)
	require.Equal(t, core.ModeUpdate, task.Mode)
	require.Equal(t, 3, task.Len())
	for _, f := range task.Files {
		require.Greater(t, f.Version, int64(5))
		require.LessOrEqual(t, f.Version, int64(7))
		require.Equal(t, e.host.URL()+"/patch/"+f.ObjectName(), f.URL)
	}
	require.Equal(t, []int64{1, 2, 3}, ids(task))
	require.Equal(t, int64(5), task.FromVersion)
	require.Equal(t, int64(7), task.ToVersion)
	require.Contains(t, task.Directories, "Client/S1Game/Config")
	payload := uint64(len("exe v6") + len("[Engine]") + len("art"))
	require.Equal(t, diskspace.Required(payload, diskspace.DefaultUpdateMargin), task.RequiredBytes)
	require.Zero(t, e.host.PayloadHits())
}

func TestResolveUpToDate(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	patchtest.WriteLocal(t, e.state, 7)

	task, err := e.session(t, plenty).Resolve(context.Background(), core.ModeUpdate, nil)
	require.NoError(t, err)
	require.True(t, task.Empty())
	require.NotEmpty(t, task.Directories)
}

func TestResolveEscalatesWithoutLocalDescriptor(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	task, err := e.session(t, plenty).Resolve(context.Background(), core.ModeUpdate, nil)
	require.NoError(t, err)
	require.Equal(t, core.ModeRepair, task.Mode)
	require.Equal(t, []int64{1, 2, 3, 4}, ids(task))
}

func TestResolveRepairDeletesStaleCopy(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.installAll(t)
	// same size, wrong content
	patchtest.Install(t, e.install, "Client/S1Game/CookedPC/Art.gpk", "ART")

	var msgs []string
	sink := core.SinkFunc(func(_ float64, m string) { msgs = append(msgs, m) })
	task, err := e.session(t, plenty).Resolve(context.Background(), core.ModeRepair, sink)
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids(task))

	_, err = os.Stat(filepath.Join(e.install, "Client", "S1Game", "CookedPC", "Art.gpk"))
	require.True(t, os.IsNotExist(err), "stale copy must be deleted during the scan")
	require.Contains(t, msgs, "Scanning 4 manifest files...")
	require.Contains(t, msgs, "Scanning file 3 of 4: Client/S1Game/CookedPC/Art.gpk")
}

func TestResolveRepairIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.installAll(t)

	task, err := e.session(t, plenty).Resolve(context.Background(), core.ModeRepair, nil)
	require.NoError(t, err)
	require.True(t, task.Empty())

	task, err = e.session(t, plenty).Resolve(context.Background(), core.ModeRepair, nil)
	require.NoError(t, err)
	require.True(t, task.Empty())
}

func TestResolveRepairTruncatedFile(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.installAll(t)
	patchtest.Install(t, e.install, "readme.txt", "hell")

	task, err := e.session(t, plenty).Resolve(context.Background(), core.ModeRepair, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{4}, ids(task))
}

func TestResolveAdmissionRefusal(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	patchtest.WriteLocal(t, e.state, 5)

	_, err := e.session(t, 10).Resolve(context.Background(), core.ModeUpdate, nil)
	require.ErrorIs(t, err, core.ErrInsufficientSpace)
	require.Zero(t, e.host.PayloadHits())
}

func TestResolveRemoteDescriptorUnreachable(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	patchtest.WriteLocal(t, e.state, 5)
	e.host.Delete("/" + version.FileName)

	_, err := e.session(t, plenty).Resolve(context.Background(), core.ModeUpdate, nil)
	require.Error(t, err)
	require.Equal(t, core.ErrorCodeTransient, core.CodeOf(err))
	// local retry policy of the descriptor: 2 attempts, no escalation
	require.Equal(t, 2, e.host.Hits("/"+version.FileName))
}

func TestResolveUndecodableManifestEscalatesOnce(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	patchtest.WriteLocal(t, e.state, 5)
	e.host.Set("/"+e.host.ManifestPath(), []byte("garbage"))

	_, err := e.session(t, plenty).Resolve(context.Background(), core.ModeUpdate, nil)
	require.Error(t, err)
	require.Equal(t, core.ErrorCodeConfiguration, core.CodeOf(err))
	require.Equal(t, 2, e.host.Hits("/"+e.host.ManifestPath()))
}

func TestResolveCarriesRemoteDescriptor(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	patchtest.WriteLocal(t, e.state, 5)
	s := e.session(t, plenty)

	task, err := s.Resolve(context.Background(), core.ModeUpdate, nil)
	require.NoError(t, err)
	require.Equal(t, e.host.Descriptor(), task.Descriptor)
	require.Equal(t, 2, task.RetryLimit)
	require.Equal(t, 10*time.Millisecond, task.RetryDelay)
	require.Equal(t, worker.RetryPolicy{Limit: 2, Delay: 10 * time.Millisecond}, s.RetryPolicy())

	d, err := version.Load(filepath.Join(e.state, version.FileName))
	require.NoError(t, err)
	require.Equal(t, int64(5), d.CurrentVersion, "resolve must not touch the local descriptor")
}
