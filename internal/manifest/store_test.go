package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/manifest/manifesttest"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, b *manifesttest.Builder) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.db")
	b.MustWrite(t, path)
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleManifest() *manifesttest.Builder {
	return manifesttest.NewBuilder().
		Release(5).Release(6).Release(7).
		File(1, "Client\\Binaries\\TERA.exe").
		Revision(1, 0, 5, 100, 200, "aaaa").
		Revision(1, 5, 7, 110, 210, "bbbb").
		File(2, "Client\\S1Game\\Config\\S1Engine.ini").
		Revision(2, 0, 6, 10, 20, "cccc").
		File(3, "Client\\S1Game\\CookedPC\\Art.gpk").
		Revision(3, 0, 7, 30, 40, "dddd").
		File(4, "readme.txt").
		Revision(4, 0, 3, 1, 2, "eeee")
}

func TestFullManifestPicksLatestVersion(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, sampleManifest())
	ctx := context.Background()

	recs, err := s.FullManifest(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 4)

	first := recs[0]
	require.Equal(t, int64(1), first.ID)
	require.Equal(t, int64(7), first.Version)
	require.Equal(t, int64(110), first.CompressedSize)
	require.Equal(t, int64(210), first.DecompressedSize)
	require.Equal(t, "bbbb", first.Hash)
	require.Equal(t, "Client/Binaries/TERA.exe", first.Path)

	n, err := s.FullManifestCount(ctx)
	require.NoError(t, err)
	require.Equal(t, len(recs), n)
}

func TestUpdateManifestVersionWindow(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, sampleManifest())
	ctx := context.Background()

	latest, err := s.LatestVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), latest)

	recs, err := s.UpdateManifest(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		require.Greater(t, r.Version, int64(5))
		require.LessOrEqual(t, r.Version, int64(7))
	}

	recs, err = s.UpdateManifest(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestUpdateManifestIgnoresUnreleasedVersions(t *testing.T) {
	t.Parallel()

	b := manifesttest.NewBuilder().
		Release(1).Release(2).
		File(1, "a.txt").Revision(1, 0, 2, 1, 1, "x").
		File(2, "b.txt").Revision(2, 0, 3, 1, 1, "y")
	s := openTestStore(t, b)

	recs, err := s.UpdateManifest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(1), recs[0].ID)
}

func TestPathsAreNormalized(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, sampleManifest())
	paths, err := s.Paths(context.Background())
	require.NoError(t, err)
	require.Contains(t, paths, "Client/S1Game/Config/S1Engine.ini")
	for _, p := range paths {
		require.NotContains(t, p, "\\")
	}
}

func TestOpenRejectsForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Open(context.Background(), filepath.Join(dir, "missing.db"))
	require.Error(t, err)

	junk := filepath.Join(dir, "junk.db")
	require.NoError(t, os.WriteFile(junk, []byte("this is not a database at all, not even close"), 0o644))
	_, err = Open(context.Background(), junk)
	require.ErrorIs(t, err, ErrUndecodable)
}
