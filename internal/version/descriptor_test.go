package version

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `[Download]
Retry = 3
Wait = 1000
Version = 42
DB file = db/server.db.42.cab
DL root = patch
`

func TestParse(t *testing.T) {
	t.Parallel()

	d, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Equal(t, 3, d.RetryLimit)
	require.Equal(t, time.Second, d.RetryDelay)
	require.Equal(t, int64(42), d.CurrentVersion)
	require.Equal(t, "db/server.db.42.cab", d.ManifestPath)
	require.Equal(t, "patch", d.DownloadRoot)
	require.Equal(t, "server.db", d.ManifestName())
}

func TestParseRejectsBrokenDescriptors(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"no section":    "Retry = 3\n",
		"missing key":   "[Download]\nRetry = 3\nWait = 10\nVersion = 1\nDL root = p\n",
		"not a number":  "[Download]\nRetry = x\nWait = 10\nVersion = 1\nDB file = a\nDL root = p\n",
		"empty string":  "[Download]\nRetry = 1\nWait = 10\nVersion = 1\nDB file = \nDL root = p\n",
		"negative wait": "[Download]\nRetry = 1\nWait = -1\nVersion = 1\nDB file = a\nDL root = p\n",
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	d := &Descriptor{
		RetryLimit:     5,
		RetryDelay:     250 * time.Millisecond,
		CurrentVersion: 7,
		ManifestPath:   "server.db.7.cab",
		DownloadRoot:   "patch/files",
	}
	raw, err := d.Encode()
	require.NoError(t, err)

	got, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestLoadAndSave(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), FileName)
	_, err := Load(p)
	require.ErrorIs(t, err, ErrMissing)

	require.Error(t, Save(context.Background(), p, []byte("garbage")))
	_, err = Load(p)
	require.ErrorIs(t, err, ErrMissing)

	require.NoError(t, Save(context.Background(), p, []byte(sample)))
	d, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, int64(42), d.CurrentVersion)
}

func TestManifestNameKeepsForeignSuffix(t *testing.T) {
	t.Parallel()

	d := &Descriptor{CurrentVersion: 3, ManifestPath: "db\\server.db.2.cab"}
	require.Equal(t, "server.db.2.cab", d.ManifestName())
}
