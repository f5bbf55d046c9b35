package swarm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusPredicates(t *testing.T) {
	t.Parallel()

	require.True(t, Status{Percent: 100, Downloaded: 10, Total: 10}.Done())
	require.False(t, Status{Downloaded: 0, Total: 0}.Done())
	require.False(t, Status{Percent: 50, Downloaded: 5, Total: 10}.Done())
	require.True(t, Status{Percent: -1}.Failed())
}

func TestMetadataRejectsMissingTorrentFile(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil).Metadata(context.Background(), filepath.Join(t.TempDir(), "base.torrent"))
	require.Error(t, err)
}
