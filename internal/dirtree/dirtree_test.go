package dirtree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/stretchr/testify/require"
)

func TestDirectories(t *testing.T) {
	t.Parallel()

	got := Directories([]string{
		"Client\\Binaries\\TERA.exe",
		"Client\\S1Game\\Config\\S1Engine.ini",
		"Client/S1Game/CookedPC/Art.gpk",
		"readme.txt",
		"",
	})
	require.Equal(t, []string{
		"Client",
		"Client/Binaries",
		"Client/S1Game",
		"Client/S1Game/Config",
		"Client/S1Game/CookedPC",
	}, got)
	require.Empty(t, Directories([]string{"a.txt"}))
}

func TestReconcileCreatesAndReplaces(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Client"), []byte("not a dir"), 0o644))

	dirs := Directories([]string{"Client/S1Game/Config/S1Engine.ini"})
	var msgs []string
	sink := core.SinkFunc(func(_ float64, m string) { msgs = append(msgs, m) })

	b := NewBuilder(root, nil)
	require.NoError(t, b.Reconcile(context.Background(), dirs, sink))

	st, err := os.Stat(filepath.Join(root, "Client", "S1Game", "Config"))
	require.NoError(t, err)
	require.True(t, st.IsDir())
	require.Equal(t, "Checking directory 1 of 3: Client", msgs[0])

	// idempotent
	require.NoError(t, b.Reconcile(context.Background(), dirs, nil))
}

func TestReconcileFailureIsResourceError(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	root := filepath.Join(parent, "install")
	require.NoError(t, os.WriteFile(root, []byte("file where the root should be"), 0o644))

	err := NewBuilder(root, nil).Reconcile(context.Background(), []string{"Client"}, nil)
	require.Error(t, err)
	require.Equal(t, core.ErrorCodeResource, core.CodeOf(err))
}
