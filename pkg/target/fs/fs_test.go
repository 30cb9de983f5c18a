package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomover/pkg/copier"
	"github.com/marmos91/dittomover/pkg/target"
)

func setup(t *testing.T) (*Target, string) {
	t.Helper()
	root := t.TempDir()
	out := filepath.Join(root, "outgoing")
	require.NoError(t, os.Mkdir(out, 0755))

	src := filepath.Join(root, "buffer", "item")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "data"), []byte("payload"), 0644))

	fsys := afero.NewOsFs()
	tgt, err := NewTarget(fsys, out, copier.NewNativeCopier(fsys, copier.NativeConfig{}))
	require.NoError(t, err)
	return tgt, src
}

func TestTarget_PutMarkListRemove(t *testing.T) {
	tgt, src := setup(t)
	ctx := context.Background()

	require.NoError(t, tgt.Check(ctx))
	require.NoError(t, tgt.Put(ctx, src, "item"))

	ok, err := tgt.Exists(ctx, "item")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tgt.MarkFinished(ctx, "item"))
	assert.FileExists(t, filepath.Join(tgt.Dir(), ".MARKER_is_finished_item"))

	names, err := tgt.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"item"}, names, "markers are not listed")

	require.NoError(t, tgt.Remove(ctx, "item"))
	ok, err = tgt.Exists(ctx, "item")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(tgt.Dir(), target.MarkerName("item")))

	assert.ErrorIs(t, tgt.Remove(ctx, "item"), target.ErrNotFound)
	require.NoError(t, tgt.Close())
}

func TestTarget_PutRenamed(t *testing.T) {
	tgt, src := setup(t)

	require.NoError(t, tgt.Put(context.Background(), src, "renamed"))
	data, err := os.ReadFile(filepath.Join(tgt.Dir(), "renamed", "data"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestNewTarget_Validation(t *testing.T) {
	fsys := afero.NewOsFs()
	cp := copier.NewNativeCopier(fsys, copier.NativeConfig{})

	_, err := NewTarget(fsys, "", cp)
	assert.Error(t, err)

	_, err = NewTarget(fsys, filepath.Join(t.TempDir(), "missing"), cp)
	assert.Error(t, err)

	_, err = NewTarget(fsys, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestIsMarker(t *testing.T) {
	assert.True(t, target.IsMarker(target.MarkerName("x")))
	assert.False(t, target.IsMarker("x"))
}
