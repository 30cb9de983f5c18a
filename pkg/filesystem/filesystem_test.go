package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndWrite(t *testing.T) {
	fsys := afero.NewMemMapFs()

	require.NoError(t, WriteLines(fsys, "/f.txt", []string{"# comment", "a", "", "  b"}))

	s, err := LoadToString(fsys, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "# comment\na\n\n  b\n", s)

	all, err := LoadToLines(fsys, "/f.txt", false)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	content, err := LoadToLines(fsys, "/f.txt", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "  b"}, content)

	require.NoError(t, AppendLine(fsys, "/f.txt", "c"))
	content, err = LoadToLines(fsys, "/f.txt", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "  b", "c"}, content)

	_, err = LoadToString(fsys, "/missing")
	assert.Error(t, err)
}

func TestWriteAtomically(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, WriteAtomically(fsys, "/state", []byte("v1")))
	require.NoError(t, WriteAtomically(fsys, "/state", []byte("v2")))

	s, err := LoadToString(fsys, "/state")
	require.NoError(t, err)
	assert.Equal(t, "v2", s)
	assert.False(t, Exists(fsys, "/state.tmp"))
}

func TestTouch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, Touch(fsys, "/a/b/c"))

	info, err := fsys.Stat("/a/b/c")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), 5*time.Second)
}

func TestAccessChecks(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/incoming", 0755))
	require.NoError(t, afero.WriteFile(fsys, "/file", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/readonly", []byte("x"), 0444))

	assert.NoError(t, CheckDirectoryFullyAccessible(fsys, "/incoming", "incoming"))
	assert.NoError(t, CheckPathFullyAccessible(fsys, "/file", "state"))
	assert.NoError(t, CheckFileReadAccessible(fsys, "/readonly", "state"))

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing directory", CheckDirectoryReadAccessible(fsys, "/nope", "buffer"), "Buffer directory '/nope' does not exist."},
		{"file as directory", CheckDirectoryFullyAccessible(fsys, "/file", "outgoing"), "Path '/file' is supposed to be a outgoing directory but isn't."},
		{"directory as file", CheckFileReadAccessible(fsys, "/incoming", "script"), "Path '/incoming' is supposed to be a script file but isn't."},
		{"not writable", CheckFileFullyAccessible(fsys, "/readonly", "state"), "State file '/readonly' is not writable."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.Equal(t, tt.want, tt.err.Error())
			var ae *AccessError
			assert.ErrorAs(t, tt.err, &ae)
		})
	}
}

func TestDeleteRecursively(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, p := range []string{"/d/keep.txt", "/d/x.tmp", "/d/sub/y.tmp", "/d/sub/keep2"} {
		require.NoError(t, afero.WriteFile(fsys, p, nil, 0644))
	}

	tmpOnly := func(path string, info os.FileInfo) bool {
		return strings.HasSuffix(path, ".tmp")
	}
	n, err := DeleteRecursively(context.Background(), fsys, "/d", tmpOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, Exists(fsys, "/d/keep.txt"))
	assert.True(t, Exists(fsys, "/d/sub/keep2"))
	assert.False(t, Exists(fsys, "/d/sub/y.tmp"))

	_, err = DeleteRecursively(context.Background(), fsys, "/d", nil)
	require.NoError(t, err)
	assert.False(t, Exists(fsys, "/d"))
}

func TestLastChanged(t *testing.T) {
	fsys := afero.NewMemMapFs()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, afero.WriteFile(fsys, "/item/a", nil, 0644))
	require.NoError(t, afero.WriteFile(fsys, "/item/sub/b", nil, 0644))
	require.NoError(t, fsys.Chtimes("/item", base, base))
	require.NoError(t, fsys.Chtimes("/item/a", base, base.Add(time.Hour)))
	require.NoError(t, fsys.Chtimes("/item/sub", base, base.Add(2*time.Hour)))
	require.NoError(t, fsys.Chtimes("/item/sub/b", base, base.Add(3*time.Hour)))

	got, err := LastChanged(fsys, "/item", false, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, base.Add(3*time.Hour), got.UTC())

	got, err = LastChanged(fsys, "/item", true, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Hour), got.UTC())

	// stops at the first entry younger than the bound
	got, err = LastChanged(fsys, "/item", false, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, got.After(base.Add(30*time.Minute)))

	_, err = LastChanged(fsys, "/missing", false, time.Time{})
	assert.Error(t, err)
}

func TestRelativeFile(t *testing.T) {
	rel, ok := RelativeFile("/data/root", "/data/root/a/b")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join("a", "b"), rel)

	_, ok = RelativeFile("/data/root", "/data/rootless/a")
	assert.False(t, ok)
}

func TestListFilesAndSort(t *testing.T) {
	fsys := afero.NewMemMapFs()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	files := map[string]time.Duration{
		"/d/c.TXT":     3 * time.Hour,
		"/d/a.txt":     1 * time.Hour,
		"/d/b.log":     2 * time.Hour,
		"/d/sub/e.txt": 0,
	}
	for p, age := range files {
		require.NoError(t, afero.WriteFile(fsys, p, nil, 0644))
		require.NoError(t, fsys.Chtimes(p, base, base.Add(age)))
	}

	flat, err := ListFiles(fsys, "/d", []string{"txt"}, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/d/c.TXT", "/d/a.txt"}, flat)

	deep, err := ListFiles(fsys, "/d", nil, true)
	require.NoError(t, err)
	assert.Len(t, deep, 4)

	SortByLastModified(fsys, deep)
	assert.Equal(t, []string{"/d/sub/e.txt", "/d/a.txt", "/d/b.log", "/d/c.TXT"}, deep)
}

func TestRemovePrefixFromFileName(t *testing.T) {
	assert.Equal(t, filepath.Join("/in", "data"), RemovePrefixFromFileName("/in/prefix_data", "prefix_"))
	assert.Equal(t, "/in/data", RemovePrefixFromFileName("/in/data", "prefix_"))
	assert.Equal(t, "/in/data", RemovePrefixFromFileName("/in/data", ""))
}

func TestCreateNextNumberedFile(t *testing.T) {
	fsys := afero.NewMemMapFs()

	assert.Equal(t, "/d/run", CreateNextNumberedFile(fsys, "/d/run", nil, ""))

	require.NoError(t, afero.WriteFile(fsys, "/d/run", nil, 0644))
	assert.Equal(t, "/d/run1", CreateNextNumberedFile(fsys, "/d/run", nil, ""))
	assert.Equal(t, "/d/run-0", CreateNextNumberedFile(fsys, "/d/run", nil, "run-0"))

	require.NoError(t, afero.WriteFile(fsys, "/d/log-1.txt", nil, 0644))
	require.NoError(t, afero.WriteFile(fsys, "/d/log-2.txt", nil, 0644))
	assert.Equal(t, "/d/log-3.txt", CreateNextNumberedFile(fsys, "/d/log-1.txt", nil, ""))

	custom := regexp.MustCompile(`_v([0-9]+)_`)
	require.NoError(t, afero.WriteFile(fsys, "/d/a_v7_2024", nil, 0644))
	assert.Equal(t, "/d/a_v8_2024", CreateNextNumberedFile(fsys, "/d/a_v7_2024", custom, ""))
}

func TestMoveAndCopy(t *testing.T) {
	fsys := afero.NewMemMapFs()
	mtime := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, afero.WriteFile(fsys, "/src/item/f", []byte("payload"), 0600))
	require.NoError(t, fsys.Chtimes("/src/item/f", mtime, mtime))
	require.NoError(t, fsys.MkdirAll("/dst", 0755))

	require.NoError(t, CopyTree(fsys, "/src/item", "/copy"))
	data, err := afero.ReadFile(fsys, "/copy/f")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	info, err := fsys.Stat("/copy/f")
	require.NoError(t, err)
	assert.Equal(t, mtime, info.ModTime().UTC())
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	moved, err := MoveTo(fsys, "/src/item", "/dst")
	require.NoError(t, err)
	assert.Equal(t, "/dst/item", moved)
	assert.False(t, Exists(fsys, "/src/item"))
	assert.True(t, Exists(fsys, "/dst/item/f"))

	require.NoError(t, CopyFile(fsys, "/dst/item/f", "/single"))
	assert.True(t, Exists(fsys, "/single"))

	err = Move(fsys, "/single", "/dst/item/f")
	assert.Error(t, err, "moving onto an existing destination must fail")
}

func TestFreeSpaceKb(t *testing.T) {
	kb, err := FreeSpaceKb(t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, kb, int64(0))

	_, err = FreeSpaceKb(filepath.Join(t.TempDir(), "does", "not", "exist"))
	assert.Error(t, err)
}

func TestHighwaterWatcher(t *testing.T) {
	free := int64(100)
	w := NewHighwaterWatcher("/buffer", 50)
	w.freeSpace = func(string) (int64, error) { return free, nil }

	assert.False(t, w.IsBelow())
	free = 10
	assert.True(t, w.IsBelow())
	assert.True(t, w.IsBelow())
	free = 60
	assert.False(t, w.IsBelow())

	disabled := NewHighwaterWatcher("/buffer", 0)
	assert.False(t, disabled.IsBelow())

	var nilWatcher *HighwaterWatcher
	assert.False(t, nilWatcher.IsBelow())
}

func TestParseDirWithHighwater(t *testing.T) {
	dir, kb, err := ParseDirWithHighwater("/data/outgoing > 2048")
	require.NoError(t, err)
	assert.Equal(t, "/data/outgoing", dir)
	assert.Equal(t, int64(2048), kb)

	dir, kb, err = ParseDirWithHighwater("/data/in")
	require.NoError(t, err)
	assert.Equal(t, "/data/in", dir)
	assert.Zero(t, kb)

	_, _, err = ParseDirWithHighwater("/data>lots")
	assert.Error(t, err)
}

func TestSize(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/item/a.bin", make([]byte, 100), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/item/sub/b.bin", make([]byte, 23), 0644))

	n, err := Size(fsys, "/item")
	require.NoError(t, err)
	assert.Equal(t, int64(123), n)

	n, err = Size(fsys, "/item/a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)

	_, err = Size(fsys, "/missing")
	assert.True(t, os.IsNotExist(err))
}
