package queue

import (
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Path    string `json:"path"`
	Attempt int    `json:"attempt"`
}

var fastRetry = FileOptions{Retries: 1, RetryDelay: time.Millisecond}

func TestFilePersister_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outgoing.queue")

	p, err := OpenFilePersister[entry](afero.NewOsFs(), path, FileOptions{AutoSync: true})
	require.NoError(t, err)
	assert.Empty(t, p.Items())

	require.NoError(t, p.AddToTail(entry{"/buffer/a", 1}))
	require.NoError(t, p.AddToTail(entry{"/buffer/b", 2}))
	require.NoError(t, p.AddToTail(entry{"/buffer/c", 3}))
	require.NoError(t, p.RemoveFromHead(entry{"/buffer/a", 1}))
	require.NoError(t, p.Check())
	require.NoError(t, p.Close())

	reopened, err := OpenFilePersister[entry](afero.NewOsFs(), path, FileOptions{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, []entry{{"/buffer/b", 2}, {"/buffer/c", 3}}, reopened.Items())

	listed, err := List[entry](afero.NewOsFs(), path)
	require.NoError(t, err)
	assert.Equal(t, reopened.Items(), listed)
}

func TestFilePersister_Header(t *testing.T) {
	fs := afero.NewMemMapFs()
	p, err := OpenFilePersister[string](fs, "/q", fastRetry)
	require.NoError(t, err)
	require.NoError(t, p.AddToTail("ab"))

	data, err := afero.ReadFile(fs, "/q")
	require.NoError(t, err)
	require.Len(t, data, headerLength+recordHeaderLength+4) // "ab" as JSON is 4 bytes

	assert.Equal(t, fileMarker, int32(binary.BigEndian.Uint32(data[0:4])))
	assert.Equal(t, int32(headerLength), int32(binary.BigEndian.Uint32(data[4:8])))
	assert.Equal(t, int32(len(data)), int32(binary.BigEndian.Uint32(data[8:12])))
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(data[12:16]))
	assert.Equal(t, `"ab"`, string(data[16:]))

	require.NoError(t, p.RemoveFromHead("ab"))
	data, err = afero.ReadFile(fs, "/q")
	require.NoError(t, err)
	assert.Equal(t, int32(len(data)), int32(binary.BigEndian.Uint32(data[4:8])), "first advanced past the record")
}

func TestFilePersister_Persist(t *testing.T) {
	fs := afero.NewMemMapFs()
	p, err := OpenFilePersister[string](fs, "/q", fastRetry)
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, p.AddToTail(s))
	}
	require.NoError(t, p.RemoveFromHead("a"))
	require.NoError(t, p.Persist())
	require.NoError(t, p.Check())

	data, err := afero.ReadFile(fs, "/q")
	require.NoError(t, err)
	assert.Equal(t, int32(headerLength), int32(binary.BigEndian.Uint32(data[4:8])))
	exists, _ := afero.Exists(fs, "/q.new")
	assert.False(t, exists)
	assert.Equal(t, []string{"b", "c"}, p.Items())
}

func TestFilePersister_CompactsAfterSlack(t *testing.T) {
	fs := afero.NewMemMapFs()
	p, err := OpenFilePersister[string](fs, "/q", fastRetry)
	require.NoError(t, err)

	big := strings.Repeat("x", 30000)
	for i := 0; i < 5; i++ {
		require.NoError(t, p.AddToTail(big))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, p.RemoveFromHead(big))
	}
	// 4 records of ~30kB are dead; the next removal compacts
	require.NoError(t, p.RemoveFromHead(big))
	assert.Empty(t, p.Items())

	info, err := fs.Stat("/q")
	require.NoError(t, err)
	assert.Equal(t, int64(headerLength), info.Size())
}

func TestFilePersister_AdoptsNewFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	p, err := OpenFilePersister[string](fs, "/q", fastRetry)
	require.NoError(t, err)
	require.NoError(t, p.AddToTail("kept"))
	require.NoError(t, p.Close())

	// simulate a crash between delete and rename
	require.NoError(t, fs.Rename("/q", "/q.new"))

	listed, err := List[string](fs, "/q")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, listed)

	p, err = OpenFilePersister[string](fs, "/q", fastRetry)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, p.Items())
}

func TestFilePersister_TruncatedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	p, err := OpenFilePersister[string](fs, "/data/q", fastRetry)
	require.NoError(t, err)
	require.NoError(t, p.AddToTail("one"))
	require.NoError(t, p.AddToTail("two"))
	require.NoError(t, p.Close())

	data, err := afero.ReadFile(fs, "/data/q")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/data/q", data[:len(data)-2], 0644))

	p, err = OpenFilePersister[string](fs, "/data/q", fastRetry)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, p.Items())

	broken, err := afero.Glob(fs, "/data/q.*.broken")
	require.NoError(t, err)
	assert.Len(t, broken, 1)
}

func TestFilePersister_RejectsForeignFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/q", []byte("definitely not a queue"), 0644))

	_, err := OpenFilePersister[string](fs, "/q", fastRetry)
	assert.Error(t, err)
}

func TestList_Missing(t *testing.T) {
	items, err := List[string](afero.NewMemMapFs(), "/nope")
	require.NoError(t, err)
	assert.Empty(t, items)
}

// corruptLength overwrites the length of the record at offset with n.
func corruptLength(t *testing.T, fs afero.Fs, path string, offset int, n uint32) {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(data[offset:offset+recordHeaderLength], n)
	require.NoError(t, afero.WriteFile(fs, path, data, 0644))
}

func TestFilePersister_OversizedRecordLength(t *testing.T) {
	fs := afero.NewMemMapFs()
	p, err := OpenFilePersister[string](fs, "/data/q", fastRetry)
	require.NoError(t, err)
	require.NoError(t, p.AddToTail("one"))
	require.NoError(t, p.AddToTail("two"))
	require.NoError(t, p.Close())

	// "one" as JSON is 5 bytes, so the second record starts at 12+4+5
	corruptLength(t, fs, "/data/q", headerLength+recordHeaderLength+5, 0xFFFFFFF0)

	listed, err := List[string](fs, "/data/q")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, listed)

	p, err = OpenFilePersister[string](fs, "/data/q", fastRetry)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, []string{"one"}, p.Items())

	broken, err := afero.Glob(fs, "/data/q.*.broken")
	require.NoError(t, err)
	assert.Len(t, broken, 1)
}

func TestList_ShortAndForeignFiles(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fs, "/empty", nil, 0644))
	items, err := List[string](fs, "/empty")
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, afero.WriteFile(fs, "/foreign", []byte("definitely not a queue"), 0644))
	_, err = List[string](fs, "/foreign")
	assert.ErrorContains(t, err, "not a queue file")
}
