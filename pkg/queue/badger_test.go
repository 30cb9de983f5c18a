package queue

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerPersister_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	p, err := OpenBadgerPersister[string](dir, "outgoing")
	require.NoError(t, err)
	require.NoError(t, p.AddToTail("a"))
	require.NoError(t, p.AddToTail("b"))
	require.NoError(t, p.AddToTail("c"))
	require.NoError(t, p.RemoveFromHead("a"))
	require.NoError(t, p.Check())
	require.NoError(t, p.Sync())
	require.NoError(t, p.Persist())
	require.NoError(t, p.Close())

	p, err = OpenBadgerPersister[string](dir, "outgoing")
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, []string{"b", "c"}, p.Items())

	// the sequence continues after a restart
	require.NoError(t, p.AddToTail("d"))
	assert.Equal(t, []string{"b", "c", "d"}, p.Items())
}

func TestBadgerPersister_SharedDatabase(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING))
	require.NoError(t, err)
	defer db.Close()

	a, err := NewBadgerPersister[string](db, "a")
	require.NoError(t, err)
	ab, err := NewBadgerPersister[string](db, "ab")
	require.NoError(t, err)

	require.NoError(t, a.AddToTail("x"))
	require.NoError(t, ab.AddToTail("y"))

	reloaded, err := NewBadgerPersister[string](db, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, reloaded.Items())

	require.NoError(t, a.Persist())
	require.NoError(t, a.Close())
	assert.NoError(t, ab.Check(), "Close of a borrowed database leaves it open")
}

func TestBadgerPersister_WithPathHandler(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING))
	require.NoError(t, err)
	defer db.Close()

	p, err := NewBadgerPersister[string](db, "q")
	require.NoError(t, err)
	require.NoError(t, p.AddToTail("resumed"))

	q := NewPathHandler[string]("q", HandlerFunc[string](nil), p, nil)
	assert.Equal(t, []string{"resumed"}, q.Items())
}
