package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	g := New()

	p, err := g.Generate(32)
	require.NoError(t, err)
	assert.Len(t, p, 32)
	for _, c := range p {
		assert.True(t, strings.ContainsRune(Alphanumeric, c), "unexpected %q", c)
	}
	assert.NotContains(t, p, "0")
	assert.NotContains(t, p, "l")

	other, err := g.Generate(32)
	require.NoError(t, err)
	assert.NotEqual(t, p, other)
}

func TestGenerate_InvalidLength(t *testing.T) {
	g := New()
	for _, n := range []int{0, -3} {
		_, err := g.Generate(n)
		assert.True(t, errors.Is(err, ErrInvalidLength))
	}
}

func TestGenerateWithOptions(t *testing.T) {
	g := New()

	t.Run("symbols", func(t *testing.T) {
		p, err := g.GenerateWithOptions(Options{Length: 200, WithSymbols: true})
		require.NoError(t, err)
		for _, c := range p {
			assert.True(t, strings.ContainsRune(Alphanumeric+Symbols, c))
		}
	})

	t.Run("pronounceable", func(t *testing.T) {
		p, err := g.GenerateWithOptions(Options{Length: 9, Pronounceable: true})
		require.NoError(t, err)
		require.Len(t, p, 9)
		for i, c := range p {
			if i%2 == 0 {
				assert.True(t, strings.ContainsRune(consonants, c), "position %d: %q", i, c)
			} else {
				assert.True(t, strings.ContainsRune(vowels, c), "position %d: %q", i, c)
			}
		}
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerate_RandomFailure(t *testing.T) {
	g := &Generator{random: failingReader{}}
	_, err := g.Generate(4)
	assert.ErrorContains(t, err, "entropy exhausted")
}
