// Package password generates random passwords from crypto/rand.
package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// Alphanumeric excludes the look-alike characters 0 O 1 l I.
	Alphanumeric = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	Symbols      = "!#$%&*+-=?@^_~"

	consonants = "bcdfghjkmnpqrstvwxz"
	vowels     = "aeiuy"
)

// DefaultLength is used by the CLI when no length is given.
const DefaultLength = 12

// ErrInvalidLength is returned for a non-positive length.
var ErrInvalidLength = errors.New("password length must be positive")

// Options tune Generate.
type Options struct {
	Length int

	// WithSymbols adds Symbols to the alphabet
	WithSymbols bool

	// Pronounceable alternates consonants and vowels; WithSymbols is ignored
	Pronounceable bool
}

// Generator produces passwords. The zero value is not usable; call New.
type Generator struct {
	random io.Reader
}

// New returns a Generator reading from crypto/rand.
func New() *Generator {
	return &Generator{random: rand.Reader}
}

// Generate returns an alphanumeric password of length n.
func (g *Generator) Generate(n int) (string, error) {
	return g.GenerateWithOptions(Options{Length: n})
}

// GenerateWithOptions returns a password shaped by opts.
func (g *Generator) GenerateWithOptions(opts Options) (string, error) {
	if opts.Length <= 0 {
		return "", ErrInvalidLength
	}

	out := make([]byte, opts.Length)
	if opts.Pronounceable {
		for i := range out {
			set := consonants
			if i%2 == 1 {
				set = vowels
			}
			c, err := g.pick(set)
			if err != nil {
				return "", err
			}
			out[i] = c
		}
		return string(out), nil
	}

	alphabet := Alphanumeric
	if opts.WithSymbols {
		alphabet += Symbols
	}
	for i := range out {
		c, err := g.pick(alphabet)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	return string(out), nil
}

func (g *Generator) pick(set string) (byte, error) {
	n, err := rand.Int(g.random, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to read random data: %w", err)
	}
	return set[n.Int64()], nil
}
