// Package checksum computes content checksums for transferred items.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/blake2b-simd"
	"github.com/spf13/afero"
)

// Algorithm identifies a checksum algorithm.
type Algorithm string

const (
	CRC32   Algorithm = "crc32"
	MD5     Algorithm = "md5"
	SHA1    Algorithm = "sha1"
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
)

// Default is used when no algorithm is given.
const Default = CRC32

// Algorithms lists the supported algorithms.
var Algorithms = []Algorithm{CRC32, MD5, SHA1, SHA256, BLAKE2b}

// ParseAlgorithm resolves a case-insensitive name. An empty name yields
// Default.
func ParseAlgorithm(name string) (Algorithm, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Default, nil
	}
	name = strings.ReplaceAll(name, "-", "")
	for _, a := range Algorithms {
		if string(a) == name {
			return a, nil
		}
	}
	if name == "blake2b256" {
		return BLAKE2b, nil
	}
	return "", fmt.Errorf("unknown checksum algorithm '%s'", name)
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case CRC32, "":
		return crc32.NewIEEE(), nil
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case BLAKE2b:
		return blake2b.New256(), nil
	default:
		return nil, fmt.Errorf("unknown checksum algorithm '%s'", string(a))
	}
}

// Calculate reads r to the end and returns the lowercase hex checksum.
func Calculate(r io.Reader, algo Algorithm) (string, error) {
	h, err := algo.newHash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CRC32Of returns the IEEE CRC32 of r as a number.
func CRC32Of(r io.Reader) (uint32, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, fmt.Errorf("failed to read data: %w", err)
	}
	return binary.BigEndian.Uint32(h.Sum(nil)), nil
}

// File checksums the file at path.
func File(fsys afero.Fs, path string, algo Algorithm) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sum, err := Calculate(f, algo)
	if err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return sum, nil
}

// Tree checksums every regular file below root. Keys are slash-separated
// paths relative to root; a file root yields its base name.
func Tree(fsys afero.Fs, root string, algo Algorithm) (map[string]string, error) {
	sums := make(map[string]string)
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			rel = filepath.Base(path)
		}
		sum, err := File(fsys, path, algo)
		if err != nil {
			return err
		}
		sums[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to checksum tree %s: %w", root, err)
	}
	return sums, nil
}

// MismatchError reports a checksum that differs from the expected one.
type MismatchError struct {
	Algorithm Algorithm
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s checksum mismatch: expected %s, got %s", e.Algorithm, e.Expected, e.Actual)
}

// Verify checksums r and compares it case-insensitively with expected.
func Verify(r io.Reader, algo Algorithm, expected string) error {
	actual, err := Calculate(r, algo)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return &MismatchError{Algorithm: algo, Expected: expected, Actual: actual}
	}
	return nil
}
