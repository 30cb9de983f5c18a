package filesystem

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// AccessError describes why a path is not usable. Kind is the caller's
// description of the path ("incoming", "buffer", ...).
type AccessError struct {
	Path   string
	Kind   string
	Reason string
}

func (e *AccessError) Error() string {
	return e.Reason
}

// CheckPathFullyAccessible checks that path exists and is readable and
// writable.
func CheckPathFullyAccessible(fsys afero.Fs, path, kind string) error {
	_, err := checkAccessible(fsys, path, kind, "path", true)
	return err
}

// CheckPathReadAccessible checks that path exists and is readable.
func CheckPathReadAccessible(fsys afero.Fs, path, kind string) error {
	_, err := checkAccessible(fsys, path, kind, "path", false)
	return err
}

// CheckDirectoryFullyAccessible checks that path is a readable and writable
// directory.
func CheckDirectoryFullyAccessible(fsys afero.Fs, path, kind string) error {
	return checkDirectory(fsys, path, kind, true)
}

// CheckDirectoryReadAccessible checks that path is a readable directory.
func CheckDirectoryReadAccessible(fsys afero.Fs, path, kind string) error {
	return checkDirectory(fsys, path, kind, false)
}

// CheckFileFullyAccessible checks that path is a readable and writable file.
func CheckFileFullyAccessible(fsys afero.Fs, path, kind string) error {
	return checkFile(fsys, path, kind, true)
}

// CheckFileReadAccessible checks that path is a readable file.
func CheckFileReadAccessible(fsys afero.Fs, path, kind string) error {
	return checkFile(fsys, path, kind, false)
}

func checkDirectory(fsys afero.Fs, path, kind string, write bool) error {
	info, err := checkAccessible(fsys, path, kind, "directory", write)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &AccessError{Path: path, Kind: kind,
			Reason: fmt.Sprintf("Path '%s' is supposed to be a %s directory but isn't.", path, kind)}
	}
	return nil
}

func checkFile(fsys afero.Fs, path, kind string, write bool) error {
	info, err := checkAccessible(fsys, path, kind, "file", write)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &AccessError{Path: path, Kind: kind,
			Reason: fmt.Sprintf("Path '%s' is supposed to be a %s file but isn't.", path, kind)}
	}
	return nil
}

func checkAccessible(fsys afero.Fs, path, kind, what string, write bool) (os.FileInfo, error) {
	fail := func(problem string) error {
		return &AccessError{Path: path, Kind: kind,
			Reason: fmt.Sprintf("%s %s '%s' %s.", capitalize(kind), what, path, problem)}
	}

	info, err := fsys.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fail("does not exist")
		}
		return nil, fail("is not readable")
	}

	perm := info.Mode().Perm()
	if perm&0444 == 0 {
		return nil, fail("is not readable")
	}
	if info.IsDir() {
		f, err := fsys.Open(path)
		if err != nil {
			return nil, fail("is not readable")
		}
		f.Close()
	}
	if write && perm&0222 == 0 {
		return nil, fail("is not writable")
	}
	return info, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
