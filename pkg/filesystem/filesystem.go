// Package filesystem provides file helpers used by the mover stages.
//
// Every helper takes an afero.Fs so that pure logic can be exercised against
// afero.NewMemMapFs() in tests while production code passes OS.
package filesystem

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// OS is the real operating system filesystem.
var OS afero.Fs = afero.NewOsFs()

// LoadToString reads the whole file.
func LoadToString(fsys afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// LoadToLines reads the file line by line. With skipComments, blank lines and
// lines starting with '#' are dropped.
func LoadToLines(fsys afero.Fs, path string, skipComments bool) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if skipComments {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

// WriteString replaces the file content with s.
func WriteString(fsys afero.Fs, path, s string) error {
	if err := afero.WriteFile(fsys, path, []byte(s), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteLines writes lines, each terminated by a newline.
func WriteLines(fsys afero.Fs, path string, lines []string) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return WriteString(fsys, path, buf.String())
}

// WriteAtomically writes data to a sibling temp file and renames it over path.
func WriteAtomically(fsys afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fsys, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

// AppendLine appends line plus a newline, creating the file if needed.
func AppendLine(fsys afero.Fs, path, line string) error {
	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s for append: %w", path, err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return f.Close()
}

// Touch creates path if missing and sets its modification time to now.
func Touch(fsys afero.Fs, path string) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", path, err)
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to touch %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	now := time.Now()
	return fsys.Chtimes(path, now, now)
}

// Exists reports whether path exists. Errors other than "not exist" count as
// existing so that callers do not lose track of an unreadable item.
func Exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil || !os.IsNotExist(err)
}
