package filesystem

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

var defaultCounter = regexp.MustCompile(`(\d+)`)

// RemovePrefixFromFileName strips prefix from the last element of path.
// path is returned unchanged when prefix is empty or not present.
func RemovePrefixFromFileName(path, prefix string) string {
	name := filepath.Base(path)
	if prefix == "" || !strings.HasPrefix(name, prefix) {
		return path
	}
	return filepath.Join(filepath.Dir(path), name[len(prefix):])
}

// CreateNextNumberedFile returns path if it does not exist, otherwise the
// next free name obtained by incrementing the counter in the file name.
//
// counter must contain one capturing group matching the digits; nil means
// `(\d+)` and the last match in the name is used. If the name carries no
// counter, defaultName is tried (relative to the same directory) or, when
// empty, "1" is appended. The file is not created.
func CreateNextNumberedFile(fsys afero.Fs, path string, counter *regexp.Regexp, defaultName string) string {
	if counter == nil {
		counter = defaultCounter
	}
	dir := filepath.Dir(path)

	candidate := path
	for Exists(fsys, candidate) {
		name := filepath.Base(candidate)
		loc := lastGroupMatch(counter, name)
		if loc == nil {
			if defaultName != "" && filepath.Join(dir, defaultName) != candidate {
				candidate = filepath.Join(dir, defaultName)
			} else {
				candidate = filepath.Join(dir, name+"1")
			}
			continue
		}
		n, err := strconv.Atoi(name[loc[0]:loc[1]])
		if err != nil {
			candidate = filepath.Join(dir, name+"1")
			continue
		}
		candidate = filepath.Join(dir, name[:loc[0]]+strconv.Itoa(n+1)+name[loc[1]:])
	}
	return candidate
}

func lastGroupMatch(re *regexp.Regexp, s string) []int {
	all := re.FindAllStringSubmatchIndex(s, -1)
	if len(all) == 0 {
		return nil
	}
	m := all[len(all)-1]
	if len(m) < 4 || m[2] < 0 {
		return nil
	}
	return m[2:4]
}
