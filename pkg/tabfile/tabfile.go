// Package tabfile loads tab-separated tables into typed rows.
//
// The format:
//
//	# comment lines start with '#' (or '"#' as written by spreadsheets)
//	[DEFAULT]
//	key<TAB>value
//	[DEFAULT]
//	name<TAB>size<TAB>owner
//	sample-1<TAB>10<TAB>alice
//
// The first non-comment line is the header. A comment line directly preceded
// by a lone "#" line is used as header instead, so that column names can be
// kept commented out. Rows are decoded into T with mapstructure; header
// names match field names or mapstructure tags case-insensitively. Empty
// cells take the value from the [DEFAULT] section.
package tabfile

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const (
	separator      = "\t"
	defaultSection = "[DEFAULT]"
)

var commentPattern = regexp.MustCompile(`^"*#`)

// LineError reports a problem on a given line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Load reads all rows from r.
func Load[T any](r io.Reader) ([]T, error) {
	return LoadWithDefaults[T](r, nil)
}

// LoadWithDefaults reads all rows from r. defaults are overridden by the
// file's [DEFAULT] section, which in turn fills empty cells.
func LoadWithDefaults[T any](r io.Reader, defaults map[string]string) ([]T, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(defaults))
	for k, v := range defaults {
		merged[strings.ToLower(k)] = v
	}

	// ========================================================================
	// Step 1: Find the header, collecting defaults on the way
	// ========================================================================

	var (
		header     []string
		headerLine int
		dataStart  = len(lines)
	)
	for i := 0; i < len(lines); i++ {
		text := lines[i]
		switch {
		case commentPattern.MatchString(text):
			continue
		case strings.TrimSpace(text) == defaultSection:
			i = parseDefaults(lines, i+1, merged)
			continue
		case strings.TrimSpace(text) == "":
			continue
		}

		if i >= 2 && commentPattern.MatchString(lines[i-1]) && strings.TrimSpace(lines[i-2]) == "#" {
			header, headerLine, dataStart = splitHeader(trimComment(lines[i-1])), i-1, i
		} else {
			header, headerLine, dataStart = splitHeader(text), i, i+1
		}
		break
	}
	if header == nil {
		return nil, nil
	}

	seen := make(map[string]bool, len(header))
	for _, name := range header {
		if name == "" {
			return nil, &LineError{Line: headerLine + 1, Err: fmt.Errorf("empty column name")}
		}
		if seen[name] {
			return nil, &LineError{Line: headerLine + 1, Err: fmt.Errorf("duplicate column '%s'", name)}
		}
		seen[name] = true
	}

	// ========================================================================
	// Step 2: Decode the rows
	// ========================================================================

	var rows []T
	for i := dataStart; i < len(lines); i++ {
		text := lines[i]
		if strings.TrimSpace(text) == "" || commentPattern.MatchString(text) {
			continue
		}

		cells := strings.Split(text, separator)
		for len(cells) > len(header) && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
		if len(cells) > len(header) {
			return nil, &LineError{Line: i + 1, Err: fmt.Errorf("%d cells but only %d columns", len(cells), len(header))}
		}

		values := make(map[string]any, len(header)+len(merged))
		for k, v := range merged {
			values[k] = v
		}
		for j, name := range header {
			if j < len(cells) && strings.TrimSpace(cells[j]) != "" {
				values[name] = strings.TrimSpace(cells[j])
			}
		}

		var row T
		if err := decode(values, &row); err != nil {
			return nil, &LineError{Line: i + 1, Err: err}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseDefaults reads "key<TAB>value" lines up to a closing [DEFAULT] line.
func ParseDefaults(r io.Reader) (map[string]string, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	defaults := make(map[string]string)
	parseDefaults(lines, 0, defaults)
	return defaults, nil
}

// parseDefaults consumes lines from start and returns the index of the
// closing [DEFAULT] line (or the last line).
func parseDefaults(lines []string, start int, defaults map[string]string) int {
	i := start
	for ; i < len(lines); i++ {
		text := lines[i]
		if strings.TrimSpace(text) == defaultSection {
			return i
		}
		if name, value, ok := strings.Cut(text, separator); ok {
			defaults[strings.ToLower(strings.TrimSpace(name))] = value
		}
	}
	return i
}

func decode(values map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		MatchName:        strings.EqualFold,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(values)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimSuffix(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tab file: %w", err)
	}
	return lines, nil
}

func splitHeader(text string) []string {
	header := strings.Split(text, separator)
	for len(header) > 0 && strings.TrimSpace(header[len(header)-1]) == "" {
		header = header[:len(header)-1]
	}
	for i, name := range header {
		header[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return header
}

func trimComment(text string) string {
	return strings.TrimSpace(commentPattern.ReplaceAllString(text, ""))
}
