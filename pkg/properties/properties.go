// Package properties reads typed settings from Java-style .properties data.
//
// Files are parsed and written with magiconair/properties; values are kept
// raw (no ${} expansion) and exposed through Properties, a string map with
// lenient typed getters. Invalid numeric or boolean values never fail: the
// getter logs a warning and falls back to the supplied default.
package properties

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mprops "github.com/magiconair/properties"
	"github.com/spf13/cast"

	"github.com/marmos91/dittomover/internal/logger"
)

// ErrPropertyNotFound is matched by every *MissingError.
var ErrPropertyNotFound = errors.New("property not found")

// MissingError reports a mandatory property that is absent or blank.
type MissingError struct {
	Key    string
	Source string
}

func (e *MissingError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("given key '%s' not found in properties '%s'", e.Key, e.Source)
	}
	return fmt.Sprintf("property '%s' is not specified", e.Key)
}

func (e *MissingError) Is(target error) bool {
	return target == ErrPropertyNotFound
}

// Properties maps keys to raw values.
type Properties map[string]string

// Load reads a properties file.
func Load(path string) (Properties, error) {
	loader := mprops.Loader{Encoding: mprops.UTF8, DisableExpansion: true}
	p, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load properties %s: %w", path, err)
	}
	return Properties(p.Map()), nil
}

// Parse reads properties from a string.
func Parse(text string) (Properties, error) {
	loader := mprops.Loader{Encoding: mprops.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}
	return Properties(p.Map()), nil
}

// FromMap copies m into Properties. Non-string values are converted with cast.
func FromMap(m map[string]any) Properties {
	p := make(Properties, len(m))
	for k, v := range m {
		p[k] = cast.ToString(v)
	}
	return p
}

// Write stores p in properties syntax, keys sorted, with an optional comment
// header.
func (p Properties) Write(w io.Writer, comment string) error {
	out := mprops.NewProperties()
	out.DisableExpansion = true
	for _, k := range p.Keys() {
		if _, _, err := out.Set(k, p[k]); err != nil {
			return fmt.Errorf("failed to set %s: %w", k, err)
		}
	}

	var buf bytes.Buffer
	if comment != "" {
		fmt.Fprintf(&buf, "# %s\n", comment)
	}
	if _, err := out.Write(&buf, mprops.UTF8); err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Save writes p to path through a temp file and a rename.
func (p Properties) Save(path, comment string) error {
	var buf bytes.Buffer
	if err := p.Write(&buf, comment); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, filepath.Base(path), err)
	}
	return nil
}

// Keys returns the keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present, even with a blank value.
func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Get returns the trimmed value, or "" if missing or blank.
func (p Properties) Get(key string) string {
	return strings.TrimSpace(p[key])
}

// GetDefault returns the trimmed value, or def if missing or blank.
func (p Properties) GetDefault(key, def string) string {
	if v := p.Get(key); v != "" {
		return v
	}
	return def
}

// GetDontTrim returns the raw value. ok is false when missing.
func (p Properties) GetDontTrim(key string) (value string, ok bool) {
	value, ok = p[key]
	return value, ok
}

// GetKeepEmpty returns the trimmed value and whether the key is present, so
// that an explicitly empty value can be told apart from a missing one.
func (p Properties) GetKeepEmpty(key string) (string, bool) {
	v, ok := p[key]
	return strings.TrimSpace(v), ok
}

// GetMandatory returns the trimmed value or a *MissingError.
func (p Properties) GetMandatory(key string) (string, error) {
	if v := p.Get(key); v != "" {
		return v, nil
	}
	return "", &MissingError{Key: key}
}

// List splits a comma-separated value into trimmed, upper-cased elements.
// Empty elements are dropped; a missing key yields nil.
func (p Properties) List(key string) []string {
	list := p.ListOriginalCase(key)
	for i, v := range list {
		list[i] = strings.ToUpper(v)
	}
	return list
}

// ListOriginalCase is List without the upper-casing.
func (p Properties) ListOriginalCase(key string) []string {
	v := p.Get(key)
	if v == "" {
		return nil
	}
	var list []string
	for _, e := range strings.Split(v, ",") {
		if e = strings.TrimSpace(e); e != "" {
			list = append(list, e)
		}
	}
	return list
}

func invalid(kind, value string, def any) {
	logger.Warn("Invalid %s '%s'. Default value '%v' will be used.", kind, value, def)
}

// Int parses an int, falling back to def.
func (p Properties) Int(key string, def int) int {
	v := p.Get(key)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(decimal(v))
	if err != nil {
		invalid("int", v, def)
		return def
	}
	return n
}

// PosInt parses a positive int, falling back to def.
func (p Properties) PosInt(key string, def int) int {
	n := p.Int(key, def)
	if n <= 0 {
		invalid("positive int", p.Get(key), def)
		return def
	}
	return n
}

// Int64 parses an int64, falling back to def.
func (p Properties) Int64(key string, def int64) int64 {
	v := p.Get(key)
	if v == "" {
		return def
	}
	n, err := cast.ToInt64E(decimal(v))
	if err != nil {
		invalid("long", v, def)
		return def
	}
	return n
}

// PosInt64 parses a positive int64, falling back to def.
func (p Properties) PosInt64(key string, def int64) int64 {
	n := p.Int64(key, def)
	if n <= 0 {
		invalid("positive long", p.Get(key), def)
		return def
	}
	return n
}

// Float64 parses a float, falling back to def.
func (p Properties) Float64(key string, def float64) float64 {
	v := p.Get(key)
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		invalid("double", v, def)
		return def
	}
	return f
}

// Bool parses a boolean, falling back to def.
func (p Properties) Bool(key string, def bool) bool {
	v := p.Get(key)
	if v == "" {
		return def
	}
	b, err := cast.ToBoolE(strings.ToLower(v))
	if err != nil {
		invalid("boolean", v, def)
		return def
	}
	return b
}

// Char returns a single-character value, falling back to def.
func (p Properties) Char(key string, def rune) rune {
	v, ok := p.GetDontTrim(key)
	if !ok || v == "" {
		return def
	}
	r := []rune(v)
	if len(r) != 1 {
		invalid("char", v, string(def))
		return def
	}
	return r[0]
}

// Duration parses a duration (see ParseDuration), falling back to def.
func (p Properties) Duration(key string, def time.Duration) time.Duration {
	v := p.Get(key)
	if v == "" {
		return def
	}
	d, err := ParseDuration(v)
	if err != nil {
		invalid("duration", v, def)
		return def
	}
	return d
}

// Trim returns a copy with whitespace trimmed from every value.
func (p Properties) Trim() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = strings.TrimSpace(v)
	}
	return out
}

// Subset returns the properties whose keys start with prefix. With
// dropPrefix the prefix is removed from the returned keys.
func (p Properties) Subset(prefix string, dropPrefix bool) Properties {
	out := make(Properties)
	for k, v := range p {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if dropPrefix {
			k = strings.TrimPrefix(k, prefix)
		}
		out[k] = v
	}
	return out
}

// Sections groups keys of the form "<name>.<rest>" by name, listing names in
// the order given by the comma-separated value of listKey (or sorted when
// listKey is empty or missing).
func (p Properties) Sections(listKey string) map[string]Properties {
	names := p.ListOriginalCase(listKey)
	if len(names) == 0 {
		seen := make(map[string]bool)
		for _, k := range p.Keys() {
			if i := strings.Index(k, "."); i > 0 && !seen[k[:i]] {
				seen[k[:i]] = true
				names = append(names, k[:i])
			}
		}
	}

	out := make(map[string]Properties, len(names))
	for _, name := range names {
		out[name] = p.Subset(name+".", true)
	}
	return out
}

// decimal strips leading zeros so that cast does not read "010" as octal.
func decimal(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" && s != "" {
		trimmed = "0"
	}
	return sign + trimmed
}
