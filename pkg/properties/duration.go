package properties

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration accepts the forms used in mover and task configuration:
//
//	"90"        bare number, seconds
//	"1h30m"     Go duration syntax
//	"2d", "1d12h"  days prefix followed by optional Go duration
//	"5min"      "min" is accepted as an alias for "m"
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	normalized := strings.ReplaceAll(strings.ToLower(s), " ", "")
	normalized = strings.ReplaceAll(normalized, "min", "m")

	var days time.Duration
	if i := strings.Index(normalized, "d"); i >= 0 {
		n, err := strconv.ParseInt(normalized[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: bad day count", s)
		}
		days = time.Duration(n) * 24 * time.Hour
		normalized = normalized[i+1:]
		if normalized == "" {
			return days, nil
		}
	}

	d, err := time.ParseDuration(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return days + d, nil
}
