package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronPrefix marks a run schedule given as a cron expression.
const CronPrefix = "cron:"

// ErrInvalidSchedule is matched by every run schedule parse error.
var ErrInvalidSchedule = errors.New("invalid run schedule")

// Provider computes run times.
type Provider interface {
	// Next returns the earliest run time strictly after t, or the zero time
	// when there is none.
	Next(t time.Time) time.Time
}

// cronParser accepts standard five-field expressions and an optional
// leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseRunSchedule parses either "cron:<expression>" or a comma-separated
// list of simple definitions "[descriptors] HH[:mm]". Descriptors are
// dot-joined or space-separated and select the day:
//
//	"mon 6:00"        every Monday
//	"15 12:30"        15th of every month
//	"2.fri 23"        second Friday of every month
//	"24.dec 18:00"    every 24th of December (also "24.12")
//	"3:15"            every day
func ParseRunSchedule(description string) (Provider, error) {
	description = strings.TrimSpace(description)
	if strings.HasPrefix(description, CronPrefix) {
		expr := strings.TrimSpace(strings.TrimPrefix(description, CronPrefix))
		s, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("%w '%s': %v", ErrInvalidSchedule, description, err)
		}
		return cronProvider{s}, nil
	}

	var providers collection
	for _, def := range strings.Split(description, ",") {
		p, err := parseSimple(def)
		if err != nil {
			return nil, fmt.Errorf("%w '%s': %v", ErrInvalidSchedule, def, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

type cronProvider struct {
	schedule cron.Schedule
}

func (c cronProvider) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

type collection []Provider

func (c collection) Next(t time.Time) time.Time {
	var best time.Time
	for _, p := range c {
		next := p.Next(t)
		if next.IsZero() {
			continue
		}
		if best.IsZero() || next.Before(best) {
			best = next
		}
	}
	return best
}

// dayMatcher selects valid days.
type dayMatcher func(day time.Time) bool

type simpleProvider struct {
	hour, minute int
	valid        dayMatcher
}

// maxSearchDays bounds the day search; a 29th of February recurs within
// eight years.
const maxSearchDays = 8 * 366

func (s simpleProvider) Next(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), s.hour, s.minute, 0, 0, t.Location())
	for i := 0; i <= maxSearchDays; i++ {
		candidate := day.AddDate(0, 0, i)
		if s.valid(candidate) && candidate.After(t) {
			return candidate
		}
	}
	return time.Time{}
}

func parseSimple(def string) (simpleProvider, error) {
	fields := strings.Fields(def)
	if len(fields) == 0 {
		return simpleProvider{}, fmt.Errorf("empty definition")
	}

	var p simpleProvider
	hm := strings.Split(fields[len(fields)-1], ":")
	if len(hm) > 2 {
		return p, fmt.Errorf("time must be HH[:mm]")
	}
	var err error
	if p.hour, err = strconv.Atoi(hm[0]); err != nil || p.hour < 0 || p.hour > 23 {
		return p, fmt.Errorf("invalid hour '%s'", hm[0])
	}
	if len(hm) == 2 {
		if p.minute, err = strconv.Atoi(hm[1]); err != nil || p.minute < 0 || p.minute > 59 {
			return p, fmt.Errorf("invalid minute '%s'", hm[1])
		}
	}

	var descriptors []any
	for _, field := range fields[:len(fields)-1] {
		for _, s := range strings.Split(field, ".") {
			if s == "" {
				continue
			}
			d, err := parseDescriptor(s)
			if err != nil {
				return p, err
			}
			descriptors = append(descriptors, d)
		}
	}

	p.valid, err = dayMatcherFor(descriptors)
	return p, err
}

func parseDescriptor(s string) (any, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if wd, ok := weekdays[strings.ToUpper(s)]; ok {
		return wd, nil
	}
	if m, ok := months[strings.ToUpper(s)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("neither a number nor a 3-letter month nor a 2-letter week day nor a 3-letter week day: %s", s)
}

var weekdays = map[string]time.Weekday{
	"SU": time.Sunday, "SUN": time.Sunday,
	"MO": time.Monday, "MON": time.Monday,
	"TU": time.Tuesday, "TUE": time.Tuesday,
	"WE": time.Wednesday, "WED": time.Wednesday,
	"TH": time.Thursday, "THU": time.Thursday,
	"FR": time.Friday, "FRI": time.Friday,
	"SA": time.Saturday, "SAT": time.Saturday,
}

var months = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March, "APR": time.April,
	"MAY": time.May, "JUN": time.June, "JUL": time.July, "AUG": time.August,
	"SEP": time.September, "OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// weekOfMonth numbers days 1-7 as week 1, 8-14 as week 2, and so on.
func weekOfMonth(day time.Time) int {
	return (day.Day()-1)/7 + 1
}

func dayMatcherFor(descriptors []any) (dayMatcher, error) {
	switch len(descriptors) {
	case 0:
		return func(time.Time) bool { return true }, nil

	case 1:
		switch d := descriptors[0].(type) {
		case time.Weekday:
			return func(day time.Time) bool { return day.Weekday() == d }, nil
		case int:
			if d < 1 || d > 31 {
				return nil, fmt.Errorf("invalid day of month %d", d)
			}
			return func(day time.Time) bool { return day.Day() == d }, nil
		}

	case 2:
		n, ok := descriptors[0].(int)
		if !ok {
			break
		}
		switch d := descriptors[1].(type) {
		case time.Weekday:
			if n < 1 || n > 5 {
				return nil, fmt.Errorf("invalid week of month %d", n)
			}
			return func(day time.Time) bool { return day.Weekday() == d && weekOfMonth(day) == n }, nil
		case int:
			if d < 1 || d > 12 {
				return nil, fmt.Errorf("invalid month %d", d)
			}
			return dayInYear(n, time.Month(d))
		case time.Month:
			return dayInYear(n, d)
		}
	}
	return nil, fmt.Errorf("invalid description")
}

// maxDaysInMonth allows the 29th of February, which exists in leap years.
var maxDaysInMonth = [...]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func dayInYear(dayOfMonth int, month time.Month) (dayMatcher, error) {
	if dayOfMonth < 1 || dayOfMonth > maxDaysInMonth[month] {
		return nil, fmt.Errorf("invalid day of month %d for %s", dayOfMonth, month)
	}
	return func(day time.Time) bool { return day.Day() == dayOfMonth && day.Month() == month }, nil
}
