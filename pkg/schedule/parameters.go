// Package schedule runs maintenance tasks at configured times.
//
// A task is described by a property map (see NewParameters). It runs either
// every interval starting at an optional time of day, or on a run schedule
// (a cron expression or simple definitions, see ParseRunSchedule). Failed
// runs are retried after the configured retry intervals.
package schedule

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/marmos91/dittomover/pkg/properties"
)

// Property keys of a maintenance task.
const (
	KeyInterval        = "interval"
	KeyClass           = "class"
	KeyStart           = "start"
	KeyExecuteOnlyOnce = "execute-only-once"
	KeyRetryIntervals  = "retry-intervals-after-failure"
	KeyRunSchedule     = "run-schedule"
	KeyRunScheduleFile = "run-schedule-file"
)

const (
	// DefaultInterval applies when no interval is given.
	DefaultInterval = 24 * time.Hour

	timeFormat = "15:04"
)

// Parameters describe when a maintenance task runs.
type Parameters struct {
	// PluginName is the name the task is configured under
	PluginName string

	// ClassName names the task implementation
	ClassName string

	// Interval separates runs when there is no run schedule
	Interval time.Duration

	// StartDate is the first run when there is no run schedule
	StartDate time.Time

	// ExecuteOnlyOnce runs the task a single time
	ExecuteOnlyOnce bool

	// RetryIntervals are the waits before retrying a failed run, ascending
	RetryIntervals []time.Duration

	// Schedule computes run times; nil when runs follow Interval
	Schedule Provider

	// NextDateFile persists the next scheduled run; empty without Schedule
	NextDateFile string

	// Properties holds the full property map for the task itself
	Properties properties.Properties
}

// NewParameters reads the task parameters from props.
//
// Parameters:
//   - props: the task properties
//   - pluginName: name of the task, used for the default run-schedule file
//   - stateDir: directory of the default run-schedule file
//   - now: reference time for the start date and retry interval pruning
func NewParameters(props properties.Properties, pluginName, stateDir string, now time.Time) (*Parameters, error) {
	className, err := props.GetMandatory(KeyClass)
	if err != nil {
		return nil, err
	}

	p := &Parameters{
		PluginName:      pluginName,
		ClassName:       className,
		Interval:        props.Duration(KeyInterval, DefaultInterval),
		ExecuteOnlyOnce: props.Bool(KeyExecuteOnlyOnce, false),
		Properties:      props,
	}

	if p.StartDate, err = startDate(props.Get(KeyStart), now); err != nil {
		return nil, err
	}

	for _, s := range props.ListOriginalCase(KeyRetryIntervals) {
		d, err := properties.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid property '%s': %w", KeyRetryIntervals, err)
		}
		p.RetryIntervals = append(p.RetryIntervals, d)
	}
	sort.Slice(p.RetryIntervals, func(i, j int) bool { return p.RetryIntervals[i] < p.RetryIntervals[j] })

	if desc := props.Get(KeyRunSchedule); desc != "" {
		if p.Schedule, err = ParseRunSchedule(desc); err != nil {
			return nil, err
		}
		p.NextDateFile = props.GetDefault(KeyRunScheduleFile, filepath.Join(stateDir, pluginName+"_"+className))
	}

	p.pruneRetryIntervals(now)
	return p, nil
}

// startDate returns the next occurrence of HH:mm after now, or now when
// value is blank.
func startDate(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now, nil
	}
	hm, err := time.Parse(timeFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("start date <%s> does not match the required format <HH:mm>", value)
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), hm.Hour(), hm.Minute(), 0, 0, now.Location())
	if now.After(start) {
		start = start.AddDate(0, 0, 1)
	}
	return start, nil
}

// Period returns the time between two regular runs. With a run schedule it
// is measured between the next two scheduled runs after now.
func (p *Parameters) Period(now time.Time) time.Duration {
	if p.Schedule == nil {
		return p.Interval
	}
	next := p.Schedule.Next(now)
	return p.Schedule.Next(next).Sub(next)
}

// pruneRetryIntervals drops retry intervals longer than the period, which
// would overlap with the next regular run.
func (p *Parameters) pruneRetryIntervals(now time.Time) {
	period := p.Period(now)
	kept := p.RetryIntervals[:0]
	for _, d := range p.RetryIntervals {
		if d <= period {
			kept = append(kept, d)
		}
	}
	p.RetryIntervals = kept
}
