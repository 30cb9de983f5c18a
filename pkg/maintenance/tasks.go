// Package maintenance provides the task classes that can be scheduled in the
// tasks section of the configuration.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/filesystem"
	"github.com/marmos91/dittomover/pkg/gc"
	"github.com/marmos91/dittomover/pkg/process"
	"github.com/marmos91/dittomover/pkg/schedule"
)

// Task class names.
const (
	ClassCollectGarbage = "collect-garbage"
	ClassCommand        = "command"
	ClassCheckFreeSpace = "check-free-space"
)

// Task property keys.
const (
	KeyCommand   = "command"
	KeyTimeout   = "timeout"
	KeyPaths     = "paths"
	KeyMinFreeKb = "min-free-kb"
)

// DefaultCommandTimeout bounds a command task without a timeout property.
const DefaultCommandTimeout = time.Hour

// DefaultMinFreeKb is the free space a checked path must keep (1 GB).
const DefaultMinFreeKb = 1024 * 1024

// Collector is the part of gc.Collector used by the collect-garbage task.
type Collector interface {
	RunNow(ctx context.Context) (*gc.Stats, error)
}

// Factories returns the factories of all task classes. A nil collector makes
// collect-garbage tasks fail at creation; a nil runner uses
// process.DefaultRunner.
func Factories(collector Collector, runner process.Runner) map[string]schedule.TaskFactory {
	if runner == nil {
		runner = process.DefaultRunner
	}

	return map[string]schedule.TaskFactory{
		ClassCollectGarbage: func(*schedule.Parameters) (schedule.Task, error) {
			if collector == nil {
				return nil, fmt.Errorf("garbage collection is not configured")
			}
			return &GarbageTask{collector: collector}, nil
		},
		ClassCommand: func(params *schedule.Parameters) (schedule.Task, error) {
			return NewCommandTask(params, runner)
		},
		ClassCheckFreeSpace: func(params *schedule.Parameters) (schedule.Task, error) {
			return NewFreeSpaceTask(params)
		},
	}
}

// GarbageTask runs the garbage collector.
type GarbageTask struct {
	collector Collector
}

func (t *GarbageTask) Execute(ctx context.Context) error {
	stats, err := t.collector.RunNow(ctx)
	if err != nil {
		return err
	}
	logger.Info("Scheduled garbage collection completed: %s", stats.Summary())
	return nil
}

// CommandTask runs an external command. A non-zero exit fails the run, which
// makes the runner retry it.
type CommandTask struct {
	name    string
	command []string
	timeout time.Duration
	runner  process.Runner
}

// NewCommandTask reads the command and timeout properties.
func NewCommandTask(params *schedule.Parameters, runner process.Runner) (*CommandTask, error) {
	line, err := params.Properties.GetMandatory(KeyCommand)
	if err != nil {
		return nil, err
	}
	return &CommandTask{
		name:    params.PluginName,
		command: strings.Fields(line),
		timeout: params.Properties.Duration(KeyTimeout, DefaultCommandTimeout),
		runner:  runner,
	}, nil
}

func (t *CommandTask) Execute(ctx context.Context) error {
	res, err := t.runner.Run(ctx, t.command, process.Options{Timeout: t.timeout, MergeStderr: true})
	if err != nil {
		return err
	}
	for _, line := range res.Output {
		logger.Debug("[%s] %s", t.name, line)
	}
	return res.AsError()
}

// FreeSpaceTask fails when a path has less free space than configured.
type FreeSpaceTask struct {
	paths     []string
	minFreeKb int64
	freeSpace func(path string) (int64, error)
}

// NewFreeSpaceTask reads the paths and min-free-kb properties.
func NewFreeSpaceTask(params *schedule.Parameters) (*FreeSpaceTask, error) {
	paths := params.Properties.ListOriginalCase(KeyPaths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("property '%s' is not specified", KeyPaths)
	}
	return &FreeSpaceTask{
		paths:     paths,
		minFreeKb: params.Properties.PosInt64(KeyMinFreeKb, DefaultMinFreeKb),
		freeSpace: filesystem.FreeSpaceKb,
	}, nil
}

func (t *FreeSpaceTask) Execute(ctx context.Context) error {
	var errs []error
	for _, path := range t.paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		free, err := t.freeSpace(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if free < t.minFreeKb {
			errs = append(errs, fmt.Errorf("only %s free on '%s', at least %s required",
				units.HumanSize(float64(free*1024)), path, units.HumanSize(float64(t.minFreeKb*1024))))
			continue
		}
		logger.Debug("%s free on '%s'", units.HumanSize(float64(free*1024)), path)
	}
	return errors.Join(errs...)
}
