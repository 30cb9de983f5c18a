package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/pkg/properties"
	"github.com/marmos91/dittomover/pkg/schedule"
)

// CreateTaskRunners creates a stopped runner for every configured task.
//
// Parameters:
//   - cfg: The complete configuration (tasks and state directory)
//   - factories: Task factories by lower-case class name
//   - fsys: Filesystem holding the run-schedule files
//   - now: Reference time for start dates
//
// Returns:
//   - []*schedule.Runner: One runner per task, in configuration order
//   - error: Invalid task parameters or an unknown class
func CreateTaskRunners(cfg *Config, factories map[string]schedule.TaskFactory, fsys afero.Fs, now time.Time) ([]*schedule.Runner, error) {
	runners := make([]*schedule.Runner, 0, len(cfg.Tasks))

	for i, taskCfg := range cfg.Tasks {
		params, err := schedule.NewParameters(properties.FromMap(taskCfg.Properties), taskCfg.Name, cfg.Server.StateDir, now)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] %q: %w", i, taskCfg.Name, err)
		}

		factory, ok := factories[strings.ToLower(params.ClassName)]
		if !ok {
			return nil, fmt.Errorf("tasks[%d] %q: unknown class %q (supported: %s)",
				i, taskCfg.Name, params.ClassName, strings.Join(classNames(factories), ", "))
		}

		task, err := factory(params)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] %q: failed to create %s task: %w", i, taskCfg.Name, params.ClassName, err)
		}

		runners = append(runners, schedule.NewRunner(params, task, fsys))
	}

	return runners, nil
}

func classNames(factories map[string]schedule.TaskFactory) []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
