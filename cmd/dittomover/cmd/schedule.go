package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/pkg/schedule"
)

// nextRunLayout matches the run-schedule files written by the task runners.
const nextRunLayout = "2006-01-02 15:04:05"

func newScheduleCmd() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Evaluate maintenance task run schedules",
	}

	var (
		count int
		from  string
	)
	nextCmd := &cobra.Command{
		Use:   "next <run-schedule>",
		Short: "Print the next run times of a run schedule",
		Example: `% dittomover schedule next '2.sun 02:30' -n 3
% dittomover schedule next 'cron: 0 */15 * * * *'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := schedule.ParseRunSchedule(args[0])
			if err != nil {
				return err
			}

			t := time.Now()
			if from != "" {
				if t, err = time.ParseInLocation(nextRunLayout, from, time.Local); err != nil {
					return fmt.Errorf("invalid --from %q, expected %q: %w", from, nextRunLayout, err)
				}
			}

			for range count {
				if t = provider.Next(t); t.IsZero() {
					return fmt.Errorf("run schedule %q has no further runs", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(nextRunLayout))
			}
			return nil
		},
	}
	nextCmd.Flags().IntVarP(&count, "count", "n", 1, "Number of run times")
	nextCmd.Flags().StringVar(&from, "from", "", "Reference time ("+nextRunLayout+"), default now")

	scheduleCmd.AddCommand(nextCmd)
	return scheduleCmd
}
