package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/gosuri/uitable"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/pkg/filesystem"
	"github.com/marmos91/dittomover/pkg/queue"
)

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect persistent queue files",
	}

	var dir string
	listCmd := &cobra.Command{
		Use:   "list <queue-file>",
		Short: "List the items of a queue file, head first",
		Long: `List the items of a file-backed queue without opening it for writing, so
it is safe to run next to a live mover. With --dir, the size of every item
found in that directory (usually the buffer's ready-to-move stage) is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys := afero.NewOsFs()
			items, err := queue.List[string](fsys, args[0])
			if err != nil {
				return err
			}

			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}

			table := uitable.New()
			table.MaxColWidth = 80
			if dir == "" {
				table.AddRow("#", "ITEM")
			} else {
				table.AddRow("#", "ITEM", "SIZE")
			}
			for i, item := range items {
				if dir == "" {
					table.AddRow(i, item)
					continue
				}
				size := "-"
				if n, err := filesystem.Size(fsys, filepath.Join(dir, item)); err == nil {
					size = units.HumanSize(float64(n))
				}
				table.AddRow(i, item, size)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
	listCmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory holding the queued items")

	queueCmd.AddCommand(listCmd)
	return queueCmd
}
