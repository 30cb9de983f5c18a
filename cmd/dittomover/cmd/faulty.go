package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/pkg/scanner"
)

func newFaultyCmd() *cobra.Command {
	faultyCmd := &cobra.Command{
		Use:   "faulty",
		Short: "Inspect or reset the faulty paths of a scanned directory",
		Long: `Items that survive a handling attempt are recorded in the faulty paths
file of their directory and skipped by later scans. Clearing an entry makes
the mover retry the item on its next scan.`,
	}

	listCmd := &cobra.Command{
		Use:   "list <dir>",
		Short: "List the faulty items of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			faulty, err := scanner.NewFaultyPaths(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			items := faulty.List()
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No faulty items")
				return nil
			}
			for _, item := range items {
				fmt.Fprintln(cmd.OutOrStdout(), color.RedString("!"), item)
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <dir> [item...]",
		Short: "Remove items (or all of them) from the faulty paths of a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			faulty, err := scanner.NewFaultyPaths(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}

			if len(args) == 1 {
				n := faulty.Len()
				if err := faulty.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d faulty item(s)\n", n)
				return nil
			}

			for _, item := range args[1:] {
				if !faulty.Contains(item) {
					fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("not faulty:"), item)
					continue
				}
				if err := faulty.Remove(item); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("cleared:"), item)
			}
			return nil
		},
	}

	faultyCmd.AddCommand(listCmd, clearCmd)
	return faultyCmd
}
