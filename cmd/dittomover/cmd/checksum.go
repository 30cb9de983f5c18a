package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/pkg/checksum"
)

func newChecksumCmd() *cobra.Command {
	var algo string

	cmd := &cobra.Command{
		Use:   "checksum <path>...",
		Short: "Checksum files or every file of a directory tree",
		Example: `% dittomover checksum --algo sha256 data/run-42
3f2a...  run-42/a.bin`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := checksum.ParseAlgorithm(algo)
			if err != nil {
				return err
			}

			fsys := afero.NewOsFs()
			for _, root := range args {
				sums, err := checksum.Tree(fsys, root, a)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(sums))
				for name := range sums {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sums[name], name)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&algo, "algo", "a", string(checksum.Default),
		fmt.Sprintf("Algorithm, one of %v", checksum.Algorithms))
	return cmd
}
