package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/pkg/config"
)

func newInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default configuration file",
		Example: `% dittomover init
% dittomover init --path /etc/dittomover/config.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				written, err := config.InitConfig(force)
				if err != nil {
					return err
				}
				path = written
			} else if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().StringVarP(&path, "path", "p", "", "Write to this path instead of the default location")
	return cmd
}
