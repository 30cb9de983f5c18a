package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/pkg/password"
)

func newPasswdCmd() *cobra.Command {
	var (
		opts  password.Options
		count int
	)

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Generate random passwords",
		Example: `% dittomover passwd -n 16 --symbols
% dittomover passwd --pronounceable --count 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := password.New()
			for range count {
				pw, err := gen.GenerateWithOptions(opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), pw)
			}
			return nil
		},
	}

	fls := cmd.Flags()
	fls.IntVarP(&opts.Length, "length", "n", password.DefaultLength, "Password length")
	fls.BoolVar(&opts.WithSymbols, "symbols", false, "Include symbols")
	fls.BoolVar(&opts.Pronounceable, "pronounceable", false, "Alternate consonants and vowels")
	fls.IntVar(&count, "count", 1, "Number of passwords")
	return cmd
}
