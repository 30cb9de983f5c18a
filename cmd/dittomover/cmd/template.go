package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/pkg/template"
)

func newTemplateCmd() *cobra.Command {
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Work with ${placeholder} templates",
	}

	var values []string
	renderCmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Bind placeholders and print the result",
		Example: `% dittomover template render '${host}-${timestamp}_' --set host=node1 --set timestamp=20240101
node1-20240101_`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bound := make(map[string]string, len(values))
			for _, v := range values {
				name, value, ok := strings.Cut(v, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, expected name=value", v)
				}
				bound[name] = value
			}

			text, err := template.Render(args[0], bound)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	renderCmd.Flags().StringArrayVarP(&values, "set", "s", nil, "Placeholder value as name=value (repeatable)")

	placeholdersCmd := &cobra.Command{
		Use:   "placeholders <template>",
		Short: "List the placeholder names of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := template.New(args[0])
			if err != nil {
				return err
			}
			for _, name := range t.PlaceholderNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	templateCmd.AddCommand(renderCmd, placeholdersCmd)
	return templateCmd
}
