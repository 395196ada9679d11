package cmd

import (
	"fmt"

	"github.com/agentic-research/formgraph/internal/report"
	"github.com/spf13/cobra"
)

func newRefsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refs [file] [path]",
		Short: "List every expression and text referencing a path or anything below it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := a.loader().LoadAll(args[0])
			if err != nil {
				return err
			}
			for i, d := range docs {
				if len(docs) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "# %s[%d]\n", args[0], i)
				}
				report.Locations(cmd.OutOrStdout(), d, d.References(args[1]))
			}
			return nil
		},
	}
}
