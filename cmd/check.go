package cmd

import (
	"fmt"

	"github.com/agentic-research/formgraph/internal/report"
	"github.com/spf13/cobra"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check [file...]",
		Short: "Validate documents and report diagnostics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			errs := 0
			for _, path := range args {
				docs, err := a.loader().LoadAll(path)
				if err != nil {
					return err
				}
				for i, d := range docs {
					name := path
					if len(docs) > 1 {
						name = fmt.Sprintf("%s[%d]", path, i)
					}
					errs += report.Diagnostics(cmd.OutOrStdout(), name, d)
				}
			}
			if errs > 0 {
				return fmt.Errorf("%d errors", errs)
			}
			return nil
		},
	}
}
