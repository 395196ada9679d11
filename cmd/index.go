package cmd

import (
	"fmt"

	"github.com/agentic-research/formgraph/internal/refindex"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		out  string
		path string
	)
	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Write the reference index of a document to a SQLite sidecar",
		Long: `index flushes the expression index to a SQLite database. The node_refs
table holds one roaring bitmap per token and the formgraph_refs virtual
table expands them, e.g.

  SELECT location FROM formgraph_refs WHERE token = 'path:/data/age';`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.loader().Load(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".refs.db"
			}
			sc, err := refindex.OpenSidecar(out)
			if err != nil {
				return err
			}
			defer func() { _ = sc.Close() }()

			if err := sc.Flush(d.Index()); err != nil {
				return err
			}
			if glog.V(1) {
				glog.Infof("index: flushed %d locations to %s", d.Index().Len(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d locations, %d tokens into %s\n", d.Index().Len(), len(d.Index().Tokens()), out)
			if path == "" {
				return nil
			}

			rows, err := sc.Query("SELECT location FROM formgraph_refs WHERE token = ? ORDER BY location", refindex.PathToken(d.Unalias(path)))
			if err != nil {
				return fmt.Errorf("query sidecar: %w", err)
			}
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var loc string
				if err := rows.Scan(&loc); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), loc)
			}
			return rows.Err()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Sidecar database path (default <file>.refs.db)")
	cmd.Flags().StringVar(&path, "query", "", "List the locations referencing this path from the sidecar")
	return cmd
}
