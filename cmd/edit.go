package cmd

import (
	"fmt"

	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/report"
	"github.com/agentic-research/formgraph/internal/writeback"
	"github.com/spf13/cobra"
)

type editFlags struct {
	dryRun bool
	out    string
}

func (f *editFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "Report the rewrites without writing the document")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Write the result here instead of over the input")
}

// edit loads the document in path, applies op to the node at target and
// writes the result back unless this is a dry run.
func (a *app) edit(cmd *cobra.Command, f *editFlags, path, target string, op func(d *document.Document, id graph.Ident) (*document.Change, error)) error {
	d, err := a.loadOne(path)
	if err != nil {
		return err
	}
	id, err := d.Resolve(target)
	if err != nil {
		return err
	}
	change, err := op(d, id)
	if err != nil {
		return err
	}
	report.Change(cmd.OutOrStdout(), d, change)
	if f.dryRun {
		return nil
	}
	out := f.out
	if out == "" {
		out = path
	}
	if err := writeback.Save(a.fs, out, d); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	return nil
}

func newRenameCmd(a *app) *cobra.Command {
	f := &editFlags{}
	cmd := &cobra.Command{
		Use:   "rename [file] [path] [new-id]",
		Short: "Rename a node and rewrite every reference to it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.edit(cmd, f, args[0], args[1], func(d *document.Document, id graph.Ident) (*document.Change, error) {
				return d.Rename(id, args[2])
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newMoveCmd(a *app) *cobra.Command {
	f := &editFlags{}
	var pos string
	cmd := &cobra.Command{
		Use:   "move [file] [path] [reference-path]",
		Short: "Move a node relative to another and rewrite every reference to the moved paths",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := graph.ParsePosition(pos)
			if err != nil {
				return err
			}
			return a.edit(cmd, f, args[0], args[1], func(d *document.Document, id graph.Ident) (*document.Change, error) {
				ref, err := d.Resolve(args[2])
				if err != nil {
					return nil, err
				}
				return d.Move(id, p, ref)
			})
		},
	}
	cmd.Flags().StringVarP(&pos, "position", "p", "into", "Placement relative to the reference: before, after, into, first or last")
	f.register(cmd)
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	f := &editFlags{}
	cmd := &cobra.Command{
		Use:   "remove [file] [path]",
		Short: "Remove a node with its subtree; references to it are reported broken",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.edit(cmd, f, args[0], args[1], func(d *document.Document, id graph.Ident) (*document.Change, error) {
				return d.Remove(id)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newDuplicateCmd(a *app) *cobra.Command {
	f := &editFlags{}
	cmd := &cobra.Command{
		Use:   "duplicate [file] [path]",
		Short: "Copy a node after itself as copy-N-of-<id>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.edit(cmd, f, args[0], args[1], func(d *document.Document, id graph.Ident) (*document.Change, error) {
				_, c, err := d.Duplicate(id)
				return c, err
			})
		},
	}
	f.register(cmd)
	return cmd
}
