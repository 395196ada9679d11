package cmd

import (
	"fmt"

	"github.com/agentic-research/formgraph/internal/docfs"
	"github.com/agentic-research/formgraph/internal/writeback"
	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/cobra"
)

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [file] [path]",
		Short: "List a node directory: attributes (@kind, @bind.relevant, @label, ...) and children",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.loader().Load(args[0])
			if err != nil {
				return err
			}
			dir := "/"
			if len(args) > 1 {
				dir = d.Unalias(args[1])
			}
			infos, err := docfs.New(d).ReadDir(dir)
			if err != nil {
				return err
			}
			for _, fi := range infos {
				name := fi.Name()
				if fi.IsDir() {
					name += "/"
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat [file] [path/@attribute]",
		Short: "Print one attribute of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.loader().Load(args[0])
			if err != nil {
				return err
			}
			data, err := util.ReadFile(docfs.New(d), d.Unalias(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	f := &editFlags{}
	cmd := &cobra.Command{
		Use:   "set [file] [path/@attribute] [value]",
		Short: "Set one attribute of a node; an empty value clears it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.loadOne(args[0])
			if err != nil {
				return err
			}
			view := docfs.New(d)
			view.SetWritable(true)
			target := d.Unalias(args[1])
			if args[2] == "" {
				err = view.Remove(target)
			} else {
				err = util.WriteFile(view, target, []byte(args[2]), 0o644)
			}
			if err != nil {
				return err
			}
			if f.dryRun {
				return nil
			}
			out := f.out
			if out == "" {
				out = args[0]
			}
			if err := writeback.Save(a.fs, out, d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
