package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentic-research/formgraph/internal/docfs"
	"github.com/agentic-research/formgraph/internal/writeback"
	"github.com/spf13/cobra"
)

func newMountCmd(a *app) *cobra.Command {
	var (
		writable bool
		addr     string
		noMount  bool
	)
	cmd := &cobra.Command{
		Use:   "mount [file] [mountpoint]",
		Short: "Export a document as a filesystem over NFS",
		Long: `mount serves the document as a directory tree: one directory per node and
@-files for properties and texts. With --writable, writes to @-files, renames
and removals edit the document with references rewritten, and the document is
saved when the mount is released (Ctrl-C).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.loadOne(args[0])
			if err != nil {
				return err
			}
			view := docfs.New(d)
			view.SetWritable(writable)

			srv, err := docfs.NewServer(addr, view)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()
			fmt.Fprintf(cmd.OutOrStdout(), "serving %s over NFS on port %d\n", args[0], srv.Port())

			mountPoint := ""
			if len(args) > 1 && !noMount {
				mountPoint = args[1]
				if err := docfs.Mount(srv.Port(), mountPoint, writable); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mounted at %s\n", mountPoint)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			if mountPoint != "" {
				if err := docfs.Unmount(mountPoint); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
			}
			if !writable {
				return nil
			}
			if err := writeback.Save(a.fs, args[0], d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&writable, "writable", "w", false, "Allow edits through the mount")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:0", "NFS listen address")
	cmd.Flags().BoolVar(&noMount, "no-mount", false, "Only serve; mount it yourself")
	return cmd
}
