package cmd

import (
	"github.com/agentic-research/formgraph/internal/agent"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

// Version is reported to MCP clients.
var Version = "dev"

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [file]",
		Short: "Serve a document to LLM agents as MCP tools over stdio",
		Long: `serve opens one document and exposes references, diagnostics, rename, move,
remove, duplicate, set_property and save as MCP tools on stdin/stdout. Edits
stay in memory until an agent calls save.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.loadOne(args[0])
			if err != nil {
				return err
			}
			s := agent.NewSession(a.fs, args[0], d)
			err = agent.Serve(agent.NewServer(s, Version))
			if s.Dirty() {
				glog.Warningf("serve: %s has unsaved edits", args[0])
			}
			return err
		},
	}
}
