package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/agentic-research/formgraph/internal/config"
	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/ingest"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// app carries what every command needs: the filesystem documents live on
// and the flags shared by all commands.
type app struct {
	fs         billy.Filesystem
	configPath string
	selector   string
	cfg        *config.Config
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.fs, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) loader() *ingest.Loader {
	return ingest.NewLoader(a.fs, a.cfg.Options()...).
		WithDefaults(a.cfg.Root, a.cfg.Languages...).
		WithSelector(a.selector)
}

// loadOne reads the single document in path. Edits are written back as a
// bare document, so selecting into an envelope is rejected.
func (a *app) loadOne(path string) (*document.Document, error) {
	if a.selector != ingest.DefaultSelector {
		return nil, fmt.Errorf("--select is not supported when editing; extract the document first")
	}
	return a.loader().Load(path)
}

func newRootCmd(fs billy.Filesystem) *cobra.Command {
	a := &app{fs: fs}
	root := &cobra.Command{
		Use:   "formgraph",
		Short: "Keep references in form definitions consistent while editing",
		Long: `formgraph loads form definitions, applies structural edits (rename, move,
remove, duplicate) and rewrites every expression and text output that
references the edited paths, then writes the document back atomically.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultFile, "Path to HCL config")
	root.PersistentFlags().StringVar(&a.selector, "select", ingest.DefaultSelector, "JSONPath selecting documents inside each file")

	root.AddCommand(
		newCheckCmd(a),
		newRefsCmd(a),
		newRenameCmd(a),
		newMoveCmd(a),
		newRemoveCmd(a),
		newDuplicateCmd(a),
		newIndexCmd(a),
		newLsCmd(a),
		newCatCmd(a),
		newSetCmd(a),
		newMountCmd(a),
		newServeCmd(a),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	root := newRootCmd(osfs.New(""))
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	root.PersistentFlags().AddFlagSet(pflag.CommandLine)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
