// Package commands implements the addongit CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/addongit/pkg/version"
)

// Options are the persistent flags shared by every command.
type Options struct {
	ConfigPath string
	Output     string
	Verbose    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	rootCmd := &cobra.Command{
		Use:   "addongit",
		Short: "Git-backed storage for add-on versions",
		Long: `addongit keeps one git repository per add-on, commits every uploaded
version onto its channel branch and renders diffs between versions.

Commands:
  upload    Register an uploaded package and queue it for extraction
  extract   Drain the extraction queue
  queue     Inspect and repair the extraction queue
  diff      Line level diff between two versions
  deltas    Changed paths between two versions
  files     Files of an extracted version
  show      Print one file of an extracted version
  repo      Inspect or delete an add-on repository
  mcp       Serve the review tools over MCP on stdio`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "config file (default .addongit.yaml in CWD or $HOME)")
	flags.StringVarP(&opts.Output, "output", "o", formatTable, "output format: table, json or yaml")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newUploadCommand(opts),
		newExtractCommand(opts),
		newQueueCommand(opts),
		newDiffCommand(opts),
		newDeltasCommand(opts),
		newFilesCommand(opts),
		newShowCommand(opts),
		newRepoCommand(opts),
		newMCPCommand(opts),
		newVersionCommand(opts),
	)

	return rootCmd
}

func newVersionCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			if opts.Output == formatTable {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())

				return err
			}

			return newPrinter(cmd.OutOrStdout(), opts.Output).value(info)
		},
	}
}
