package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/addongit/internal/mcp"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
	"github.com/Sumatoshi-tech/addongit/pkg/version"
)

func newMCPCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the review tools over MCP on stdio",
		Long: `Start a Model Context Protocol server on stdio transport. Logs go to
stderr. The server exposes:
  - addon_diff: line level diff between two versions
  - addon_deltas: changed paths between two versions
  - addon_files: files of an extracted version
  - addon_file_content: content of one file
  - addon_queue_status: extraction queue entries`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, observability.ModeMCP, func(a *app) error {
				red, err := observability.NewREDMetrics(a.providers.Meter)
				if err != nil {
					return err
				}

				srv := mcp.NewServer(mcp.ServerDeps{
					Storage: a.storage,
					Queue:   a.queue,
					Version: version.Get().Version,
					Logger:  a.logger,
					Metrics: red,
					Tracer:  a.providers.Tracer,
				})

				return srv.Run(cmd.Context())
			})
		},
	}
}
