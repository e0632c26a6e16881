package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/addongit/internal/diffengine"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
)

// ErrNotExtracted is returned when a review command targets an add-on
// without a repository.
var ErrNotExtracted = errors.New("add-on has no extracted repository")

type diffFlags struct {
	parent  string
	paths   []string
	renames map[string]string
}

func (f *diffFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.parent, "parent", "", "commit to compare against (default: empty tree)")
	cmd.Flags().StringSliceVar(&f.paths, "path", nil, "limit to these paths, relative to the extracted root")
	cmd.Flags().StringToStringVar(&f.renames, "rename", nil, "old=new pairs to show as renames")
}

func (f *diffFlags) request(commit string) diffengine.Request {
	return diffengine.Request{Commit: commit, Parent: f.parent, Paths: f.paths, Renames: f.renames}
}

func newDiffCommand(opts *Options) *cobra.Command {
	flags := &diffFlags{}

	cmd := &cobra.Command{
		Use:   "diff <addon-id> <commit>",
		Short: "Line level diff between two versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return review(cmd, opts, args[0], func(ctx context.Context, p *printer, engine *diffengine.Engine) error {
				entries, err := engine.Diff(ctx, flags.request(args[1]))
				if err != nil {
					return err
				}

				return p.diff(entries)
			})
		},
	}

	flags.register(cmd)

	return cmd
}

func newDeltasCommand(opts *Options) *cobra.Command {
	flags := &diffFlags{}

	cmd := &cobra.Command{
		Use:   "deltas <addon-id> <commit>",
		Short: "Changed paths between two versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return review(cmd, opts, args[0], func(ctx context.Context, p *printer, engine *diffengine.Engine) error {
				entries, err := engine.Deltas(ctx, flags.request(args[1]))
				if err != nil {
					return err
				}

				rows := make([]table.Row, 0, len(entries))
				for _, entry := range entries {
					path := entry.Path
					if entry.Mode == diffengine.ModeRenamed {
						path = entry.OldPath + " -> " + entry.Path
					}

					rows = append(rows, table.Row{entry.Mode, path, size(entry.Size), entry.MimeType})
				}

				return p.table(entries, table.Row{"Mode", "Path", "Size", "Mimetype"}, rows)
			})
		},
	}

	flags.register(cmd)

	return cmd
}

func newFilesCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "files <addon-id> <commit>",
		Short: "Files of an extracted version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return review(cmd, opts, args[0], func(ctx context.Context, p *printer, engine *diffengine.Engine) error {
				files, err := engine.Files(ctx, args[1])
				if err != nil {
					return err
				}

				rows := make([]table.Row, 0, len(files))
				for _, file := range files {
					name := strings.Repeat("  ", file.Depth) + file.Path[strings.LastIndex(file.Path, "/")+1:]
					rows = append(rows, table.Row{name, size(file.Size), file.MimeType, file.Hash[:7]})
				}

				return p.table(files, table.Row{"Path", "Size", "Mimetype", "SHA"}, rows)
			})
		},
	}
}

func newShowCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <addon-id> <commit> <path>",
		Short: "Print one file of an extracted version",
		Long:  "Print the raw content of one file. With --output json or yaml only its metadata is printed.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return review(cmd, opts, args[0], func(ctx context.Context, p *printer, engine *diffengine.Engine) error {
				file, err := engine.Content(ctx, args[1], args[2])
				if err != nil {
					return err
				}

				if p.format != formatTable {
					return p.value(file)
				}

				_, err = cmd.OutOrStdout().Write(file.Content)

				return err
			})
		},
	}
}

// review opens the add-on's existing repository and runs fn on an engine
// over it.
func review(
	cmd *cobra.Command, opts *Options, addonArg string, fn func(context.Context, *printer, *diffengine.Engine) error,
) error {
	if err := validateFormat(opts.Output); err != nil {
		return err
	}

	addonID, err := parseAddonID(addonArg)
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), opts, observability.ModeCLI, func(a *app) error {
		ctx := observability.WithAddon(cmd.Context(), addonID)

		repo, err := a.repository(addonID)
		if err != nil {
			return err
		}
		defer repo.Close()

		git, err := repo.OpenExisting()
		if err != nil {
			return fmt.Errorf("%w: %d: %w", ErrNotExtracted, addonID, err)
		}

		engine := diffengine.New(git,
			diffengine.WithLogger(a.logger.With("addon_id", addonID)),
			diffengine.WithTracer(a.providers.Tracer))
		defer engine.Close()

		return fn(ctx, newPrinter(cmd.OutOrStdout(), opts.Output), engine)
	})
}
