package commands

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/addongit/internal/catalog"
	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
)

// repoInfo describes an add-on repository.
type repoInfo struct {
	AddonID   int64             `json:"addon_id"`
	Path      string            `json:"path"`
	Extracted bool              `json:"extracted"`
	Recent    bool              `json:"recent"`
	Branches  map[string]string `json:"branches"`
	Versions  int               `json:"versions"`
	Committed int               `json:"committed"`
}

func newRepoCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Inspect or delete an add-on repository",
	}

	cmd.AddCommand(newRepoInfoCommand(opts), newRepoDeleteCommand(opts))

	return cmd
}

func newRepoInfoCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "info <addon-id>",
		Short: "Show where a repository lives and what it holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.Output); err != nil {
				return err
			}

			addonID, err := parseAddonID(args[0])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, observability.ModeCLI, func(a *app) error {
				info, err := inspectRepository(cmd.Context(), a, addonID)
				if err != nil {
					return err
				}

				rows := []table.Row{
					{"Add-on", info.AddonID},
					{"Path", info.Path},
					{"Extracted", info.Extracted},
					{"Created within the hour", info.Recent},
					{"Versions", info.Versions},
					{"Committed versions", info.Committed},
				}

				for _, channel := range []catalog.Channel{catalog.ChannelListed, catalog.ChannelUnlisted} {
					if tip, ok := info.Branches[string(channel)]; ok {
						rows = append(rows, table.Row{"Branch " + string(channel), tip})
					}
				}

				return newPrinter(cmd.OutOrStdout(), opts.Output).table(info, table.Row{"Field", "Value"}, rows)
			})
		},
	}
}

func inspectRepository(ctx context.Context, a *app, addonID int64) (repoInfo, error) {
	repo, err := a.repository(addonID)
	if err != nil {
		return repoInfo{}, err
	}
	defer repo.Close()

	info := repoInfo{
		AddonID:   addonID,
		Path:      repo.Path(),
		Extracted: repo.IsExtracted(),
		Recent:    repo.IsRecent(),
		Branches:  map[string]string{},
	}

	versions, err := a.catalog.ListVersions(ctx, addonID)
	if err != nil {
		return repoInfo{}, err
	}

	info.Versions = len(versions)

	for _, v := range versions {
		if v.IsExtracted() {
			info.Committed++
		}
	}

	if !info.Extracted {
		return info, nil
	}

	git, err := repo.OpenExisting()
	if err != nil {
		return repoInfo{}, err
	}

	for _, channel := range []catalog.Channel{catalog.ChannelListed, catalog.ChannelUnlisted} {
		branch := gitstore.BranchForChannel(channel)

		tip, err := git.LookupBranch(branch)
		if gitlib.IsNotFound(err) {
			continue
		}

		if err != nil {
			return repoInfo{}, err
		}

		info.Branches[branch] = tip.String()
	}

	return info, nil
}

func newRepoDeleteCommand(opts *Options) *cobra.Command {
	var requeue bool

	cmd := &cobra.Command{
		Use:   "delete <addon-id>",
		Short: "Delete a repository and clear its commit pointers",
		Long: `Delete an add-on repository from disk. The commit pointer of every version
of the add-on is cleared first so the versions are extracted again. With
--requeue the add-on is queued right away.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addonID, err := parseAddonID(args[0])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, observability.ModeCLI, func(a *app) error {
				ctx := observability.WithAddon(cmd.Context(), addonID)

				repo, err := a.repository(addonID)
				if err != nil {
					return err
				}

				deleted, err := repo.Delete(ctx)
				if err != nil {
					return err
				}

				if requeue {
					if _, err := a.queue.Enqueue(ctx, addonID); err != nil {
						return err
					}
				}

				a.logger.InfoContext(ctx, "repository delete finished", "deleted", deleted, "requeued", requeue)

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&requeue, "requeue", false, "queue the add-on for extraction afterwards")

	return cmd
}
