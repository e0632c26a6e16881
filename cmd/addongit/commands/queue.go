package commands

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/addongit/internal/extraction"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
)

// queueRow is one printed queue entry.
type queueRow struct {
	ID       int64     `json:"id"`
	AddonID  int64     `json:"addon_id"`
	State    string    `json:"state"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

func newQueueCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the extraction queue",
	}

	cmd.AddCommand(newQueueListCommand(opts), newQueueEnqueueCommand(opts), newQueueResetStaleCommand(opts))

	return cmd
}

func newQueueListCommand(opts *Options) *cobra.Command {
	var addonID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries in drain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(opts.Output); err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, observability.ModeCLI, func(a *app) error {
				entries, err := a.queue.List(cmd.Context(), addonID)
				if err != nil {
					return err
				}

				return printEntries(newPrinter(cmd.OutOrStdout(), opts.Output), entries)
			})
		},
	}

	cmd.Flags().Int64Var(&addonID, "addon", 0, "only entries of this add-on")

	return cmd
}

func newQueueEnqueueCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <addon-id>",
		Short: "Queue an add-on for extraction",
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
				entry, err := a.queue.Enqueue(observability.WithAddon(cmd.Context(), addonID), addonID)
				if err != nil {
					return err
				}

				return printEntries(newPrinter(cmd.OutOrStdout(), opts.Output), []extraction.Entry{entry})
			})
		},
	}
}

func newQueueResetStaleCommand(opts *Options) *cobra.Command {
	var age time.Duration

	cmd := &cobra.Command{
		Use:   "reset-stale",
		Short: "Requeue entries stuck in progress",
		Long: `Entries left in progress by a worker that died are never picked up again.
reset-stale turns every entry that has been in progress for longer than --age
back into a pending entry. Only run it when no worker can still be processing
those add-ons.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, observability.ModeCLI, func(a *app) error {
				if !cmd.Flags().Changed("age") {
					age = a.cfg.Queue.StaleAge
				}

				n, err := a.queue.ResetStale(cmd.Context(), age)
				if err != nil {
					return err
				}

				a.logger.InfoContext(cmd.Context(), "reset stale entries", "count", n, "age", age.String())

				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&age, "age", 0, "minimum time in progress (default queue.stale_age)")

	return cmd
}

func printEntries(p *printer, entries []extraction.Entry) error {
	rows := make([]queueRow, 0, len(entries))
	tableRows := make([]table.Row, 0, len(entries))

	for _, entry := range entries {
		rows = append(rows, queueRow{
			ID:       entry.ID,
			AddonID:  entry.AddonID,
			State:    entry.StateName(),
			Created:  entry.Created,
			Modified: entry.Modified,
		})
		tableRows = append(tableRows, table.Row{
			entry.ID, entry.AddonID, entry.StateName(), humanize.Time(entry.Created), humanize.Time(entry.Modified),
		})
	}

	return p.table(rows, table.Row{"ID", "Add-on", "State", "Created", "Modified"}, tableRows)
}
