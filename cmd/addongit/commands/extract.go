package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/addongit/internal/extraction"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
)

type extractFlags struct {
	limit     int
	batchSize int
	watch     bool
	interval  time.Duration
	addonID   int64
}

// drainRow is one add-on of a drain report.
type drainRow struct {
	AddonID int64  `json:"addon_id"`
	Result  string `json:"result"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newExtractCommand(opts *Options) *cobra.Command {
	flags := &extractFlags{}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Drain the extraction queue",
		Long: `Drain the extraction queue once, oldest entries first, or keep draining
every --interval with --watch. In watch mode /metrics, /healthz and /readyz
are served on telemetry.metrics_addr when it is set.

With --addon the pending versions of one add-on are committed directly,
bypassing the queue. A broken repository met on that path is deleted and
the add-on requeued, as a drain would do.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(opts.Output); err != nil {
				return err
			}

			mode := observability.ModeCLI
			if flags.watch {
				mode = observability.ModeWorker
			}

			return withApp(cmd.Context(), opts, mode, func(a *app) error {
				drain := extraction.DrainOptions{Limit: a.cfg.Queue.Limit, BatchSize: a.cfg.Queue.BatchSize}
				if cmd.Flags().Changed("limit") {
					drain.Limit = flags.limit
				}

				if cmd.Flags().Changed("batch-size") {
					drain.BatchSize = flags.batchSize
				}

				switch {
				case flags.addonID > 0:
					return extractAddon(cmd.Context(), a, flags.addonID)
				case flags.watch:
					interval := a.cfg.Queue.Interval
					if cmd.Flags().Changed("interval") {
						interval = flags.interval
					}

					return watch(cmd.Context(), a, interval, drain)
				default:
					report, err := a.service.Drain(cmd.Context(), drain)
					if err != nil {
						return err
					}

					return printDrain(newPrinter(cmd.OutOrStdout(), opts.Output), report)
				}
			})
		},
	}

	cmd.Flags().IntVar(&flags.limit, "limit", 0, "maximum queue entries per drain (default queue.limit)")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "maximum versions per add-on and drain, 0 for all (default queue.batch_size)")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "keep draining until interrupted")
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "time between drains in watch mode (default queue.interval)")
	cmd.Flags().Int64Var(&flags.addonID, "addon", 0, "commit the pending versions of this add-on without the queue")

	return cmd
}

func extractAddon(ctx context.Context, a *app, addonID int64) error {
	ctx = observability.WithAddon(ctx, addonID)

	ids, err := a.catalog.VersionsToExtract(ctx, addonID)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		a.logger.InfoContext(ctx, "nothing to extract")

		return nil
	}

	err = a.service.ExtractVersionsToGit(ctx, addonID, ids)
	if err != nil && extraction.Classify(err) == extraction.OutcomeRecoverable {
		return errors.Join(err, a.service.HandleExtractionError(ctx, addonID, err))
	}

	return err
}

// watch drains until SIGINT or SIGTERM, serving telemetry alongside.
func watch(ctx context.Context, a *app, interval time.Duration, drain extraction.DrainOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)

	if addr := a.cfg.Telemetry.MetricsAddr; addr != "" {
		mux := observability.NewMux(a.providers.MetricsHandler, a.ready)

		go func() {
			serveErr <- observability.Serve(ctx, addr, mux, a.logger)
		}()
	} else {
		serveErr <- nil
	}

	a.logger.InfoContext(ctx, "watching extraction queue",
		"interval", interval.String(), "limit", drain.Limit, "batch_size", drain.BatchSize)

	runErr := a.service.Run(ctx, interval, drain)
	stop()

	return errors.Join(runErr, <-serveErr)
}

func printDrain(p *printer, report extraction.DrainReport) error {
	rows := make([]drainRow, 0, report.Selected)

	add := func(ids []int64, result string) {
		for _, id := range ids {
			rows = append(rows, drainRow{AddonID: id, Result: result})
		}
	}

	add(report.Completed, extraction.ResultCompleted)
	add(report.Remaining, extraction.ResultRemaining)
	add(report.Dropped, extraction.ResultDropped)
	add(report.Skipped, extraction.ResultSkipped)

	for _, failure := range report.Failures {
		rows = append(rows, drainRow{
			AddonID: failure.AddonID,
			Result:  extraction.ResultFailed,
			Outcome: failure.Outcome.String(),
			Error:   failure.Err.Error(),
		})
	}

	tableRows := make([]table.Row, 0, len(rows))
	for _, row := range rows {
		tableRows = append(tableRows, table.Row{row.AddonID, row.Result, row.Outcome, row.Error})
	}

	return p.table(rows, table.Row{"Add-on", "Result", "Outcome", "Error"}, tableRows)
}
