package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/addongit/internal/catalog"
	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
)

const tracerName = "addongit"

// Drain results reported to the Recorder.
const (
	ResultCompleted = "completed"
	ResultRemaining = "remaining"
	ResultDropped   = "dropped"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Catalog is the read side of the version catalog used by extraction.
type Catalog interface {
	GetAddon(ctx context.Context, id int64) (catalog.Addon, error)
	GetVersion(ctx context.Context, id int64) (catalog.Version, error)
	VersionsToExtract(ctx context.Context, addonID int64) ([]int64, error)
}

// Recorder receives extraction measurements.
type Recorder interface {
	VersionExtracted(ctx context.Context, addonID int64, elapsed time.Duration)
	ExtractionFailed(ctx context.Context, outcome string)
	EntryDrained(ctx context.Context, result string)
}

type nopRecorder struct{}

func (nopRecorder) VersionExtracted(context.Context, int64, time.Duration) {}
func (nopRecorder) ExtractionFailed(context.Context, string)               {}
func (nopRecorder) EntryDrained(context.Context, string)                   {}

// Config configures a Service.
type Config struct {
	Queue     *Queue
	Catalog   Catalog
	Storage   *gitstore.Storage
	Committer *gitstore.Committer
	Logger    *slog.Logger
	Recorder  Recorder
	// Tracer defaults to the global provider.
	Tracer trace.Tracer
}

// Service drains the extraction queue into per-add-on repositories.
type Service struct {
	queue     *Queue
	catalog   Catalog
	storage   *gitstore.Storage
	committer *gitstore.Committer
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	s := &Service{
		queue:     cfg.Queue,
		catalog:   cfg.Catalog,
		storage:   cfg.Storage,
		committer: cfg.Committer,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
		tracer:    cfg.Tracer,
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}

	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}

	return s
}

// Queue returns the underlying queue.
func (s *Service) Queue() *Queue {
	return s.queue
}

// ExtractVersionsToGit commits the given versions of addonID in order.
// Versions that already carry a commit pointer are skipped, so the call is
// safe to repeat.
func (s *Service) ExtractVersionsToGit(ctx context.Context, addonID int64, versionIDs []int64) (err error) {
	ctx, span := s.tracer.Start(ctx, "addongit.extract",
		trace.WithAttributes(
			attribute.Int64("addon.id", addonID),
			attribute.Int("extract.versions", len(versionIDs)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "extraction failed")
		}

		span.End()
	}()

	addon, err := s.catalog.GetAddon(ctx, addonID)
	if err != nil {
		return fmt.Errorf("load add-on %d: %w", addonID, err)
	}

	repo, err := s.storage.Repository(addonID, gitstore.PackageAddon)
	if err != nil {
		return err
	}
	defer repo.Close()

	for _, versionID := range versionIDs {
		version, err := s.catalog.GetVersion(ctx, versionID)
		if err != nil {
			return fmt.Errorf("load version %d: %w", versionID, err)
		}

		if version.AddonID != addonID {
			s.logger.WarnContext(ctx, "version belongs to another add-on",
				"addon_id", addonID, "version_id", versionID, "owner_id", version.AddonID)

			continue
		}

		if version.IsExtracted() {
			s.logger.DebugContext(ctx, "version already extracted",
				"version_id", versionID, "commit", version.GitHash)

			continue
		}

		start := time.Now()

		if _, err := s.committer.CommitVersion(ctx, repo, addon, version, ""); err != nil {
			return fmt.Errorf("extract version %d: %w", versionID, err)
		}

		s.recorder.VersionExtracted(ctx, addonID, time.Since(start))
	}

	return nil
}

// RemoveExtractionEntry deletes the in-progress entry of addonID after a
// successful extraction.
func (s *Service) RemoveExtractionEntry(ctx context.Context, addonID int64) error {
	n, err := s.queue.Finish(ctx, addonID)
	if err != nil {
		return err
	}

	if n == 0 {
		s.logger.DebugContext(ctx, "no in-progress entry to remove", "addon_id", addonID)
	}

	return nil
}

// ContinueExtraction hands addonID back to the queue for its next batch.
func (s *Service) ContinueExtraction(ctx context.Context, addonID int64) error {
	return s.queue.Continue(ctx, addonID)
}

// HandleExtractionError applies the outcome of a failed extraction. A
// broken ref deletes the repository, clears every commit pointer of the
// add-on and requeues it; anything else drops the entry. The entry is
// dropped as well when the broken repository cannot be deleted.
func (s *Service) HandleExtractionError(ctx context.Context, addonID int64, cause error) error {
	outcome := Classify(cause)
	s.recorder.ExtractionFailed(ctx, outcome.String())

	if outcome == OutcomeFatal {
		s.logger.ErrorContext(ctx, "extraction failed",
			"addon_id", addonID, "outcome", outcome.String(), "error", cause)

		return s.RemoveExtractionEntry(ctx, addonID)
	}

	s.logger.WarnContext(ctx, "broken repository, recreating",
		"addon_id", addonID, "error", cause)

	repo, err := s.storage.Repository(addonID, gitstore.PackageAddon)
	if err != nil {
		return err
	}

	if _, err := repo.Delete(ctx); err != nil {
		// The entry still goes away so later entries of the add-on are not
		// skipped behind it.
		return errors.Join(
			fmt.Errorf("delete broken repository of %d: %w", addonID, err),
			s.RemoveExtractionEntry(ctx, addonID),
		)
	}

	return s.queue.Requeue(ctx, addonID)
}

// DrainOptions bounds one drain.
type DrainOptions struct {
	// Limit is the number of entries selected.
	Limit int
	// BatchSize is the number of versions extracted per entry. Zero means all.
	BatchSize int
}

// Failure is one add-on whose extraction failed during a drain.
type Failure struct {
	AddonID int64
	Outcome Outcome
	Err     error
}

// DrainReport summarises a drain.
type DrainReport struct {
	Selected  int
	Completed []int64
	Remaining []int64
	Dropped   []int64
	Skipped   []int64
	Failures  []Failure
}

// Drain processes up to opts.Limit queue entries. A failing add-on never
// stops the others; only failures to read the queue are returned.
func (s *Service) Drain(ctx context.Context, opts DrainOptions) (DrainReport, error) {
	ctx, span := s.tracer.Start(ctx, "addongit.drain",
		trace.WithAttributes(
			attribute.Int("drain.limit", opts.Limit),
			attribute.Int("drain.batch_size", opts.BatchSize),
		))
	defer span.End()

	entries, err := s.queue.Next(ctx, opts.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "queue read failed")

		return DrainReport{}, err
	}

	report := DrainReport{Selected: len(entries)}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := s.drainEntry(ctx, entry, opts.BatchSize)

		switch {
		case err != nil:
			report.Failures = append(report.Failures, Failure{AddonID: entry.AddonID, Outcome: Classify(err), Err: err})
			result = ResultFailed
		case result == ResultCompleted:
			report.Completed = append(report.Completed, entry.AddonID)
		case result == ResultRemaining:
			report.Remaining = append(report.Remaining, entry.AddonID)
		case result == ResultDropped:
			report.Dropped = append(report.Dropped, entry.AddonID)
		case result == ResultSkipped:
			report.Skipped = append(report.Skipped, entry.AddonID)
		}

		s.recorder.EntryDrained(ctx, result)
	}

	span.SetAttributes(
		attribute.Int("drain.selected", report.Selected),
		attribute.Int("drain.failures", len(report.Failures)),
	)

	return report, nil
}

func (s *Service) drainEntry(ctx context.Context, entry Entry, batchSize int) (string, error) {
	busy, err := s.queue.HasInProgress(ctx, entry.AddonID)
	if err != nil {
		return "", err
	}

	if busy {
		return ResultSkipped, nil
	}

	addon, err := s.catalog.GetAddon(ctx, entry.AddonID)
	if errors.Is(err, catalog.ErrNotFound) {
		s.logger.WarnContext(ctx, "dropping entry of unknown add-on", "addon_id", entry.AddonID)

		return ResultDropped, s.queue.Delete(ctx, entry.ID)
	}

	if err != nil {
		return "", err
	}

	pending, err := s.catalog.VersionsToExtract(ctx, entry.AddonID)
	if err != nil {
		return "", err
	}

	if len(pending) == 0 || !addon.Type.RequiresExtraction() {
		return ResultDropped, s.queue.Delete(ctx, entry.ID)
	}

	// Another worker took or finished the entry since it was selected.
	err = s.queue.MarkInProgress(ctx, entry.ID)
	if errors.Is(err, ErrAlreadyInProgress) || errors.Is(err, ErrEntryNotFound) {
		return ResultSkipped, nil
	}

	if err != nil {
		return "", err
	}

	batch := pending
	if batchSize > 0 && len(batch) > batchSize {
		batch = batch[:batchSize]
	}

	step, err := s.step(ctx, entry.AddonID, batch, len(batch) < len(pending))
	if err != nil {
		if handleErr := s.HandleExtractionError(ctx, entry.AddonID, err); handleErr != nil {
			return "", errors.Join(err, handleErr)
		}

		return "", err
	}

	if _, ok := step.(Remaining); ok {
		return ResultRemaining, nil
	}

	return ResultCompleted, nil
}

// step extracts one batch and settles the queue entry.
func (s *Service) step(ctx context.Context, addonID int64, versionIDs []int64, more bool) (StepResult, error) {
	if err := s.ExtractVersionsToGit(ctx, addonID, versionIDs); err != nil {
		return nil, err
	}

	if more {
		if err := s.ContinueExtraction(ctx, addonID); err != nil {
			return nil, err
		}

		return Remaining{AddonID: addonID}, nil
	}

	if err := s.RemoveExtractionEntry(ctx, addonID); err != nil {
		return nil, err
	}

	return Completed{}, nil
}

// Run drains the queue every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration, opts DrainOptions) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := s.Drain(ctx, opts)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "drain failed", "error", err)
		}

		if report.Selected > 0 {
			s.logger.InfoContext(ctx, "drained queue",
				"selected", report.Selected,
				"completed", len(report.Completed),
				"remaining", len(report.Remaining),
				"failures", len(report.Failures))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
