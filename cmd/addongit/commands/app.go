package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Sumatoshi-tech/addongit/internal/catalog"
	"github.com/Sumatoshi-tech/addongit/internal/codec"
	"github.com/Sumatoshi-tech/addongit/internal/config"
	"github.com/Sumatoshi-tech/addongit/internal/extraction"
	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
	"github.com/Sumatoshi-tech/addongit/internal/sqlitepool"
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
	"github.com/Sumatoshi-tech/addongit/pkg/version"
)

// ErrInvalidAddonID is returned for add-on id arguments that are not
// positive integers.
var ErrInvalidAddonID = errors.New("add-on id must be a positive integer")

// app is the process wiring shared by commands.
type app struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
	pool      *sqlitepool.Pool
	catalog   *catalog.Store
	queue     *extraction.Queue
	storage   *gitstore.Storage
	committer *gitstore.Committer
	service   *extraction.Service
}

// openApp loads configuration, starts telemetry and opens the database.
func openApp(opts *Options, mode observability.AppMode) (_ *app, err error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	obsCfg := cfg.Observability(mode, version.Get().Version)
	if opts.Verbose {
		obsCfg.LogLevel = slog.LevelDebug
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	a := &app{cfg: cfg, providers: providers, logger: providers.Logger}

	defer func() {
		if err != nil {
			err = errors.Join(err, a.Close(context.Background()))
		}
	}()

	if err := gitlib.Configure(cfg.GitSettings(a.logger)); err != nil {
		return nil, err
	}

	a.pool, err = sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Storage.Database,
		PoolSize: cfg.Storage.PoolSize,
		Logger:   a.logger,
		Schemas:  []string{catalog.Schema, extraction.QueueSchema},
	})
	if err != nil {
		return nil, err
	}

	recorder, err := observability.NewExtractionMetrics(providers.Meter)
	if err != nil {
		return nil, err
	}

	a.catalog = catalog.New(a.pool)
	a.queue = extraction.NewQueue(a.pool)
	a.storage = gitstore.NewStorage(gitstore.Config{
		Root:     cfg.Storage.Root,
		TmpDir:   cfg.Storage.TmpDir,
		Identity: cfg.Identity(),
		Versions: a.catalog,
		Logger:   a.logger,
	})
	a.committer = gitstore.NewCommitter(a.storage, codec.ZipExtractor{Fsync: cfg.Git.Fsync, Logger: a.logger})
	a.service = extraction.NewService(extraction.Config{
		Queue:     a.queue,
		Catalog:   a.catalog,
		Storage:   a.storage,
		Committer: a.committer,
		Logger:    a.logger,
		Recorder:  recorder,
		Tracer:    providers.Tracer,
	})

	return a, nil
}

// Close releases the database and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error

	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}

	if a.providers.Shutdown != nil {
		errs = append(errs, a.providers.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// repository returns the add-on's repository handle.
func (a *app) repository(addonID int64) (*gitstore.Repository, error) {
	return a.storage.Repository(addonID, gitstore.PackageAddon)
}

// ready reports whether the database answers.
func (a *app) ready(ctx context.Context) error {
	conn, err := a.pool.Take(ctx)
	if err != nil {
		return err
	}

	a.pool.Put(conn)

	return nil
}

func parseAddonID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddonID, arg)
	}

	return id, nil
}

// withApp runs fn with an opened app and closes it afterwards.
func withApp(ctx context.Context, opts *Options, mode observability.AppMode, fn func(*app) error) (err error) {
	a, err := openApp(opts, mode)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}()

	return fn(a)
}
