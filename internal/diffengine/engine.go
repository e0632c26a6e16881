// Package diffengine renders file and line level differences between
// extracted add-on versions.
package diffengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
)

const tracerName = "addongit"

// ErrNotFound is returned for unknown commits and paths.
var ErrNotFound = errors.New("diffengine: not found")

// Request selects what to diff.
type Request struct {
	// Commit is the revision shown as the new side.
	Commit string
	// Parent is the old side. Empty diffs against the empty tree.
	Parent string
	// Paths limits the result to these files, relative to the extracted
	// root. Listed files that did not change are still reported.
	Paths []string
	// Renames pairs old paths with new paths to render as one renamed
	// entry instead of a deletion and an addition.
	Renames map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer sets the engine tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

type cacheKey struct {
	commit     gitlib.Hash
	parent     gitlib.Hash
	unmodified bool
}

type rawDiff struct {
	diff    *gitlib.Diff
	deltas  []gitlib.DiffDelta
	patches []gitlib.Patch
}

// Engine computes diffs for one repository. Raw diffs are cached per
// (commit, parent, unmodified) until Close. An Engine is safe for
// concurrent use; calls are serialised.
type Engine struct {
	repo   *gitlib.Repository
	logger *slog.Logger
	tracer trace.Tracer

	mu    sync.Mutex
	cache map[cacheKey]*rawDiff
}

// New creates an Engine over repo. The caller keeps ownership of repo.
func New(repo *gitlib.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		logger: slog.Default(),
		cache:  make(map[cacheKey]*rawDiff),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	return e
}

// Close frees every cached diff.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, raw := range e.cache {
		raw.diff.Free()
		delete(e.cache, key)
	}
}

func diffOptions(unmodified bool) gitlib.DiffOptions {
	return gitlib.DiffOptions{
		IgnoreWhitespaceChange: true,
		IncludeUnmodified:      unmodified,
		ContextLines:           math.MaxInt32,
	}
}

// resolve returns the commit for spec or ErrNotFound.
func (e *Engine) resolve(spec string) (*gitlib.Commit, error) {
	commit, err := e.repo.ResolveCommit(spec)
	if err == nil {
		return commit, nil
	}

	if gitlib.IsNotFound(err) || gitlib.IsInvalidSpec(err) || errors.Is(err, gitlib.ErrNotACommit) {
		return nil, fmt.Errorf("%w: commit %q", ErrNotFound, spec)
	}

	return nil, err
}

// extractedTree returns the extracted root of a commit, nil when the commit
// has none (the bootstrap commit).
func (e *Engine) extractedTree(commit *gitlib.Commit) (*gitlib.Tree, error) {
	root, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	defer root.Free()

	tree, err := root.Subtree(gitstore.ExtractedDir)
	if gitlib.IsNotFound(err) {
		return nil, nil
	}

	return tree, err
}

// raw returns the cached diff for the request, computing it on a miss.
// The caller holds e.mu.
func (e *Engine) raw(req Request) (*rawDiff, error) {
	commit, err := e.resolve(req.Commit)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	key := cacheKey{commit: commit.Hash(), unmodified: len(req.Paths) > 0}

	var parent *gitlib.Commit

	if req.Parent != "" {
		parent, err = e.resolve(req.Parent)
		if err != nil {
			return nil, err
		}
		defer parent.Free()

		key.parent = parent.Hash()
	}

	if cached, ok := e.cache[key]; ok {
		return cached, nil
	}

	newTree, err := e.extractedTree(commit)
	if err != nil {
		return nil, err
	}
	defer newTree.Free()

	var oldTree *gitlib.Tree

	if parent != nil {
		oldTree, err = e.extractedTree(parent)
		if err != nil {
			return nil, err
		}
		defer oldTree.Free()
	}

	diff, err := e.repo.DiffTrees(oldTree, newTree, diffOptions(key.unmodified))
	if err != nil {
		return nil, err
	}

	deltas, err := diff.Deltas()
	if err != nil {
		diff.Free()

		return nil, err
	}

	raw := &rawDiff{diff: diff, deltas: deltas}
	e.cache[key] = raw

	e.logger.Debug("computed diff",
		"commit", key.commit.Short(), "parent", key.parent.Short(), "deltas", len(deltas))

	return raw, nil
}

func (r *rawDiff) loadPatches() ([]gitlib.Patch, error) {
	if r.patches != nil {
		return r.patches, nil
	}

	patches, err := r.diff.Patches()
	if err != nil {
		return nil, err
	}

	r.patches = patches

	return patches, nil
}

func (e *Engine) startSpan(ctx context.Context, name string, req Request) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("diff.commit", req.Commit),
		attribute.String("diff.parent", req.Parent),
		attribute.Int("diff.paths", len(req.Paths)),
	))
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}

	span.End()
}
