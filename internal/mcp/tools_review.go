package mcp

import (
	"context"
	"fmt"
	"unicode/utf8"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/addongit/internal/diffengine"
	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
	"github.com/Sumatoshi-tech/addongit/pkg/mimetype"
)

// FileContent is the addon_file_content result.
type FileContent struct {
	diffengine.File

	Text string `json:"text,omitempty"`
}

func (s *Server) handleDiff(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input DiffInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateRevision(input.AddonID, input.Commit); err != nil {
		return errorResult(err)
	}

	var entries []diffengine.DiffEntry

	err := s.withEngine(ctx, input.AddonID, func(ctx context.Context, engine *diffengine.Engine) error {
		var err error
		entries, err = engine.Diff(ctx, diffRequest(input))

		return err
	})
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(entries)
}

func (s *Server) handleDeltas(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input DiffInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateRevision(input.AddonID, input.Commit); err != nil {
		return errorResult(err)
	}

	var entries []diffengine.DeltaEntry

	err := s.withEngine(ctx, input.AddonID, func(ctx context.Context, engine *diffengine.Engine) error {
		var err error
		entries, err = engine.Deltas(ctx, diffRequest(input))

		return err
	})
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(entries)
}

func (s *Server) handleFiles(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input FilesInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateRevision(input.AddonID, input.Commit); err != nil {
		return errorResult(err)
	}

	var files []diffengine.FileEntry

	err := s.withEngine(ctx, input.AddonID, func(ctx context.Context, engine *diffengine.Engine) error {
		var err error
		files, err = engine.Files(ctx, input.Commit)

		return err
	})
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(files)
}

func (s *Server) handleFileContent(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input FileContentInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateRevision(input.AddonID, input.Commit); err != nil {
		return errorResult(err)
	}

	if input.Path == "" {
		return errorResult(ErrEmptyPath)
	}

	var file diffengine.File

	err := s.withEngine(ctx, input.AddonID, func(ctx context.Context, engine *diffengine.Engine) error {
		var err error
		file, err = engine.Content(ctx, input.Commit, input.Path)

		return err
	})
	if err != nil {
		return errorResult(err)
	}

	result := FileContent{File: file}
	if file.Category == mimetype.CategoryText && utf8.Valid(file.Content) {
		result.Text = string(file.Content)
	}

	return jsonResult(result)
}

// withEngine opens the add-on's repository for the duration of fn. A
// repository that was never extracted is reported instead of created.
func (s *Server) withEngine(
	ctx context.Context, addonID int64, fn func(context.Context, *diffengine.Engine) error,
) error {
	repo, err := s.storage.Repository(addonID, gitstore.PackageAddon)
	if err != nil {
		return err
	}
	defer repo.Close()

	git, err := repo.OpenExisting()
	if err != nil {
		return fmt.Errorf("%w: %d", ErrNotExtracted, addonID)
	}

	engine := diffengine.New(git,
		diffengine.WithLogger(s.logger.With("addon_id", addonID)),
		diffengine.WithTracer(s.tracer))
	defer engine.Close()

	return fn(observability.WithAddon(ctx, addonID), engine)
}

func diffRequest(input DiffInput) diffengine.Request {
	return diffengine.Request{
		Commit:  input.Commit,
		Parent:  input.Parent,
		Paths:   input.Paths,
		Renames: input.Renames,
	}
}
