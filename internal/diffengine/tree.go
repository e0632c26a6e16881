package diffengine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
	"github.com/Sumatoshi-tech/addongit/pkg/mimetype"
)

// Files lists every entry of a commit's extracted tree, directories
// included, in tree order.
func (e *Engine) Files(ctx context.Context, commit string) (_ []FileEntry, err error) {
	_, span := e.tracer.Start(ctx, "addongit.files", trace.WithAttributes(attribute.String("diff.commit", commit)))
	defer endSpan(span, &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	tree, err := e.commitTree(commit)
	if err != nil {
		return nil, err
	}

	if tree == nil {
		return []FileEntry{}, nil
	}
	defer tree.Free()

	var entries []FileEntry

	err = tree.Walk(func(p string, entry gitlib.TreeEntry) error {
		file := FileEntry{
			Path:  p,
			Depth: strings.Count(p, "/"),
			Hash:  entry.Hash.String(),
		}

		switch entry.Kind {
		case gitlib.KindTree:
			class := mimetype.Classify(p, mimetype.KindTree, nil)
			file.MimeType, file.Category = class.MimeType, class.Category
		case gitlib.KindBlob:
			content, err := e.blobContent(entry.Hash)
			if err != nil {
				return err
			}

			class := mimetype.Classify(p, mimetype.KindBlob, head(content))
			file.MimeType, file.Category = class.MimeType, class.Category
			file.Size = int64(len(content))
		default:
			// Submodule links are never committed; skip anything else.
			return nil
		}

		entries = append(entries, file)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Content reads the file at path in a commit's extracted tree.
func (e *Engine) Content(ctx context.Context, commit, path string) (_ File, err error) {
	_, span := e.tracer.Start(ctx, "addongit.content", trace.WithAttributes(
		attribute.String("diff.commit", commit),
		attribute.String("diff.path", path),
	))
	defer endSpan(span, &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	tree, err := e.commitTree(commit)
	if err != nil {
		return File{}, err
	}

	if tree == nil {
		return File{}, fmt.Errorf("%w: path %q", ErrNotFound, path)
	}
	defer tree.Free()

	entry, err := tree.EntryByPath(path)
	if gitlib.IsNotFound(err) {
		return File{}, fmt.Errorf("%w: path %q", ErrNotFound, path)
	}

	if err != nil {
		return File{}, err
	}

	if entry.Kind != gitlib.KindBlob {
		return File{}, fmt.Errorf("%w: %q is not a file", ErrNotFound, path)
	}

	content, err := e.blobContent(entry.Hash)
	if err != nil {
		return File{}, err
	}

	class := mimetype.Classify(path, mimetype.KindBlob, head(content))

	return File{
		Path:     path,
		Hash:     entry.Hash.String(),
		Size:     int64(len(content)),
		MimeType: class.MimeType,
		Category: class.Category,
		Content:  content,
	}, nil
}

func (e *Engine) commitTree(spec string) (*gitlib.Tree, error) {
	commit, err := e.resolve(spec)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	return e.extractedTree(commit)
}
