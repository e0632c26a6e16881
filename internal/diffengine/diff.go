package diffengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
	"github.com/Sumatoshi-tech/addongit/pkg/mimetype"
)

// sniffLen is how much of a blob is handed to the classifier.
const sniffLen = 8000

// Diff renders the changes between req.Parent and req.Commit with full
// file context. Files named in req.Paths that did not change get a single
// synthesized context hunk holding their whole content, when textual.
func (e *Engine) Diff(ctx context.Context, req Request) (_ []DiffEntry, err error) {
	_, span := e.startSpan(ctx, "addongit.diff", req)
	defer endSpan(span, &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.raw(req)
	if err != nil {
		return nil, err
	}

	patches, err := raw.loadPatches()
	if err != nil {
		return nil, err
	}

	patches, err = e.mergeRenamedPatches(patches, req.Renames)
	if err != nil {
		return nil, err
	}

	patches, err = filterPaths(patches, req.Paths, func(p gitlib.Patch) gitlib.DiffDelta { return p.Delta })
	if err != nil {
		return nil, err
	}

	entries := make([]DiffEntry, 0, len(patches))

	for _, patch := range patches {
		entry, err := e.render(patch, len(req.Paths) > 0)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Deltas lists path level changes without generating hunks.
func (e *Engine) Deltas(ctx context.Context, req Request) (_ []DeltaEntry, err error) {
	_, span := e.startSpan(ctx, "addongit.deltas", req)
	defer endSpan(span, &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.raw(req)
	if err != nil {
		return nil, err
	}

	deltas := raw.deltas

	if pairs := renamePairs(deltas, req.Renames); len(pairs) > 0 {
		merged := make([]gitlib.DiffDelta, len(deltas))
		copy(merged, deltas)

		drop := make(map[int]bool, len(pairs))

		for _, pair := range pairs {
			merged[pair.added] = gitlib.DiffDelta{
				Status:  gitlib.DeltaRenamed,
				OldFile: deltas[pair.deleted].OldFile,
				NewFile: deltas[pair.added].NewFile,
			}
			drop[pair.deleted] = true
		}

		deltas = dropIndexes(merged, drop)
	}

	deltas, err = filterPaths(deltas, req.Paths, func(d gitlib.DiffDelta) gitlib.DiffDelta { return d })
	if err != nil {
		return nil, err
	}

	entries := make([]DeltaEntry, 0, len(deltas))

	for _, delta := range deltas {
		file := shownFile(delta)

		content, err := e.blobContent(file.Hash)
		if err != nil {
			return nil, err
		}

		class := mimetype.Classify(file.Path, mimetype.KindBlob, head(content))

		entries = append(entries, DeltaEntry{
			Path:     file.Path,
			OldPath:  delta.OldFile.Path,
			Size:     int64(len(content)),
			IsBinary: delta.Binary || class.Category == mimetype.CategoryBinary,
			Mode:     modeOf(delta.Status),
			MimeType: class.MimeType,
			Category: class.Category,
		})
	}

	return entries, nil
}

func (e *Engine) render(patch gitlib.Patch, synthesize bool) (DiffEntry, error) {
	delta := patch.Delta
	file := shownFile(delta)

	entry := DiffEntry{
		Path:             file.Path,
		OldPath:          delta.OldFile.Path,
		Mode:             modeOf(delta.Status),
		IsBinary:         delta.Binary,
		Hunks:            []Hunk{},
		OldEndingNewline: true,
		NewEndingNewline: true,
	}

	content, err := e.blobContent(file.Hash)
	if err != nil {
		return DiffEntry{}, err
	}

	class := mimetype.Classify(file.Path, mimetype.KindBlob, head(content))
	entry.Size = int64(len(content))
	entry.MimeType = class.MimeType
	entry.Category = class.Category
	entry.IsBinary = entry.IsBinary || class.Category == mimetype.CategoryBinary

	if entry.IsBinary || class.Category != mimetype.CategoryText {
		return entry, nil
	}

	for _, h := range patch.Hunks {
		hunk := Hunk{
			Header:   strings.TrimRight(h.Header, "\r\n"),
			OldStart: h.OldStart,
			NewStart: h.NewStart,
			OldLines: h.OldLines,
			NewLines: h.NewLines,
			Changes:  make([]Change, 0, len(h.Lines)),
		}

		for _, line := range h.Lines {
			switch line.Origin {
			case gitlib.LineAddition:
				entry.LinesAdded++
			case gitlib.LineDeletion:
				entry.LinesDeleted++
			case gitlib.LineContextEOFNL:
				entry.OldEndingNewline = false
				entry.NewEndingNewline = false
			case gitlib.LineAddEOFNL:
				entry.OldEndingNewline = false
			case gitlib.LineDelEOFNL:
				entry.NewEndingNewline = false
			case gitlib.LineContext:
			}

			hunk.Changes = append(hunk.Changes, Change{
				Content:       lineContent(line),
				Type:          changeType(line.Origin),
				OldLineNumber: line.OldLineno,
				NewLineNumber: line.NewLineno,
			})
		}

		entry.Hunks = append(entry.Hunks, hunk)
	}

	if synthesize && delta.Status == gitlib.DeltaUnmodified && len(entry.Hunks) == 0 && len(content) > 0 {
		entry.Hunks = append(entry.Hunks, contextHunk(content))

		if content[len(content)-1] != '\n' {
			entry.OldEndingNewline = false
			entry.NewEndingNewline = false
		}
	}

	return entry, nil
}

// contextHunk renders the whole content as unchanged lines.
func contextHunk(content []byte) Hunk {
	lines := strings.SplitAfter(string(content), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	hunk := Hunk{
		Header:   fmt.Sprintf("@@ -1,%d +1,%d @@", len(lines), len(lines)),
		OldStart: 1,
		NewStart: 1,
		OldLines: len(lines),
		NewLines: len(lines),
		Changes:  make([]Change, 0, len(lines)),
	}

	for i, line := range lines {
		hunk.Changes = append(hunk.Changes, Change{
			Content:       strings.TrimRight(line, "\r\n"),
			Type:          TypeNormal,
			OldLineNumber: i + 1,
			NewLineNumber: i + 1,
		})
	}

	return hunk
}

func lineContent(line gitlib.Line) string {
	switch line.Origin {
	case gitlib.LineContextEOFNL, gitlib.LineAddEOFNL, gitlib.LineDelEOFNL:
		return strings.TrimSpace(line.Content)
	default:
		return strings.TrimRight(line.Content, "\r\n")
	}
}

// mergeRenamedPatches replaces each requested (deleted, added) pair with a
// single renamed patch diffed blob to blob.
func (e *Engine) mergeRenamedPatches(patches []gitlib.Patch, renames map[string]string) ([]gitlib.Patch, error) {
	deltas := make([]gitlib.DiffDelta, len(patches))
	for i, p := range patches {
		deltas[i] = p.Delta
	}

	pairs := renamePairs(deltas, renames)
	if len(pairs) == 0 {
		return patches, nil
	}

	merged := make([]gitlib.Patch, len(patches))
	copy(merged, patches)

	drop := make(map[int]bool, len(pairs))

	for _, pair := range pairs {
		patch, err := e.diffRenamed(deltas[pair.deleted].OldFile, deltas[pair.added].NewFile)
		if err != nil {
			return nil, err
		}

		merged[pair.added] = patch
		drop[pair.deleted] = true
	}

	return dropIndexes(merged, drop), nil
}

func (e *Engine) diffRenamed(oldFile, newFile gitlib.DiffFile) (gitlib.Patch, error) {
	oldBlob, err := e.repo.LookupBlob(oldFile.Hash)
	if err != nil {
		return gitlib.Patch{}, err
	}
	defer oldBlob.Free()

	newBlob, err := e.repo.LookupBlob(newFile.Hash)
	if err != nil {
		return gitlib.Patch{}, err
	}
	defer newBlob.Free()

	patch, err := gitlib.DiffBlobs(oldBlob, oldFile.Path, newBlob, newFile.Path, diffOptions(false))
	if err != nil {
		return gitlib.Patch{}, err
	}

	patch.Delta.Status = gitlib.DeltaRenamed
	patch.Delta.OldFile = oldFile
	patch.Delta.NewFile = newFile

	return patch, nil
}

type renamePair struct {
	deleted int
	added   int
}

func renamePairs(deltas []gitlib.DiffDelta, renames map[string]string) []renamePair {
	if len(renames) == 0 {
		return nil
	}

	deleted := make(map[string]int)
	added := make(map[string]int)

	for i, d := range deltas {
		switch d.Status {
		case gitlib.DeltaDeleted:
			deleted[d.OldFile.Path] = i
		case gitlib.DeltaAdded:
			added[d.NewFile.Path] = i
		default:
		}
	}

	var pairs []renamePair

	for oldPath, newPath := range renames {
		di, okDeleted := deleted[oldPath]
		ai, okAdded := added[newPath]

		if okDeleted && okAdded {
			pairs = append(pairs, renamePair{deleted: di, added: ai})
		}
	}

	return pairs
}

func dropIndexes[T any](items []T, drop map[int]bool) []T {
	out := make([]T, 0, len(items)-len(drop))

	for i, item := range items {
		if !drop[i] {
			out = append(out, item)
		}
	}

	return out
}

// filterPaths keeps items touching one of paths. Every path must match.
func filterPaths[T any](items []T, paths []string, delta func(T) gitlib.DiffDelta) ([]T, error) {
	if len(paths) == 0 {
		return items, nil
	}

	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		wanted[p] = false
	}

	var out []T

	for _, item := range items {
		d := delta(item)

		_, oldWanted := wanted[d.OldFile.Path]
		_, newWanted := wanted[d.NewFile.Path]

		if !oldWanted && !newWanted {
			continue
		}

		if oldWanted {
			wanted[d.OldFile.Path] = true
		}

		if newWanted {
			wanted[d.NewFile.Path] = true
		}

		out = append(out, item)
	}

	for p, seen := range wanted {
		if !seen {
			return nil, fmt.Errorf("%w: path %q", ErrNotFound, p)
		}
	}

	return out, nil
}

// shownFile is the side of a delta that represents it: the old file for
// deletions, the new file otherwise.
func shownFile(delta gitlib.DiffDelta) gitlib.DiffFile {
	if delta.Status == gitlib.DeltaDeleted {
		return delta.OldFile
	}

	return delta.NewFile
}

func (e *Engine) blobContent(hash gitlib.Hash) ([]byte, error) {
	if hash.IsZero() {
		return nil, nil
	}

	blob, err := e.repo.LookupBlob(hash)
	if err != nil {
		return nil, err
	}
	defer blob.Free()

	return blob.Contents(), nil
}

func head(content []byte) []byte {
	if len(content) > sniffLen {
		return content[:sniffLen]
	}

	return content
}
