package gitlib

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// DeltaStatus is the kind of change recorded for a file.
type DeltaStatus int

// Delta statuses.
const (
	DeltaUnmodified DeltaStatus = iota
	DeltaAdded
	DeltaDeleted
	DeltaModified
	DeltaRenamed
	DeltaCopied
	DeltaTypeChange
	DeltaOther
)

// LineOrigin classifies a line of a hunk.
type LineOrigin int

// Line origins. The EOFNL variants mark a missing newline at end of file:
// LineContextEOFNL on both sides, LineAddEOFNL on the old side only and
// LineDelEOFNL on the new side only.
const (
	LineContext LineOrigin = iota
	LineAddition
	LineDeletion
	LineContextEOFNL
	LineAddEOFNL
	LineDelEOFNL
)

// DiffOptions configures tree and blob diffs.
type DiffOptions struct {
	IgnoreWhitespaceChange bool
	IncludeUnmodified      bool
	ContextLines           uint32
	InterhunkLines         uint32
	Pathspec               []string
}

// DiffFile is one side of a delta.
type DiffFile struct {
	Path string
	Hash Hash
	Size int64
}

// DiffDelta describes the change to a single file.
type DiffDelta struct {
	Status  DeltaStatus
	OldFile DiffFile
	NewFile DiffFile
	Binary  bool
}

// Line is a single line of a hunk. Line numbers are -1 on the side the line
// does not exist.
type Line struct {
	Origin    LineOrigin
	OldLineno int
	NewLineno int
	Content   string
}

// Hunk is a contiguous region of change.
type Hunk struct {
	Header   string
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Patch is a delta together with its hunks.
type Patch struct {
	Delta DiffDelta
	Hunks []Hunk
}

// Diff wraps a libgit2 diff.
type Diff struct {
	diff *git2go.Diff
}

// NumDeltas returns the number of deltas in the diff.
func (d *Diff) NumDeltas() (int, error) {
	numDeltas, err := d.diff.NumDeltas()
	if err != nil {
		return 0, fmt.Errorf("get num deltas: %w", err)
	}

	return numDeltas, nil
}

// Delta returns the delta at the given index without generating hunks.
func (d *Diff) Delta(index int) (DiffDelta, error) {
	delta, err := d.diff.Delta(index)
	if err != nil {
		return DiffDelta{}, fmt.Errorf("get delta: %w", err)
	}

	return deltaFromNative(delta), nil
}

// Deltas returns every delta without generating hunks.
func (d *Diff) Deltas() ([]DiffDelta, error) {
	n, err := d.NumDeltas()
	if err != nil {
		return nil, err
	}

	deltas := make([]DiffDelta, 0, n)

	for i := range n {
		delta, err := d.Delta(i)
		if err != nil {
			return nil, err
		}

		deltas = append(deltas, delta)
	}

	return deltas, nil
}

// Patches generates hunks and lines for every delta.
func (d *Diff) Patches() ([]Patch, error) {
	collector := &patchCollector{}

	if err := d.diff.ForEach(collector.file, git2go.DiffDetailLines); err != nil {
		return nil, fmt.Errorf("diff foreach: %w", err)
	}

	return collector.patches(), nil
}

// Free releases the diff resources.
func (d *Diff) Free() {
	if d == nil || d.diff == nil {
		return
	}

	// Free errors are not actionable during cleanup.
	_ = d.diff.Free()
	d.diff = nil
}

// DiffBlobs diffs two blobs as if they were the files oldPath and newPath.
// Either blob may be nil.
func DiffBlobs(oldBlob *Blob, oldPath string, newBlob *Blob, newPath string, opts DiffOptions) (Patch, error) {
	native, err := opts.native()
	if err != nil {
		return Patch{}, err
	}

	collector := &patchCollector{}

	err = git2go.DiffBlobs(oldBlob.nativeOrNil(), oldPath, newBlob.nativeOrNil(), newPath,
		native, collector.file, git2go.DiffDetailLines)
	if err != nil {
		return Patch{}, fmt.Errorf("diff blobs: %w", err)
	}

	patches := collector.patches()
	if len(patches) == 0 {
		return Patch{Delta: DiffDelta{
			Status:  DeltaUnmodified,
			OldFile: DiffFile{Path: oldPath},
			NewFile: DiffFile{Path: newPath},
		}}, nil
	}

	return patches[0], nil
}

type patchCollector struct {
	list []*patchBuilder
}

type patchBuilder struct {
	delta DiffDelta
	hunks []*Hunk
}

func (c *patchCollector) file(delta git2go.DiffDelta, _ float64) (git2go.DiffForEachHunkCallback, error) {
	builder := &patchBuilder{delta: deltaFromNative(delta)}
	c.list = append(c.list, builder)

	return func(h git2go.DiffHunk) (git2go.DiffForEachLineCallback, error) {
		hunk := &Hunk{
			Header:   h.Header,
			OldStart: h.OldStart,
			OldLines: h.OldLines,
			NewStart: h.NewStart,
			NewLines: h.NewLines,
		}
		builder.hunks = append(builder.hunks, hunk)

		return func(l git2go.DiffLine) error {
			origin, ok := lineOrigin(l.Origin)
			if ok {
				hunk.Lines = append(hunk.Lines, Line{
					Origin:    origin,
					OldLineno: l.OldLineno,
					NewLineno: l.NewLineno,
					Content:   l.Content,
				})
			}

			return nil
		}, nil
	}, nil
}

func (c *patchCollector) patches() []Patch {
	out := make([]Patch, 0, len(c.list))

	for _, builder := range c.list {
		p := Patch{Delta: builder.delta, Hunks: make([]Hunk, 0, len(builder.hunks))}
		for _, h := range builder.hunks {
			p.Hunks = append(p.Hunks, *h)
		}

		out = append(out, p)
	}

	return out
}

func (o DiffOptions) native() (*git2go.DiffOptions, error) {
	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return nil, fmt.Errorf("get diff options: %w", err)
	}

	if o.IgnoreWhitespaceChange {
		opts.Flags |= git2go.DiffIgnoreWhitespaceChange
	}

	if o.IncludeUnmodified {
		opts.Flags |= git2go.DiffIncludeUnmodified
	}

	opts.ContextLines = o.ContextLines
	opts.InterhunkLines = o.InterhunkLines
	opts.Pathspec = o.Pathspec

	return &opts, nil
}

func deltaFromNative(delta git2go.DiffDelta) DiffDelta {
	return DiffDelta{
		Status:  statusFromNative(delta.Status),
		OldFile: DiffFile{Path: delta.OldFile.Path, Hash: HashFromOid(delta.OldFile.Oid), Size: int64(delta.OldFile.Size)},
		NewFile: DiffFile{Path: delta.NewFile.Path, Hash: HashFromOid(delta.NewFile.Oid), Size: int64(delta.NewFile.Size)},
		Binary:  delta.Flags&git2go.DiffFlagBinary != 0,
	}
}

func statusFromNative(status git2go.Delta) DeltaStatus {
	switch status {
	case git2go.DeltaUnmodified:
		return DeltaUnmodified
	case git2go.DeltaAdded:
		return DeltaAdded
	case git2go.DeltaDeleted:
		return DeltaDeleted
	case git2go.DeltaModified:
		return DeltaModified
	case git2go.DeltaRenamed:
		return DeltaRenamed
	case git2go.DeltaCopied:
		return DeltaCopied
	case git2go.DeltaTypeChange:
		return DeltaTypeChange
	default:
		return DeltaOther
	}
}

func lineOrigin(origin git2go.DiffLineType) (LineOrigin, bool) {
	switch origin {
	case git2go.DiffLineContext:
		return LineContext, true
	case git2go.DiffLineAddition:
		return LineAddition, true
	case git2go.DiffLineDeletion:
		return LineDeletion, true
	case git2go.DiffLineContextEOFNL:
		return LineContextEOFNL, true
	case git2go.DiffLineAddEOFNL:
		return LineAddEOFNL, true
	case git2go.DiffLineDelEOFNL:
		return LineDelEOFNL, true
	default:
		return 0, false
	}
}
