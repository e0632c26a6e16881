package diffengine

import (
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
	"github.com/Sumatoshi-tech/addongit/pkg/mimetype"
)

// Line change types.
const (
	TypeNormal      = "normal"
	TypeInsert      = "insert"
	TypeDelete      = "delete"
	TypeNormalEOFNL = "normal-eofnl"
	TypeInsertEOFNL = "insert-eofnl"
	TypeDeleteEOFNL = "delete-eofnl"
)

// Entry modes.
const (
	ModeAdded      = "A"
	ModeDeleted    = "D"
	ModeModified   = "M"
	ModeRenamed    = "R"
	ModeUnmodified = "U"
)

// Change is one rendered line of a hunk. Line numbers are -1 on the side
// where the line does not exist.
type Change struct {
	Content       string `json:"content"`
	Type          string `json:"type"`
	OldLineNumber int    `json:"old_line_number"`
	NewLineNumber int    `json:"new_line_number"`
}

// Hunk is a contiguous block of changes.
type Hunk struct {
	Header   string   `json:"header"`
	OldStart int      `json:"old_start"`
	NewStart int      `json:"new_start"`
	OldLines int      `json:"old_lines"`
	NewLines int      `json:"new_lines"`
	Changes  []Change `json:"changes"`
}

// DiffEntry is the rendered change of one file.
type DiffEntry struct {
	Path             string            `json:"path"`
	OldPath          string            `json:"old_path"`
	Size             int64             `json:"size"`
	LinesAdded       int               `json:"lines_added"`
	LinesDeleted     int               `json:"lines_deleted"`
	IsBinary         bool              `json:"is_binary"`
	Mode             string            `json:"mode"`
	Hunks            []Hunk            `json:"hunks"`
	OldEndingNewline bool              `json:"old_ending_newline"`
	NewEndingNewline bool              `json:"new_ending_newline"`
	MimeType         string            `json:"mimetype"`
	Category         mimetype.Category `json:"category"`
}

// DeltaEntry is the path level change of one file, without line data.
type DeltaEntry struct {
	Path     string            `json:"path"`
	OldPath  string            `json:"old_path"`
	Size     int64             `json:"size"`
	IsBinary bool              `json:"is_binary"`
	Mode     string            `json:"mode"`
	MimeType string            `json:"mimetype"`
	Category mimetype.Category `json:"category"`
}

// FileEntry is one entry of a committed tree.
type FileEntry struct {
	Path     string            `json:"path"`
	Depth    int               `json:"depth"`
	Hash     string            `json:"sha"`
	Size     int64             `json:"size"`
	MimeType string            `json:"mimetype"`
	Category mimetype.Category `json:"category"`
}

// File is a blob read by path.
type File struct {
	Path     string            `json:"path"`
	Hash     string            `json:"sha"`
	Size     int64             `json:"size"`
	MimeType string            `json:"mimetype"`
	Category mimetype.Category `json:"category"`
	Content  []byte            `json:"-"`
}

func modeOf(status gitlib.DeltaStatus) string {
	switch status {
	case gitlib.DeltaAdded:
		return ModeAdded
	case gitlib.DeltaDeleted:
		return ModeDeleted
	case gitlib.DeltaRenamed:
		return ModeRenamed
	case gitlib.DeltaUnmodified:
		return ModeUnmodified
	default:
		return ModeModified
	}
}

func changeType(origin gitlib.LineOrigin) string {
	switch origin {
	case gitlib.LineAddition:
		return TypeInsert
	case gitlib.LineDeletion:
		return TypeDelete
	case gitlib.LineContextEOFNL:
		return TypeNormalEOFNL
	case gitlib.LineAddEOFNL:
		return TypeInsertEOFNL
	case gitlib.LineDelEOFNL:
		return TypeDeleteEOFNL
	default:
		return TypeNormal
	}
}
