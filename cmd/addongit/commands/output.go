package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/addongit/internal/diffengine"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ErrUnknownFormat is returned for unsupported --output values.
var ErrUnknownFormat = errors.New("unknown output format")

var (
	addedColor   = color.New(color.FgGreen)
	deletedColor = color.New(color.FgRed)
	hunkColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.Bold)
)

// printer writes command results in the selected format.
type printer struct {
	out    io.Writer
	format string
}

func newPrinter(out io.Writer, format string) *printer {
	return &printer{out: out, format: format}
}

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// value writes v as JSON or YAML. YAML keys follow the JSON field names.
func (p *printer) value(v any) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case formatYAML:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}

		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}

		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)

		if err := enc.Encode(generic); err != nil {
			return err
		}

		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, p.format)
	}
}

// table writes rows under header, or the structured value for non-table
// formats.
func (p *printer) table(v any, header table.Row, rows []table.Row) error {
	if p.format != formatTable {
		return p.value(v)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(p.out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()

	return nil
}

func size(n int64) string {
	if n < 0 {
		return "-"
	}

	return humanize.Bytes(uint64(n))
}

// diff writes entries as a colored unified diff.
func (p *printer) diff(entries []diffengine.DiffEntry) error {
	if p.format != formatTable {
		return p.value(entries)
	}

	var b strings.Builder

	for _, entry := range entries {
		oldPath, newPath := entry.OldPath, entry.Path
		if oldPath == "" {
			oldPath = newPath
		}

		headerColor.Fprintf(&b, "%s %s", entry.Mode, newPath)

		if entry.Mode == diffengine.ModeRenamed {
			headerColor.Fprintf(&b, " (from %s)", oldPath)
		}

		fmt.Fprintf(&b, "  %s  +%d -%d\n", size(entry.Size), entry.LinesAdded, entry.LinesDeleted)

		if entry.IsBinary {
			fmt.Fprintf(&b, "Binary file (%s)\n\n", entry.MimeType)

			continue
		}

		for _, hunk := range entry.Hunks {
			hunkColor.Fprintln(&b, strings.TrimRight(hunk.Header, "\n"))

			for _, change := range hunk.Changes {
				writeChange(&b, change)
			}
		}

		b.WriteString("\n")
	}

	_, err := io.WriteString(p.out, b.String())

	return err
}

// writeChange prints one line. End-of-file markers carry their own text.
func writeChange(b *strings.Builder, change diffengine.Change) {
	switch change.Type {
	case diffengine.TypeInsert:
		addedColor.Fprintln(b, "+"+change.Content)
	case diffengine.TypeDelete:
		deletedColor.Fprintln(b, "-"+change.Content)
	case diffengine.TypeInsertEOFNL, diffengine.TypeDeleteEOFNL, diffengine.TypeNormalEOFNL:
		fmt.Fprintln(b, change.Content)
	default:
		fmt.Fprintln(b, " "+change.Content)
	}
}
