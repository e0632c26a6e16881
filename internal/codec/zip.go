// Package codec unpacks uploaded add-on packages into a directory.
package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Sentinel errors.
var (
	ErrUnsafePath    = errors.New("codec: archive entry escapes the destination")
	ErrCorrupt       = errors.New("codec: corrupt archive")
	ErrEntryTooLarge = errors.New("codec: archive entry too large")
)

// Extractor unpacks the package at source into the existing directory dest.
type Extractor interface {
	Extract(ctx context.Context, source, dest string) error
}

// ZipExtractor unpacks zip based packages such as XPI files.
type ZipExtractor struct {
	// MaxEntrySize bounds the uncompressed size of a single entry; zero means unlimited.
	MaxEntrySize int64
	// Fsync flushes every written file to disk before returning.
	Fsync  bool
	Logger *slog.Logger
}

// Extract implements Extractor.
func (z ZipExtractor) Extract(ctx context.Context, source, dest string) error {
	// A reader returned together with an error only flags insecure entry
	// names, which safeJoin rejects per entry.
	reader, err := zip.OpenReader(source)
	if reader == nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("open package %s: %w", source, err)
		}

		return fmt.Errorf("%w: %s: %w", ErrCorrupt, source, err)
	}
	defer reader.Close()

	logger := z.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return err
		}

		mode := entry.Mode()

		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", entry.Name, err)
			}
		case mode&fs.ModeSymlink != 0:
			logger.DebugContext(ctx, "skipping symlink entry", "name", entry.Name)
		default:
			if err := z.writeEntry(entry, target); err != nil {
				return err
			}
		}
	}

	return nil
}

func (z ZipExtractor) writeEntry(entry *zip.File, target string) error {
	if z.MaxEntrySize > 0 && entry.UncompressedSize64 > uint64(z.MaxEntrySize) {
		return fmt.Errorf("%w: %s", ErrEntryTooLarge, entry.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", entry.Name, err)
	}

	var body io.Reader = src
	if z.MaxEntrySize > 0 {
		body = io.LimitReader(src, z.MaxEntrySize+1)
	}

	written, copyErr := io.Copy(dst, body)

	if copyErr == nil && z.MaxEntrySize > 0 && written > z.MaxEntrySize {
		copyErr = fmt.Errorf("%w: %s", ErrEntryTooLarge, entry.Name)
	}

	if copyErr == nil && z.Fsync {
		copyErr = dst.Sync()
	}

	if err := errors.Join(copyErr, dst.Close()); err != nil {
		return fmt.Errorf("write %s: %w", entry.Name, err)
	}

	return nil
}

// safeJoin resolves an archive entry name below dest, rejecting absolute
// names and names that climb out with "..".
func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")

	if name == "" || path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	return filepath.Join(dest, filepath.FromSlash(clean)), nil
}
