package codec

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/klauspost/compress/zip"
)

// WritePackage writes a zip package holding files (slash separated name to
// content). Names ending in "/" become directory entries. Used by tests to
// produce uploads.
func WritePackage(target string, files map[string]string) (err error) {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create package: %w", err)
	}

	defer func() { err = errors.Join(err, out.Close()) }()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	writer := zip.NewWriter(out)

	for _, name := range names {
		w, createErr := writer.Create(name)
		if createErr != nil {
			return fmt.Errorf("add %s: %w", name, createErr)
		}

		if _, writeErr := w.Write([]byte(files[name])); writeErr != nil {
			return fmt.Errorf("write %s: %w", name, writeErr)
		}
	}

	return writer.Close()
}
