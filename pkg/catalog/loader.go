package catalog

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const loaderLogPrefix = "catalog:loader"

// SourceFile is one raw catalog file as read from disk or received over the
// publication protocol.
type SourceFile struct {
	Name string
	Data []byte
}

// FileError is a validation failure attributed to one catalog file.
type FileError struct {
	Name string
	Err  error
}

func (e FileError) Error() string {
	return e.Name + ": " + e.Err.Error()
}

// LoadDirectory reads all catalog definition files under dir, sorted by name.
// Index files, files whose base name starts with "_" and anything under a
// templates/ directory are skipped.
func LoadDirectory(dir string) ([]SourceFile, error) {
	var files []SourceFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "templates" {
				return filepath.SkipDir
			}
			return nil
		}
		base := d.Name()
		if filepath.Ext(base) != ".json" || base == "index.json" || strings.HasPrefix(base, "_") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s - failed to read %s: %w", loaderLogPrefix, path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		files = append(files, SourceFile{Name: filepath.ToSlash(rel), Data: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read catalog dir %s: %w", loaderLogPrefix, dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	slog.Info(fmt.Sprintf("%s - Loaded %d catalog files from %s", loaderLogPrefix, len(files), dir))
	return files, nil
}

// ValidateAll parses every file and aggregates all failures instead of
// stopping at the first one, for interactive validation tooling.
func ValidateAll(files []SourceFile) ([]*Definition, []FileError) {
	defs := make([]*Definition, 0, len(files))
	var errs []FileError
	for _, f := range files {
		def, err := ParseDefinition(f.Data)
		if err != nil {
			errs = append(errs, FileError{Name: f.Name, Err: err})
			continue
		}
		defs = append(defs, def)
	}
	return defs, errs
}
