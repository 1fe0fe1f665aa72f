package source

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FindFiles expands input locations into a sorted, de-duplicated list of
// regular files. A location is either a doublestar glob or a directory, in
// which case every regular file beneath it is used. Files whose base name
// starts with "_" or "." are skipped, so a previous job's output directory
// can be used as input.
func FindFiles(locations []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	add := func(name string) {
		if hidden(name) {
			return
		}
		info, err := os.Lstat(name)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		files = append(files, name)
	}

	for _, location := range locations {
		if info, err := os.Stat(location); err == nil && info.IsDir() {
			err := filepath.WalkDir(location, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() && path != location && hidden(path) {
					return filepath.SkipDir
				}
				if !d.IsDir() {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(location)
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			add(name)
		}
	}

	slices.Sort(files)
	return files, nil
}

func hidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".")
}
