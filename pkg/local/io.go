package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nemanja-m/logmr/internal/sink"
	"github.com/nemanja-m/logmr/internal/source"
	"github.com/nemanja-m/logmr/pkg/core"
)

// CheckOutput refuses an output location that already holds anything. A
// missing directory or an empty one is accepted.
func CheckOutput(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &core.ConfigError{Field: "output", Reason: err.Error()}
	}
	if !info.IsDir() {
		return &core.ConfigError{Field: "output", Reason: dir + " exists and is not a directory"}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return &core.ConfigError{Field: "output", Reason: err.Error()}
	}
	if len(entries) > 0 {
		return &core.ConfigError{Field: "output", Reason: dir + " already exists and is not empty"}
	}
	return nil
}

// ClearOutput deletes the output location so that a job can be rerun into
// it. The inputs are resolved first: nothing is deleted when they match no
// files, or when the output is or contains one of them. It also refuses to
// delete the working directory or a filesystem root.
func ClearOutput(dir string, inputs []string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if wd, err := os.Getwd(); err == nil && wd == abs {
		return &core.ConfigError{Field: "output", Reason: "refusing to clear the working directory"}
	}
	if filepath.Dir(abs) == abs {
		return &core.ConfigError{Field: "output", Reason: "refusing to clear a filesystem root"}
	}

	files, err := resolveInputs(inputs)
	if err != nil {
		return err
	}
	for _, file := range files {
		file, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		if within(abs, file) {
			return &core.ConfigError{Field: "output", Reason: fmt.Sprintf("refusing to clear %s: it holds input %s", dir, file)}
		}
	}
	return os.RemoveAll(abs)
}

// resolveInputs expands input locations and requires at least one match.
func resolveInputs(inputs []string) ([]string, error) {
	files, err := source.FindFiles(inputs)
	if err != nil {
		return nil, &core.ConfigError{Field: "input", Reason: err.Error()}
	}
	if len(files) == 0 {
		return nil, &core.ConfigError{Field: "input", Reason: fmt.Sprintf("no input files match %v", inputs)}
	}
	return files, nil
}

// within reports whether path is dir or lies beneath it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ListParts returns the committed part files of an output directory in
// group order.
func ListParts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasPrefix(entry.Name(), sink.PartPrefix) {
			parts = append(parts, filepath.Join(dir, entry.Name()))
		}
	}
	slices.Sort(parts)
	return parts, nil
}
