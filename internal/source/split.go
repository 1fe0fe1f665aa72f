package source

import (
	"fmt"
	"os"
)

// Split is a byte range of one input file processed by a single map task.
type Split struct {
	Path   string
	Start  int64
	Length int64
}

func (s Split) End() int64 {
	return s.Start + s.Length
}

func (s Split) String() string {
	return fmt.Sprintf("%s:%d+%d", s.Path, s.Start, s.Length)
}

// ComputeSplits cuts every file into ranges of at most splitSize bytes. An
// empty file still yields one empty split so that every input is accounted
// for by a task. The final split of a file absorbs a tail smaller than 10% of
// splitSize instead of producing a tiny task.
func ComputeSplits(files []string, splitSize int64) ([]Split, error) {
	if splitSize <= 0 {
		return nil, fmt.Errorf("split size must be positive, got %d", splitSize)
	}

	var splits []Split
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			return nil, err
		}

		size := info.Size()
		if size == 0 {
			splits = append(splits, Split{Path: file})
			continue
		}

		slop := splitSize / 10
		var start int64
		for size-start > splitSize+slop {
			splits = append(splits, Split{Path: file, Start: start, Length: splitSize})
			start += splitSize
		}
		splits = append(splits, Split{Path: file, Start: start, Length: size - start})
	}
	return splits, nil
}
