package shuffle

import (
	"container/heap"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
)

// Merger merges key-sorted runs into one key-sorted stream. Records with
// equal keys come out in run order, and in file order within a run.
type Merger struct {
	readers []*RunReader
	heap    mergeHeap
	started bool

	key   string
	value []byte
	err   error
}

// NewMerger opens every run. The caller must Close the merger.
func NewMerger(paths []string) (*Merger, error) {
	m := &Merger{readers: make([]*RunReader, 0, len(paths))}
	for _, path := range paths {
		r, err := OpenRun(path)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.readers = append(m.readers, r)
	}
	return m, nil
}

func (m *Merger) init() {
	m.started = true
	for i, r := range m.readers {
		if r.Next() {
			m.heap = append(m.heap, &cursor{reader: r, order: i})
		} else if err := r.Err(); err != nil {
			m.err = err
			return
		}
	}
	heap.Init(&m.heap)
}

func (m *Merger) Next() bool {
	if !m.started {
		m.init()
	}
	if m.err != nil || len(m.heap) == 0 {
		return false
	}

	top := m.heap[0]
	m.key = top.reader.Key()
	m.value = top.reader.Value()

	// The value slice is owned by the reader's current record, which is
	// replaced on the next read, so hold on to it before advancing.
	if top.reader.Next() {
		heap.Fix(&m.heap, 0)
	} else {
		if err := top.reader.Err(); err != nil {
			m.err = err
			return false
		}
		heap.Pop(&m.heap)
	}
	return true
}

func (m *Merger) Key() string {
	return m.key
}

func (m *Merger) Value() []byte {
	return m.value
}

func (m *Merger) Err() error {
	return m.err
}

func (m *Merger) Close() error {
	var errs []error
	for _, r := range m.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

// MergeRuns reduces paths to at most factor runs by merging the oldest runs
// into new files under scratchDir. Run order is preserved: a merged run takes
// the place of the runs it replaced. progress, if not nil, is incremented for
// every record written by an intermediate pass.
func MergeRuns(paths []string, factor int, scratchDir string, progress *atomic.Int64) ([]string, error) {
	if factor < 2 {
		return nil, fmt.Errorf("merge factor must be at least 2, got %d", factor)
	}

	pass := 0
	for len(paths) > factor {
		out := filepath.Join(scratchDir, fmt.Sprintf("merge-%04d.run", pass))
		if err := mergeInto(out, paths[:factor], progress); err != nil {
			return nil, err
		}
		paths = append([]string{out}, paths[factor:]...)
		pass++
	}
	return paths, nil
}

func mergeInto(out string, paths []string, progress *atomic.Int64) error {
	m, err := NewMerger(paths)
	if err != nil {
		return err
	}
	defer m.Close()

	w, err := CreateRun(out)
	if err != nil {
		return err
	}
	for m.Next() {
		if err := w.Write(m.Key(), m.Value()); err != nil {
			w.Close()
			return err
		}
		tick(progress)
	}
	if err := m.Err(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

type cursor struct {
	reader *RunReader
	order  int
}

type mergeHeap []*cursor

func (h mergeHeap) Len() int {
	return len(h)
}

func (h mergeHeap) Less(i, j int) bool {
	ki, kj := h[i].reader.Key(), h[j].reader.Key()
	if ki != kj {
		return ki < kj
	}
	return h[i].order < h[j].order
}

func (h mergeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *mergeHeap) Push(x any) {
	*h = append(*h, x.(*cursor))
}

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}
