package shuffle

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/nemanja-m/logmr/pkg/core"
)

// recordOverhead approximates the per-record bookkeeping cost in memory.
const recordOverhead = 48

// SpillStats counts the work done by a Spiller.
type SpillStats struct {
	Emitted        int64
	Spills         int
	RunRecords     int64
	RunBytes       int64
	CombineInputs  int64
	CombineOutputs int64
}

// Spiller collects map output, partitions it and writes sorted runs to disk
// whenever the buffered size crosses the threshold.
type Spiller struct {
	dir        string
	partitions [][]core.KeyValue
	partition  core.PartitionFunc
	combine    core.ReduceFunc
	threshold  int
	progress   *atomic.Int64

	buffered int
	runs     [][]string
	stats    SpillStats
}

type SpillerConfig struct {
	// Dir receives spill-NNN/part-NNNNN.run files.
	Dir           string
	NumPartitions int
	Threshold     int
	Partition     core.PartitionFunc
	Combine       core.ReduceFunc

	// Progress, if set, is incremented for every record written to a run.
	Progress *atomic.Int64
}

func NewSpiller(cfg SpillerConfig) *Spiller {
	partition := cfg.Partition
	if partition == nil {
		partition = core.Partition
	}
	return &Spiller{
		dir:        cfg.Dir,
		partitions: make([][]core.KeyValue, cfg.NumPartitions),
		partition:  partition,
		combine:    cfg.Combine,
		threshold:  cfg.Threshold,
		progress:   cfg.Progress,
		runs:       make([][]string, cfg.NumPartitions),
	}
}

// Emit buffers one map output record. The value is copied.
func (s *Spiller) Emit(key string, value []byte) error {
	p := s.partition(key, len(s.partitions))
	if p < 0 || p >= len(s.partitions) {
		return fmt.Errorf("partitioner returned %d for key %q, want [0, %d)", p, key, len(s.partitions))
	}

	s.partitions[p] = append(s.partitions[p], core.KeyValue{Key: key, Value: slices.Clone(value)})
	s.buffered += len(key) + len(value) + recordOverhead
	s.stats.Emitted++

	if s.buffered >= s.threshold {
		return s.Spill()
	}
	return nil
}

// Spill sorts and writes every non-empty partition buffer as a new run.
func (s *Spiller) Spill() error {
	if s.buffered == 0 {
		return nil
	}

	spillDir := filepath.Join(s.dir, fmt.Sprintf("spill-%03d", s.stats.Spills))
	for p, records := range s.partitions {
		if len(records) == 0 {
			continue
		}

		slices.SortStableFunc(records, func(left, right core.KeyValue) int {
			return cmp.Compare(left.Key, right.Key)
		})

		path := filepath.Join(spillDir, fmt.Sprintf("part-%05d.run", p))
		if err := s.writeRun(path, records); err != nil {
			return err
		}
		s.runs[p] = append(s.runs[p], path)
		clear(records)
		s.partitions[p] = records[:0]
	}

	s.buffered = 0
	s.stats.Spills++
	return nil
}

func (s *Spiller) writeRun(path string, records []core.KeyValue) error {
	w, err := CreateRun(path)
	if err != nil {
		return err
	}

	if s.combine == nil {
		for _, kv := range records {
			if err := w.Write(kv.Key, kv.Value); err != nil {
				w.Close()
				return err
			}
			tick(s.progress)
		}
	} else if err := s.combineInto(w, records); err != nil {
		w.Close()
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}
	s.stats.RunRecords += w.Records()
	s.stats.RunBytes += w.Bytes()
	return nil
}

// combineInto runs the combiner over each key group of sorted records. The
// combiner may emit any key, so its output is re-sorted before being written.
func (s *Spiller) combineInto(w *RunWriter, records []core.KeyValue) error {
	var out []core.KeyValue
	collect := func(key string, value []byte) error {
		out = append(out, core.KeyValue{Key: key, Value: slices.Clone(value)})
		return nil
	}

	for i := 0; i < len(records); {
		key := records[i].Key
		var values [][]byte
		for i < len(records) && records[i].Key == key {
			values = append(values, records[i].Value)
			i++
		}
		s.stats.CombineInputs += int64(len(values))
		if err := s.combine(key, core.SliceValues(values), collect); err != nil {
			return fmt.Errorf("combine %q: %w", key, err)
		}
	}

	slices.SortStableFunc(out, func(left, right core.KeyValue) int {
		return cmp.Compare(left.Key, right.Key)
	})
	for _, kv := range out {
		if err := w.Write(kv.Key, kv.Value); err != nil {
			return err
		}
		tick(s.progress)
	}
	s.stats.CombineOutputs += int64(len(out))
	return nil
}

// Close writes any buffered records and returns the run files per partition.
func (s *Spiller) Close() ([][]string, error) {
	if err := s.Spill(); err != nil {
		return nil, err
	}
	return s.runs, nil
}

func (s *Spiller) Stats() SpillStats {
	return s.stats
}

func tick(progress *atomic.Int64) {
	if progress != nil {
		progress.Add(1)
	}
}
