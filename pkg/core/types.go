package core

// KeyValue is a single emission from a map, combine or reduce call.
type KeyValue struct {
	Key   string
	Value []byte
}

// Emit hands one key/value pair to the next stage. A non-nil error must be
// returned to the engine unchanged.
type Emit func(key string, value []byte) error

// MapFunc is called once per input record. offset is the byte offset of the
// record within its input file.
type MapFunc func(offset int64, record []byte, emit Emit) error

// ReduceFunc is called exactly once per distinct key with every value emitted
// for it. values is single-pass; reducers needing several passes must copy it.
type ReduceFunc func(key string, values ValueIterator, emit Emit) error

// PartitionFunc assigns a key to a reduce group in [0, numPartitions).
type PartitionFunc func(key string, numPartitions int) int

// ValueIterator is a lazy, non-restartable sequence of values for one key.
//
//	for values.Next() {
//		v := values.Value()
//		...
//	}
//	if err := values.Err(); err != nil {
//		return err
//	}
type ValueIterator interface {
	Next() bool
	// Value is only valid until the next call to Next.
	Value() []byte
	Err() error
}

// SliceValues adapts an in-memory slice to a ValueIterator.
func SliceValues(values [][]byte) ValueIterator {
	return &sliceIterator{values: values, pos: -1}
}

type sliceIterator struct {
	values [][]byte
	pos    int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.values) {
		it.pos = len(it.values)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.values) {
		return nil
	}
	return it.values[it.pos]
}

func (it *sliceIterator) Err() error {
	return nil
}
