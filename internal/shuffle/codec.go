package shuffle

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"
)

// Run files hold key-sorted records. Each record is a uvarint length followed
// by a protobuf wire-format message with the key in field 1 and the value in
// field 2.
const (
	keyField   protowire.Number = 1
	valueField protowire.Number = 2

	maxRecordSize = 1 << 30
)

// Stream is a forward-only sequence of key-value records.
type Stream interface {
	Next() bool
	Key() string
	Value() []byte
	Err() error
}

type RunWriter struct {
	file *os.File
	buf  *bufio.Writer
	rec  []byte

	records int64
	bytes   int64
}

func CreateRun(path string) (*RunWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &RunWriter{file: file, buf: bufio.NewWriter(file)}, nil
}

func (w *RunWriter) Write(key string, value []byte) error {
	w.rec = w.rec[:0]
	w.rec = protowire.AppendTag(w.rec, keyField, protowire.BytesType)
	w.rec = protowire.AppendString(w.rec, key)
	w.rec = protowire.AppendTag(w.rec, valueField, protowire.BytesType)
	w.rec = protowire.AppendBytes(w.rec, value)

	var frame [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(frame[:], uint64(len(w.rec)))
	if _, err := w.buf.Write(frame[:n]); err != nil {
		return err
	}
	if _, err := w.buf.Write(w.rec); err != nil {
		return err
	}
	w.records++
	w.bytes += int64(n + len(w.rec))
	return nil
}

func (w *RunWriter) Records() int64 {
	return w.records
}

// Bytes is the encoded size written so far.
func (w *RunWriter) Bytes() int64 {
	return w.bytes
}

// Close flushes buffered records and syncs the file.
func (w *RunWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type RunReader struct {
	path string
	file *os.File
	buf  *bufio.Reader

	key   string
	value []byte
	err   error
}

func OpenRun(path string) (*RunReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &RunReader{path: path, file: file, buf: bufio.NewReader(file)}, nil
}

func (r *RunReader) Next() bool {
	if r.err != nil {
		return false
	}

	size, err := binary.ReadUvarint(r.buf)
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		r.err = fmt.Errorf("run %s: %w", r.path, err)
		return false
	}
	if size > maxRecordSize {
		r.err = fmt.Errorf("run %s: record of %d bytes exceeds limit", r.path, size)
		return false
	}

	rec := make([]byte, size)
	if _, err := io.ReadFull(r.buf, rec); err != nil {
		r.err = fmt.Errorf("run %s: truncated record: %w", r.path, err)
		return false
	}

	key, value, err := decodeRecord(rec)
	if err != nil {
		r.err = fmt.Errorf("run %s: %w", r.path, err)
		return false
	}
	r.key, r.value = key, value
	return true
}

func (r *RunReader) Key() string {
	return r.key
}

func (r *RunReader) Value() []byte {
	return r.value
}

func (r *RunReader) Err() error {
	return r.err
}

func (r *RunReader) Close() error {
	return r.file.Close()
}

func decodeRecord(rec []byte) (string, []byte, error) {
	var (
		key     string
		value   []byte
		seenKey bool
		seenVal bool
	)
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		rec = rec[n:]

		switch {
		case num == keyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			key, seenKey = string(v), true
			rec = rec[n:]
		case num == valueField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			value, seenVal = v, true
			rec = rec[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			rec = rec[n:]
		}
	}
	if !seenKey || !seenVal {
		return "", nil, errors.New("record is missing key or value")
	}
	return key, value, nil
}
