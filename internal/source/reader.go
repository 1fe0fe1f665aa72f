package source

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
)

const DefaultBufferSize = 1024 * 1024 // 1MB

// Record is one line of input. Offset is the byte offset of the first byte of
// the line within its file.
type Record struct {
	Offset int64
	Data   []byte
}

// Reader yields the lines owned by a split. A line belongs to the split that
// contains its first byte, so a line crossing a split boundary is read by the
// earlier split and skipped by the later one.
type Reader struct {
	file  *os.File
	buf   *bufio.Reader
	split Split

	pos    int64
	record Record
	err    error
	done   bool
}

func Open(split Split) (*Reader, error) {
	file, err := os.Open(split.Path)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		file:  file,
		split: split,
		pos:   split.Start,
	}

	if split.Start > 0 {
		// Back up one byte: if it is a newline the line at Start is ours.
		if _, err := file.Seek(split.Start-1, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
		r.buf = bufio.NewReaderSize(file, DefaultBufferSize)
		skipped, err := r.buf.ReadBytes('\n')
		r.pos = split.Start - 1 + int64(len(skipped))
		if err != nil && !errors.Is(err, io.EOF) {
			file.Close()
			return nil, err
		}
		if errors.Is(err, io.EOF) {
			r.done = true
		}
	} else {
		r.buf = bufio.NewReaderSize(file, DefaultBufferSize)
	}

	return r, nil
}

// Next advances to the next record and reports whether there is one.
func (r *Reader) Next() bool {
	if r.done || r.err != nil {
		return false
	}
	if r.pos >= r.split.End() {
		r.done = true
		return false
	}

	line, err := r.buf.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = err
		return false
	}
	if len(line) == 0 {
		r.done = true
		return false
	}
	if errors.Is(err, io.EOF) {
		r.done = true
	}

	offset := r.pos
	r.pos += int64(len(line))

	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	r.record = Record{Offset: offset, Data: line}
	return true
}

func (r *Reader) Record() Record {
	return r.record
}

func (r *Reader) Err() error {
	return r.err
}

// Pos is the file offset just past the last record returned.
func (r *Reader) Pos() int64 {
	return r.pos
}

func (r *Reader) Close() error {
	return r.file.Close()
}
