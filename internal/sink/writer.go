package sink

import (
	"bufio"
	"os"
	"path/filepath"
)

// PartWriter writes reduce output as key<TAB>value lines.
type PartWriter struct {
	path string
	file *os.File
	buf  *bufio.Writer

	records int64
}

func CreatePart(path string) (*PartWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &PartWriter{path: path, file: file, buf: bufio.NewWriter(file)}, nil
}

func (w *PartWriter) Write(key string, value []byte) error {
	if _, err := w.buf.WriteString(key); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\t'); err != nil {
		return err
	}
	if _, err := w.buf.Write(value); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	w.records++
	return nil
}

func (w *PartWriter) Path() string {
	return w.path
}

func (w *PartWriter) Records() int64 {
	return w.records
}

func (w *PartWriter) Close() error {
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

// Abort closes the writer and removes the partial file.
func (w *PartWriter) Abort() error {
	w.file.Close()
	return os.Remove(w.path)
}
