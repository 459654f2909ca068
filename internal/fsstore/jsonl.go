package fsstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLWriter appends one JSON document per line to a journal file. Writes
// are flushed to the OS on every append so a crash loses at most the line
// being written.
type JSONLWriter struct {
	path string
	opts FileOptions

	mu     sync.Mutex
	file   *os.File
	closed bool
}

func NewJSONLWriter(path string, opts FileOptions) (*JSONLWriter, error) {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	opts = normalizeFileOptions(opts)
	if err := EnsureDir(filepath.Dir(normalizedPath), opts.DirPerm); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(normalizedPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, opts.FilePerm)
	if err != nil {
		return nil, fmt.Errorf("open jsonl %s: %w", normalizedPath, err)
	}
	return &JSONLWriter{path: normalizedPath, opts: opts, file: file}, nil
}

func (w *JSONLWriter) Append(v any) error {
	if w == nil {
		return fmt.Errorf("jsonl writer is nil")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode jsonl %s: %v", ErrEncodeFailed, w.path, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("jsonl writer %s is closed", w.path)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("append jsonl %s: %w", w.path, err)
	}
	return nil
}

func (w *JSONLWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
