package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink is an append-only CSV file with a fixed header. Batches are written
// under a file-level mutex so rows from different workers never interleave.
type Sink struct {
	path  string
	width int

	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	rows int
}

// CreateSink creates (or truncates) the file at path and writes header.
func CreateSink(path string, header []string) (*Sink, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("dataset header is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating dataset dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating dataset: %w", err)
	}
	s := &Sink{path: path, width: len(header), f: f, w: csv.NewWriter(f)}
	if err := s.w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}
	return s, nil
}

func (s *Sink) Path() string { return s.path }

// Width is the number of columns every row must have.
func (s *Sink) Width() int { return s.width }

// Rows returns the number of data rows written so far.
func (s *Sink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Append writes rows as one batch. A batch is either fully handed to the OS
// or reported as failed.
func (s *Sink) Append(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if len(r) != s.width {
			return fmt.Errorf("row has %d fields, want %d", len(r), s.width)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("dataset %s is closed", s.path)
	}
	for _, r := range rows {
		if err := s.w.Write(r); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flushing rows: %w", err)
	}
	s.rows += len(rows)
	return nil
}

// Close syncs and closes the file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	werr := s.w.Error()
	serr := s.f.Sync()
	cerr := s.f.Close()
	s.f = nil
	switch {
	case werr != nil:
		return fmt.Errorf("flushing dataset: %w", werr)
	case serr != nil:
		return fmt.Errorf("syncing dataset: %w", serr)
	case cerr != nil:
		return fmt.Errorf("closing dataset: %w", cerr)
	}
	return nil
}
