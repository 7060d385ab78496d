package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink appends events as JSON lines to a local file, syncing once per
// delivered batch.
type FileSink struct {
	name string
	path string

	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the JSONL file at path.
func NewFileSink(name, path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open event file %s: %w", path, err)
	}
	return &FileSink{name: name, path: path, file: f}, nil
}

func (s *FileSink) Name() string { return s.name }

// Deliver writes one line per event and syncs.
func (s *FileSink) Deliver(ctx context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range batch {
		line, err := json.Marshal(ev)
		if err != nil {
			return &PermanentError{Msg: err.Error()}
		}
		if _, err := s.file.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return s.file.Sync()
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
