package rules

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Store owns the active rule set. Reads are a single atomic pointer load;
// a reload builds the replacement set off to the side and swaps it in only
// after full validation, so the previous set survives any bad document.
type Store struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex // serializes reloads
	active atomic.Pointer[RuleSet]
}

// NewStore loads the rules document at path and returns a store holding it.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	set, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, logger: logger}
	s.active.Store(set)
	logger.Info("Rules loaded",
		zap.String("path", path),
		zap.Int("rules", set.Len()),
	)
	return s, nil
}

// Active returns the current immutable snapshot.
func (s *Store) Active() *RuleSet {
	return s.active.Load()
}

// Path returns the rules document path the store was opened with.
func (s *Store) Path() string { return s.path }

// Reload re-reads the rules document and swaps the active set. On error the
// previous set is retained and the error returned.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := Load(s.path)
	if err != nil {
		s.logger.Warn("Rule reload failed, keeping previous set",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return err
	}
	old := s.active.Swap(set)
	s.logger.Info("Rules reloaded",
		zap.String("path", s.path),
		zap.Int("rules", set.Len()),
		zap.Int("previous", old.Len()),
	)
	return nil
}

// Lint parses and validates a rules document without installing it.
func Lint(path string) (*RuleSet, error) {
	return Load(path)
}
