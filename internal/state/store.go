package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Persistence failure kinds. Callers branch with errors.Is.
var (
	ErrFileNotFound    = errors.New("state file not found")
	ErrInvalidJSON     = errors.New("state file is not valid JSON")
	ErrSchemaViolation = errors.New("state document violates schema")
)

// EnvStateFile overrides the state file location when set.
const EnvStateFile = "IXADO_STATE_FILE"

// DefaultStatePath resolves the state file path for a project root,
// honoring the environment override.
func DefaultStatePath(getenv func(string) string, rootDir string) string {
	if p := getenv(EnvStateFile); p != "" {
		return p
	}
	return filepath.Join(rootDir, ".ixado", "state.json")
}

// Store reads and writes the project state document. Writes go through a
// temp file and an atomic rename; a crash between the two leaves the
// previous document intact. The store serializes its own writers; callers
// that need read-modify-write transactions go through the control façade.
type Store struct {
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	lastWrite time.Time
}

// NewStore creates a store bound to an explicit file path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the bound state file path.
func (s *Store) Path() string {
	return s.path
}

// Initialize writes an empty, schema-valid state for the project.
func (s *Store) Initialize(projectName, rootDir string) (*ProjectState, error) {
	now := time.Now().UTC()
	next := &ProjectState{
		ProjectName: projectName,
		RootDir:     rootDir,
		Phases:      []Phase{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.Write(next)
}

// Read loads and validates the current document.
func (s *Store) Read() (*ProjectState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, s.path)
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}

	var state ProjectState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &state, nil
}

// Write validates next, stamps a monotonic updatedAt, and commits it via
// temp-file + rename. The previous document survives any failure before
// the rename.
func (s *Store) Write(next *ProjectState) (*ProjectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.lastWrite) {
		now = s.lastWrite.Add(time.Millisecond)
	}
	if !now.After(next.UpdatedAt) {
		now = next.UpdatedAt.Add(time.Millisecond)
	}
	next.UpdatedAt = now
	s.lastWrite = now

	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		// Leave no temp residue behind a failed commit.
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to commit state file: %w", err)
	}

	s.logger.Debug("state written",
		zap.String("path", s.path),
		zap.Int("phases", len(next.Phases)))
	return next, nil
}
