package supervisor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/state"
)

// EnvRegistryFile overrides the registry file location when set.
const EnvRegistryFile = "IXADO_AGENTS_FILE"

// registrySchema validates one registry row. Unlike the state document,
// decoding is tolerant: an unknown adapterId drops the field and keeps the
// record; any other violation drops the record.
const registrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "command", "args", "cwd", "status"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "command": {"type": "string", "minLength": 1},
    "args": {"type": "array", "items": {"type": "string"}},
    "cwd": {"type": "string"},
    "adapterId": {"type": "string"},
    "projectName": {"type": "string"},
    "phaseId": {"type": "string"},
    "taskId": {"type": "string"},
    "status": {"enum": ["RUNNING", "STOPPED", "FAILED"]},
    "pid": {"type": "integer", "minimum": 1},
    "startedAt": {"type": "string"},
    "lastExitCode": {"type": "integer"},
    "outputTail": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	recordCompileOnce sync.Once
	recordSchema      *jsonschema.Schema
	recordCompileErr  error
)

func rowSchema() (*jsonschema.Schema, error) {
	recordCompileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("agents.schema.json", bytes.NewReader([]byte(registrySchema))); err != nil {
			recordCompileErr = fmt.Errorf("failed to register agents schema: %w", err)
			return
		}
		recordSchema, recordCompileErr = c.Compile("agents.schema.json")
	})
	return recordSchema, recordCompileErr
}

// DefaultRegistryPath resolves the shared registry file: the environment
// override wins, then the project-scoped .ixado/agents.json, then the
// home-scoped fallback for callers outside any project root.
func DefaultRegistryPath(getenv func(string) string, rootDir string) string {
	if p := getenv(EnvRegistryFile); p != "" {
		return p
	}
	if rootDir != "" {
		return filepath.Join(rootDir, ".ixado", "agents.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ixado", "agents.json")
	}
	return filepath.Join(home, ".ixado", "agents.json")
}

// Registry is the file-backed table of spawned subprocess records, shared
// across controller processes. Every mutation re-reads, updates, and
// commits via temp-file + rename; foreign rows written by other
// controllers are preserved.
type Registry struct {
	path      string
	tailLimit int
	logger    *zap.Logger

	mu sync.Mutex
}

// NewRegistry creates a registry bound to the given file path.
func NewRegistry(path string, tailLimit int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tailLimit <= 0 {
		tailLimit = 200
	}
	return &Registry{path: path, tailLimit: tailLimit, logger: logger}
}

// Path returns the bound registry file path.
func (r *Registry) Path() string {
	return r.path
}

// TailLimit returns the per-record output tail bound.
func (r *Registry) TailLimit() int {
	return r.tailLimit
}

// List loads the registry tolerantly. A missing file is an empty registry;
// a corrupt file yields an empty list with a logged warning; rows that
// fail the schema are skipped; rows with an unknown adapterId keep the row
// and drop the field.
func (r *Registry) List() []*AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// Get returns the record with the given id.
func (r *Registry) Get(id string) (*AgentRecord, bool) {
	for _, rec := range r.List() {
		if rec.ID == id {
			return rec, true
		}
	}
	return nil, false
}

// Upsert inserts or replaces the record keyed by id.
func (r *Registry) Upsert(rec *AgentRecord) error {
	return r.update(func(rows []*AgentRecord) []*AgentRecord {
		for i, row := range rows {
			if row.ID == rec.ID {
				rows[i] = rec.Clone()
				return rows
			}
		}
		return append(rows, rec.Clone())
	})
}

// Mutate applies fn to the record with the given id and commits the
// result. fn runs under the registry lock.
func (r *Registry) Mutate(id string, fn func(*AgentRecord)) (*AgentRecord, error) {
	var out *AgentRecord
	err := r.update(func(rows []*AgentRecord) []*AgentRecord {
		for _, row := range rows {
			if row.ID == id {
				fn(row)
				out = row.Clone()
				break
			}
		}
		return rows
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return out, nil
}

// Remove deletes the record with the given id; unknown ids are a no-op.
func (r *Registry) Remove(id string) error {
	return r.update(func(rows []*AgentRecord) []*AgentRecord {
		out := rows[:0]
		for _, row := range rows {
			if row.ID != id {
				out = append(out, row)
			}
		}
		return out
	})
}

func (r *Registry) update(fn func([]*AgentRecord) []*AgentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := fn(r.loadLocked())
	return r.saveLocked(rows)
}

func (r *Registry) loadLocked() []*AgentRecord {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("failed to read agent registry", zap.String("path", r.path), zap.Error(err))
		}
		return nil
	}

	var rawRows []json.RawMessage
	if err := json.Unmarshal(raw, &rawRows); err != nil {
		r.logger.Warn("agent registry is corrupt, treating as empty",
			zap.String("path", r.path), zap.Error(err))
		return nil
	}

	sch, err := rowSchema()
	if err != nil {
		r.logger.Warn("agent registry schema unavailable", zap.Error(err))
		return nil
	}

	var rows []*AgentRecord
	for i, rawRow := range rawRows {
		var doc map[string]any
		if err := json.Unmarshal(rawRow, &doc); err != nil {
			r.logger.Warn("skipping unreadable registry row", zap.Int("index", i), zap.Error(err))
			continue
		}

		// Unknown adapter ids are dropped, the row kept.
		if id, ok := doc["adapterId"].(string); ok && !state.IsKnownAdapterID(id) {
			delete(doc, "adapterId")
		}

		if err := sch.Validate(doc); err != nil {
			r.logger.Warn("skipping invalid registry row", zap.Int("index", i), zap.Error(err))
			continue
		}

		normalized, err := json.Marshal(doc)
		if err != nil {
			continue
		}
		var rec AgentRecord
		if err := json.Unmarshal(normalized, &rec); err != nil {
			r.logger.Warn("skipping undecodable registry row", zap.Int("index", i), zap.Error(err))
			continue
		}
		rows = append(rows, &rec)
	}
	return rows
}

func (r *Registry) saveLocked(rows []*AgentRecord) error {
	if rows == nil {
		rows = []*AgentRecord{}
	}
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal agent registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit registry file: %w", err)
	}
	return nil
}
