package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// projectSchema validates the persisted state document. Records are strict:
// unknown keys are rejected so a newer writer cannot silently poison an
// older reader. Versioning is by additivity only.
const projectSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["projectName", "rootDir", "phases", "createdAt", "updatedAt"],
  "additionalProperties": false,
  "properties": {
    "projectName": {"type": "string", "minLength": 1},
    "rootDir": {"type": "string", "minLength": 1},
    "activePhaseId": {"type": "string"},
    "phases": {"type": "array", "items": {"$ref": "#/$defs/phase"}},
    "createdAt": {"type": "string", "format": "date-time"},
    "updatedAt": {"type": "string", "format": "date-time"}
  },
  "$defs": {
    "phase": {
      "type": "object",
      "required": ["id", "name", "branchName", "status", "tasks"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string", "minLength": 1},
        "branchName": {"type": "string", "minLength": 1},
        "status": {"enum": ["PLANNING", "BRANCHING", "CODING", "CREATING_PR", "AWAITING_CI", "CI_FAILED", "READY_FOR_REVIEW", "DONE"]},
        "tasks": {"type": "array", "items": {"$ref": "#/$defs/task"}},
        "prUrl": {"type": "string"},
        "ciStatusContext": {"$ref": "#/$defs/ciStatusContext"},
        "failureKind": {"enum": ["LOCAL_TESTER", "REMOTE_CI", "AGENT_FAILURE"]},
        "ciFixDepth": {"type": "integer", "minimum": 0},
        "recoveryAttempts": {"type": "array", "items": {"$ref": "#/$defs/recoveryAttempt"}}
      }
    },
    "task": {
      "type": "object",
      "required": ["id", "title", "description", "status", "assignee"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "title": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "status": {"enum": ["TODO", "IN_PROGRESS", "DONE", "FAILED", "CI_FIX"]},
        "assignee": {"enum": ["CODEX_CLI", "CLAUDE_CLI", "GEMINI_CLI", "MOCK_CLI", "UNASSIGNED"]},
        "dependencies": {"type": "array", "items": {"type": "string"}},
        "resultContext": {"type": "string", "maxLength": 4000},
        "errorLogs": {"type": "string", "maxLength": 4000},
        "errorCategory": {"enum": ["DIRTY_WORKTREE", "MISSING_COMMIT", "AGENT_FAILURE", "UNKNOWN"]},
        "recoveryAttempts": {"type": "array", "items": {"$ref": "#/$defs/recoveryAttempt"}}
      }
    },
    "ciStatusContext": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "lastOverall": {"type": "string"},
        "consecutiveCount": {"type": "integer", "minimum": 0},
        "pollCount": {"type": "integer", "minimum": 0},
        "lastCheckedAt": {"type": "string"}
      }
    },
    "recoveryAttempt": {
      "type": "object",
      "required": ["id", "occurredAt", "attemptNumber", "exception", "result"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "occurredAt": {"type": "string", "format": "date-time"},
        "attemptNumber": {"type": "integer", "minimum": 1},
        "exception": {
          "type": "object",
          "required": ["category", "message"],
          "additionalProperties": false,
          "properties": {
            "category": {"enum": ["DIRTY_WORKTREE", "MISSING_COMMIT", "AGENT_FAILURE", "UNKNOWN"]},
            "message": {"type": "string"},
            "phaseId": {"type": "string"},
            "taskId": {"type": "string"}
          }
        },
        "result": {
          "type": "object",
          "required": ["status", "reasoning"],
          "additionalProperties": false,
          "properties": {
            "status": {"enum": ["fixed", "unfixable"]},
            "reasoning": {"type": "string"},
            "actionsTaken": {"type": "array", "items": {"type": "string"}},
            "filesTouched": {"type": "array", "items": {"type": "string"}}
          }
        }
      }
    }
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat = true
		if err := c.AddResource("state.schema.json", bytes.NewReader([]byte(projectSchema))); err != nil {
			compileErr = fmt.Errorf("failed to register state schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("state.schema.json")
	})
	return compiledSchema, compileErr
}

// ValidateDocument checks raw state-file bytes against the schema.
// The returned error wraps ErrInvalidJSON or ErrSchemaViolation.
func ValidateDocument(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	sch, err := schema()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}
