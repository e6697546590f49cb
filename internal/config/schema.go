package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSettingsInvalid wraps any settings schema violation.
var ErrSettingsInvalid = errors.New("settings document violates schema")

const settingsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "adapters": {
      "type": "object",
      "propertyNames": {"enum": ["CODEX_CLI", "CLAUDE_CLI", "GEMINI_CLI", "MOCK_CLI"]},
      "additionalProperties": {"$ref": "#/$defs/adapter"}
    },
    "defaultAssignee": {"enum": ["CODEX_CLI", "CLAUDE_CLI", "GEMINI_CLI", "MOCK_CLI"]},
    "ci": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "pollIntervalMs": {"type": "integer", "minimum": 1},
        "terminalObservationCount": {"type": "integer", "minimum": 2},
        "ciFixMaxFanOut": {"type": "integer", "minimum": 1, "maximum": 50},
        "ciFixMaxDepth": {"type": "integer", "minimum": 1, "maximum": 10}
      }
    },
    "exceptionRecovery": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "maxAttempts": {"type": "integer", "minimum": 0, "maximum": 10}
      }
    },
    "telegram": {
      "type": "object",
      "additionalProperties": false,
      "required": ["botToken", "chatId"],
      "properties": {
        "botToken": {"type": "string", "minLength": 1},
        "chatId": {"type": "integer"},
        "noiseLevel": {"enum": ["all", "important", "critical"]},
        "suppressDuplicates": {"type": "boolean"}
      }
    },
    "web": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "addr": {"type": "string"}
      }
    },
    "agents": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "outputTailLimit": {"type": "integer", "minimum": 1},
        "heartbeatIntervalMs": {"type": "integer", "minimum": 1},
        "idleThresholdMs": {"type": "integer", "minimum": 1}
      }
    }
  },
  "$defs": {
    "adapter": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "command": {"type": "string"},
        "args": {"type": "array", "items": {"type": "string"}},
        "model": {"type": "string"},
        "timeoutMs": {"type": "integer", "minimum": 1},
        "startupSilenceTimeoutMs": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

var (
	settingsOnce     sync.Once
	settingsCompiled *jsonschema.Schema
	settingsErr      error
)

func compiledSettingsSchema() (*jsonschema.Schema, error) {
	settingsOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("settings.schema.json", bytes.NewReader([]byte(settingsSchema))); err != nil {
			settingsErr = fmt.Errorf("failed to register settings schema: %w", err)
			return
		}
		settingsCompiled, settingsErr = c.Compile("settings.schema.json")
	})
	return settingsCompiled, settingsErr
}

func validateSettingsDocument(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSettingsInvalid, err)
	}
	sch, err := compiledSettingsSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSettingsInvalid, err)
	}
	return nil
}
