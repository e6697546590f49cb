package web

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RuntimeFileEnvVar overrides where the serve daemon records itself.
const RuntimeFileEnvVar = "IXADO_WEB_RUNTIME_FILE"

// RuntimeInfo is the discovery record other surfaces read to find a
// running web daemon.
type RuntimeInfo struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"startedAt"`
}

// RuntimeFilePath resolves the runtime file location: the env override
// or <home>/.ixado/web-runtime.json.
func RuntimeFilePath() (string, error) {
	if p := os.Getenv(RuntimeFileEnvVar); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".ixado", "web-runtime.json"), nil
}

// WriteRuntimeFile records the daemon atomically (temp + rename).
func WriteRuntimeFile(path string, info RuntimeInfo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".web-runtime-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// ReadRuntimeFile loads a previously written record.
func ReadRuntimeFile(path string) (RuntimeInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuntimeInfo{}, err
	}
	var info RuntimeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return RuntimeInfo{}, fmt.Errorf("decode runtime file: %w", err)
	}
	return info, nil
}

// RemoveRuntimeFile deletes the record on shutdown; a missing file is
// fine.
func RemoveRuntimeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
