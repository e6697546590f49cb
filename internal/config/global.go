package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// GlobalConfig is the cross-project registry persisted at
// <home>/.ixado/config.json. It lets commands resolve a project by name
// instead of a directory.
type GlobalConfig struct {
	DefaultProject string            `json:"defaultProject,omitempty"`
	Projects       map[string]string `json:"projects"`
}

// GlobalConfigPath resolves the registry location, honoring the
// environment override.
func GlobalConfigPath(getenv Getenv) string {
	if p := getenv(EnvGlobalConfigFile); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ixado", "config.json")
	}
	return filepath.Join(home, ".ixado", "config.json")
}

// LoadGlobalConfig reads the registry. A missing file yields an empty one.
func LoadGlobalConfig(readFile ReadFile, path string) (*GlobalConfig, error) {
	raw, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{Projects: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("failed to read global config %s: %w", path, err)
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("global config %s is not valid JSON: %w", path, err)
	}
	if cfg.Projects == nil {
		cfg.Projects = map[string]string{}
	}
	return &cfg, nil
}

// SaveGlobalConfig persists the registry with the same temp+rename
// discipline as every other file the core owns.
func SaveGlobalConfig(path string, cfg *GlobalConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal global config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write temp global config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit global config: %w", err)
	}
	return nil
}

// RegisterProject records a project root and makes it the default when it
// is the first one.
func (c *GlobalConfig) RegisterProject(name, rootDir string) {
	if c.Projects == nil {
		c.Projects = map[string]string{}
	}
	c.Projects[name] = rootDir
	if c.DefaultProject == "" {
		c.DefaultProject = name
	}
}

// ResolveProject returns the root directory for a project name; an empty
// name resolves the default project.
func (c *GlobalConfig) ResolveProject(name string) (string, string, error) {
	if name == "" {
		name = c.DefaultProject
	}
	if name == "" {
		return "", "", fmt.Errorf("no project name given and no default project configured")
	}
	rootDir, ok := c.Projects[name]
	if !ok {
		return "", "", fmt.Errorf("unknown project %q (known: %v)", name, c.ProjectNames())
	}
	return name, rootDir, nil
}

// ProjectNames lists registered projects in stable order.
func (c *GlobalConfig) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects))
	for name := range c.Projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
