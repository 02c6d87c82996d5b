package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileConfig mirrors Config with pointer fields so an overlay file can set
// a scalar to its zero value without the merge treating it as absent.
type fileConfig struct {
	MaxConcurrentAgents *int    `json:"max_concurrent_agents"`
	MaxGraphWorkers     *int    `json:"max_graph_workers"`
	DefaultAgent        *string `json:"default_agent"`
	DefaultMaxTurns     *int    `json:"default_max_turns"`
	AutoQC              *bool   `json:"auto_qc"`
	AutoMergeOnQCPass   *bool   `json:"auto_merge_on_qc_pass"`
	ProjectDir          *string `json:"project_dir"`
	BaseBranch          *string `json:"base_branch"`
	SystemPromptPath    *string `json:"system_prompt_path"`
	ManifestPath        *string `json:"manifest_path"`
	DatabasePath        *string `json:"database_path"`
	NATSURL             *string `json:"nats_url"`
	MetricsAddr         *string `json:"metrics_addr"`

	Agents map[string]AgentConfig `json:"agents"`
}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.foreman/config.json
// Project: .foreman/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".foreman", "config.json")
	projectPath := filepath.Join(".foreman", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Parse JSON
	var loaded fileConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	applyOverlay(base, &loaded)
	return nil
}

func applyOverlay(base *Config, overlay *fileConfig) {
	if overlay.MaxConcurrentAgents != nil {
		base.MaxConcurrentAgents = *overlay.MaxConcurrentAgents
	}
	if overlay.MaxGraphWorkers != nil {
		base.MaxGraphWorkers = *overlay.MaxGraphWorkers
	}
	if overlay.DefaultAgent != nil {
		base.DefaultAgent = *overlay.DefaultAgent
	}
	if overlay.DefaultMaxTurns != nil {
		base.DefaultMaxTurns = *overlay.DefaultMaxTurns
	}
	if overlay.AutoQC != nil {
		base.AutoQC = *overlay.AutoQC
	}
	if overlay.AutoMergeOnQCPass != nil {
		base.AutoMergeOnQCPass = *overlay.AutoMergeOnQCPass
	}
	if overlay.ProjectDir != nil {
		base.ProjectDir = *overlay.ProjectDir
	}
	if overlay.BaseBranch != nil {
		base.BaseBranch = *overlay.BaseBranch
	}
	if overlay.SystemPromptPath != nil {
		base.SystemPromptPath = *overlay.SystemPromptPath
	}
	if overlay.ManifestPath != nil {
		base.ManifestPath = *overlay.ManifestPath
	}
	if overlay.DatabasePath != nil {
		base.DatabasePath = *overlay.DatabasePath
	}
	if overlay.NATSURL != nil {
		base.NATSURL = *overlay.NATSURL
	}
	if overlay.MetricsAddr != nil {
		base.MetricsAddr = *overlay.MetricsAddr
	}

	// Merge agents per key
	for key, agent := range overlay.Agents {
		base.Agents[key] = agent
	}
}
