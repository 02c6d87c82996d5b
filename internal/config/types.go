package config

import "fmt"

// AgentConfig defines a role an agent can be dispatched under.
type AgentConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty"` // Role-specific system prompt
	MaxTurns     int    `json:"max_turns,omitempty"`     // Per-role turn budget override
}

// Config is the top-level configuration.
type Config struct {
	// Capacity
	MaxConcurrentAgents int `json:"max_concurrent_agents"` // Lifecycle dispatch limit
	MaxGraphWorkers     int `json:"max_graph_workers"`     // Graph executor node limit

	// Task defaults
	DefaultAgent    string `json:"default_agent"`
	DefaultMaxTurns int    `json:"default_max_turns"`

	// Review behavior
	AutoQC            bool `json:"auto_qc"`               // Run verification when an agent finishes
	AutoMergeOnQCPass bool `json:"auto_merge_on_qc_pass"` // Merge the branch once verification passes

	// Repository
	ProjectDir string `json:"project_dir"`
	BaseBranch string `json:"base_branch"`

	// Briefing documents, relative to ProjectDir
	SystemPromptPath string `json:"system_prompt_path"`
	ManifestPath     string `json:"manifest_path"`

	// Infrastructure
	DatabasePath string `json:"database_path"`
	NATSURL      string `json:"nats_url,omitempty"`     // Empty disables the relay
	MetricsAddr  string `json:"metrics_addr,omitempty"` // Empty disables the metrics listener

	Agents map[string]AgentConfig `json:"agents"`
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Agents = make(map[string]AgentConfig, len(c.Agents))
	for k, v := range c.Agents {
		out.Agents[k] = v
	}
	return &out
}

// Validate checks the configuration for values the orchestrator cannot
// run with.
func (c *Config) Validate() error {
	if c.MaxConcurrentAgents < 1 {
		return fmt.Errorf("max_concurrent_agents must be at least 1")
	}
	if c.MaxGraphWorkers < 1 {
		return fmt.Errorf("max_graph_workers must be at least 1")
	}
	if c.DefaultMaxTurns < 1 {
		return fmt.Errorf("default_max_turns must be at least 1")
	}
	if c.BaseBranch == "" {
		return fmt.Errorf("base_branch must be set")
	}
	if _, ok := c.Agents[c.DefaultAgent]; !ok {
		return fmt.Errorf("default_agent %q has no agent entry", c.DefaultAgent)
	}
	return nil
}
