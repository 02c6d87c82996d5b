package config

// DefaultConfig returns the default configuration with built-in agent roles.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentAgents: 3,
		MaxGraphWorkers:     4,
		DefaultAgent:        "coder",
		DefaultMaxTurns:     50,
		AutoQC:              true,
		AutoMergeOnQCPass:   false,
		ProjectDir:          ".",
		BaseBranch:          "main",
		SystemPromptPath:    ".foreman/system-prompt.md",
		ManifestPath:        ".foreman/manifest.md",
		DatabasePath:        ".foreman/foreman.db",
		Agents: map[string]AgentConfig{
			"coder": {
				SystemPrompt: "You implement features and write production code.",
			},
			"reviewer": {
				SystemPrompt: "You review code for correctness, style, and best practices.",
			},
			"tester": {
				SystemPrompt: "You write comprehensive tests and validate functionality.",
			},
		},
	}
}
