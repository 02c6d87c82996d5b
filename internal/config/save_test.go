package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.MaxConcurrentAgents = 7
	cfg.AutoMergeOnQCPass = true
	cfg.BaseBranch = "trunk"
	cfg.NATSURL = "nats://127.0.0.1:4222"
	cfg.Agents["coder"] = AgentConfig{SystemPrompt: "You write code.", MaxTurns: 30}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MaxConcurrentAgents != 7 {
		t.Errorf("max agents = %d, want 7", loaded.MaxConcurrentAgents)
	}
	if !loaded.AutoMergeOnQCPass {
		t.Error("auto merge flag lost")
	}
	if loaded.BaseBranch != "trunk" {
		t.Errorf("base branch = %q, want trunk", loaded.BaseBranch)
	}
	if loaded.NATSURL != "nats://127.0.0.1:4222" {
		t.Errorf("nats url = %q", loaded.NATSURL)
	}
	if loaded.Agents["coder"].MaxTurns != 30 {
		t.Errorf("coder max turns = %d, want 30", loaded.Agents["coder"].MaxTurns)
	}
}

func TestSaveReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	first := DefaultConfig()
	first.BaseBranch = "first"
	if err := Save(first, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := DefaultConfig()
	second.BaseBranch = "second"
	if err := Save(second, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.BaseBranch != "second" {
		t.Errorf("base branch = %q, want second", loaded.BaseBranch)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if err := Save(DefaultConfig(), filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".config-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only config.json", len(entries))
	}
}
