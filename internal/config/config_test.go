package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := []byte(`{"server":{"address":":9000"},"llm":{"provider":"openai"}}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("expected address :9000, got %s", cfg.Server.Address)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("expected provider openai, got %s", cfg.LLM.Provider)
	}
	if cfg.Registry.Driver != "file" {
		t.Fatalf("expected registry driver file, got %s", cfg.Registry.Driver)
	}
	if cfg.Registry.SnapshotPath != filepath.Join(dir, "data", "tools_registry.json") {
		t.Fatalf("unexpected snapshot path %s", cfg.Registry.SnapshotPath)
	}
	if cfg.TaskQueue.Driver != "memory" || cfg.TaskQueue.Worker != 1 {
		t.Fatalf("unexpected task queue defaults: %+v", cfg.TaskQueue)
	}
	if cfg.LLM.Gemini.Model != "gemini-2.0-flash" {
		t.Fatalf("unexpected gemini model %s", cfg.LLM.Gemini.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestTokenFallsBackToEnv(t *testing.T) {
	t.Setenv("AGENTFORGE_TEST_TOKEN", "secret")
	cfg := ServerConfig{APITokenEnv: "AGENTFORGE_TEST_TOKEN"}
	if got := cfg.Token(); got != "secret" {
		t.Fatalf("expected token from env, got %q", got)
	}
	cfg.APIToken = "inline"
	if got := cfg.Token(); got != "inline" {
		t.Fatalf("inline token should win, got %q", got)
	}
}
