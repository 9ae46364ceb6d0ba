package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeTempConfig(t, `
debug: true
search:
  semantic:
    chunk_size: 80
    overlap_size: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Debug {
		t.Fatalf("expected debug=true")
	}
	if cfg.Search.Semantic.ChunkSize != 80 || cfg.Search.Semantic.OverlapSize != 20 {
		t.Fatalf("unexpected semantic config: %+v", cfg.Search.Semantic)
	}
	if cfg.ChannelSize != 256 {
		t.Fatalf("expected default channel_size to survive, got %d", cfg.ChannelSize)
	}
}

func TestValidateChunkSize(t *testing.T) {
	cfg := Default()
	cfg.Search.Semantic.ChunkSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for chunk_size=0")
	}
}

func TestValidateOverlapSize(t *testing.T) {
	cfg := Default()
	cfg.Search.Semantic.ChunkSize = 10
	cfg.Search.Semantic.OverlapSize = 10
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for overlap_size == chunk_size")
	}
}

func TestValidateWorkspaceURIScheme(t *testing.T) {
	cfg := Default()
	cfg.Search.Fuzzy.WorkspaceURI = "/not/a/uri"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for non-file:// workspace_uri")
	}
}

func TestEnvOverlay(t *testing.T) {
	path := writeTempConfig(t, "debounce_sec: 2\n")
	t.Setenv("CODELENS_DEBOUNCE_SEC", "9")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DebounceSec != 9 {
		t.Fatalf("expected env override to win, got %d", cfg.DebounceSec)
	}
}

func TestConfigPathFlag(t *testing.T) {
	if got := ConfigPathFlag("explicit.yml"); got != "explicit.yml" {
		t.Fatalf("flag should win, got %q", got)
	}
	t.Setenv("CODELENS_CONFIG_PATH", "from-env.yml")
	if got := ConfigPathFlag(""); got != "from-env.yml" {
		t.Fatalf("expected env fallback, got %q", got)
	}
	os.Unsetenv("CODELENS_CONFIG_PATH")
	if got := ConfigPathFlag(""); got != "config.yml" {
		t.Fatalf("expected default, got %q", got)
	}
}
