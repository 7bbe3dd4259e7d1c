package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/planboard/chatcore/internal/appdir"
)

func TestParse_ValidConfig(t *testing.T) {
	yaml := `
server:
  base_url: "https://board.example.com"
  api_prefix: "/v2/api"
  token: "abc"
transport:
  mode: bridge
reconnect:
  min_delay: 500ms
  max_delay: 1m
  max_attempts: 3
history:
  page_size: 20
approvals:
  file: /tmp/approvals.json
log:
  level: debug
  json: true
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.BaseURL != "https://board.example.com" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.APIPrefix != "/v2/api" {
		t.Errorf("Server.APIPrefix = %q", cfg.Server.APIPrefix)
	}
	if cfg.Server.Token != "abc" {
		t.Errorf("Server.Token = %q", cfg.Server.Token)
	}
	if cfg.Transport.Mode != TransportBridge {
		t.Errorf("Transport.Mode = %q, want bridge", cfg.Transport.Mode)
	}
	if cfg.Reconnect.MinDelay != 500*time.Millisecond {
		t.Errorf("Reconnect.MinDelay = %v", cfg.Reconnect.MinDelay)
	}
	if cfg.Reconnect.MaxDelay != time.Minute {
		t.Errorf("Reconnect.MaxDelay = %v", cfg.Reconnect.MaxDelay)
	}
	if cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("Reconnect.MaxAttempts = %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.History.PageSize != 20 {
		t.Errorf("History.PageSize = %d", cfg.History.PageSize)
	}
	if cfg.Approvals.File != "/tmp/approvals.json" {
		t.Errorf("Approvals.File = %q", cfg.Approvals.File)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	def := Default()
	if *cfg != *def {
		t.Errorf("Parse(\"\") = %+v, want %+v", cfg, def)
	}
	if cfg.Reconnect.MinDelay != time.Second || cfg.Reconnect.MaxDelay != 30*time.Second || cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("reconnect defaults = %+v", cfg.Reconnect)
	}
	if cfg.History.PageSize != 50 {
		t.Errorf("page size default = %d, want 50", cfg.History.PageSize)
	}
}

func TestParse_ZeroAttemptsIsExplicit(t *testing.T) {
	cfg, err := Parse([]byte("reconnect:\n  max_attempts: 0\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Reconnect.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0", cfg.Reconnect.MaxAttempts)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"invalid yaml", `{{invalid yaml`, "failed to parse"},
		{"bad duration", "reconnect:\n  min_delay: soon\n", "min_delay"},
		{"max below min", "reconnect:\n  min_delay: 10s\n  max_delay: 1s\n", "max_delay"},
		{"negative attempts", "reconnect:\n  max_attempts: -1\n", "max_attempts"},
		{"bad mode", "transport:\n  mode: carrier-pigeon\n", "transport.mode"},
		{"bad url", "server:\n  base_url: ftp://x\n", "base_url"},
		{"bad prefix", "server:\n  api_prefix: api\n", "api_prefix"},
		{"bad page size", "history:\n  page_size: -5\n", "page_size"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(appdir.DirEnv, dir)
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)

	t.Setenv(PathEnv, "")
	if path, src := ResolvePath("/explicit.yaml"); path != "/explicit.yaml" || src != SourceFlag {
		t.Errorf("flag: got %q %v", path, src)
	}

	t.Setenv(PathEnv, "/from/env.yaml")
	if path, src := ResolvePath(""); path != "/from/env.yaml" || src != SourceEnv {
		t.Errorf("env: got %q %v", path, src)
	}

	t.Setenv(PathEnv, "")
	path, src := ResolvePath("")
	if src != SourceAppDir || path != filepath.Join(dir, appdir.ConfigFileName) {
		t.Errorf("appdir: got %q %v", path, src)
	}
}

func TestLoadFrom_MissingAppDirFileUsesDefaults(t *testing.T) {
	t.Setenv(appdir.DirEnv, t.TempDir())
	t.Setenv(PathEnv, "")
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)

	res, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if res.Source != SourceDefaults || res.Path != "" {
		t.Errorf("got source %v path %q, want defaults", res.Source, res.Path)
	}
}

func TestLoadFrom_MissingExplicitFileFails(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadFrom_AppDirFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(appdir.DirEnv, dir)
	t.Setenv(PathEnv, "")
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)

	path := filepath.Join(dir, appdir.ConfigFileName)
	if err := os.WriteFile(path, []byte("history:\n  page_size: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if res.Source != SourceAppDir || res.Path != path {
		t.Errorf("got source %v path %q", res.Source, res.Path)
	}
	if res.Config.History.PageSize != 7 {
		t.Errorf("PageSize = %d, want 7", res.Config.History.PageSize)
	}
}

func TestMarshal_MasksTokenAndRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Server.Token = "super-secret"
	cfg.Reconnect.MaxAttempts = 0

	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "super-secret") {
		t.Errorf("Marshal leaked token:\n%s", data)
	}

	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()) failed: %v", err)
	}
	if back.Reconnect != cfg.Reconnect || back.History != cfg.History {
		t.Errorf("round trip mismatch: %+v vs %+v", back, cfg)
	}
}

func TestApprovalsPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(appdir.DirEnv, dir)
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)

	cfg := Default()
	path, err := cfg.ApprovalsPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, appdir.ApprovalsFileName) {
		t.Errorf("default approvals path = %q", path)
	}

	cfg.Approvals.File = "/elsewhere.json"
	if path, _ := cfg.ApprovalsPath(); path != "/elsewhere.json" {
		t.Errorf("configured approvals path = %q", path)
	}
}
