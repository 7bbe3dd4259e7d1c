package appdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withDirEnv(t *testing.T, value string) {
	t.Helper()
	ResetCache()
	t.Setenv(DirEnv, value)
	t.Cleanup(ResetCache)
}

func TestDir_EnvOverride(t *testing.T) {
	customDir := t.TempDir()
	withDirEnv(t, customDir)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}
	if dir != customDir {
		t.Errorf("Dir() = %q, want %q", dir, customDir)
	}
}

func TestDir_DefaultPath(t *testing.T) {
	withDirEnv(t, "")

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}
	if !strings.Contains(strings.ToLower(dir), "chatcore") {
		t.Errorf("Dir() = %q, expected path to contain 'chatcore'", dir)
	}
}

func TestEnsureDir(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "chatcore-test")
	withDirEnv(t, tmpDir)

	if _, err := os.Stat(tmpDir); !os.IsNotExist(err) {
		t.Fatalf("temp dir should not exist initially")
	}

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir() failed: %v", err)
	}

	for _, p := range []string{tmpDir, filepath.Join(tmpDir, LogsDirName)} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("%s does not exist after EnsureDir(): %v", p, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", p)
		}
	}
}

func TestPaths(t *testing.T) {
	customDir := t.TempDir()
	withDirEnv(t, customDir)

	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"config", ConfigPath, filepath.Join(customDir, ConfigFileName)},
		{"approvals", ApprovalsPath, filepath.Join(customDir, ApprovalsFileName)},
		{"logs", LogsDir, filepath.Join(customDir, LogsDirName)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
