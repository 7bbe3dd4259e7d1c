package secrets

import (
	"errors"
	"testing"
)

func TestNoopStore(t *testing.T) {
	store := &NoopStore{}
	if _, err := store.Get("service", "account"); err != ErrNotSupported {
		t.Errorf("Get() error = %v, want %v", err, ErrNotSupported)
	}
	if err := store.Set("service", "account", "password"); err != ErrNotSupported {
		t.Errorf("Set() error = %v, want %v", err, ErrNotSupported)
	}
	if err := store.Delete("service", "account"); err != ErrNotSupported {
		t.Errorf("Delete() error = %v, want %v", err, ErrNotSupported)
	}
	if store.IsSupported() {
		t.Error("IsSupported() = true, want false")
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Error("Default() returned nil store")
	}
}

func TestAPITokenAccount(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"http://localhost:8080", "api-token@localhost:8080"},
		{"https://Board.Example.com/", "api-token@board.example.com"},
		{"board.internal", "api-token@board.internal"},
		{"", "api-token"},
	}
	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			if got := APITokenAccount(tt.baseURL); got != tt.want {
				t.Errorf("APITokenAccount(%q) = %q, want %q", tt.baseURL, got, tt.want)
			}
		})
	}
}

func TestAPIToken_WithMemoryStore(t *testing.T) {
	restore := Use(NewMemoryStore())
	defer restore()

	const base = "https://board.example.com"
	if _, err := GetAPIToken(base); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAPIToken() before Set error = %v, want ErrNotFound", err)
	}
	if err := SetAPIToken(base, "tok-1"); err != nil {
		t.Fatalf("SetAPIToken() error = %v", err)
	}
	got, err := GetAPIToken(base)
	if err != nil || got != "tok-1" {
		t.Fatalf("GetAPIToken() = %q, %v", got, err)
	}
	if _, err := GetAPIToken("https://other.example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("token leaked across hosts: %v", err)
	}
	if err := DeleteAPIToken(base); err != nil {
		t.Errorf("DeleteAPIToken() error = %v", err)
	}
	if err := DeleteAPIToken(base); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteAPIToken() error = %v, want ErrNotFound", err)
	}
}

func TestUse_Restores(t *testing.T) {
	before := Default()
	restore := Use(NewMemoryStore())
	if _, ok := Default().(*MemoryStore); !ok {
		t.Fatalf("Default() = %T after Use, want *MemoryStore", Default())
	}
	restore()
	if Default() != before {
		t.Errorf("Default() not restored")
	}
}
