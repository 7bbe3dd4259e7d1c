package approvals

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func openTemp(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "approvals.json")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	s, _ := openTemp(t)
	if got := s.Tools(); len(got) != 0 {
		t.Errorf("Tools() = %v, want empty", got)
	}
	if s.IsApproved("Bash") {
		t.Error("IsApproved(Bash) = true on empty store")
	}
}

func TestOpen_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open() should fail on invalid JSON")
	}
}

func TestStore_AddRemovePersist(t *testing.T) {
	s, path := openTemp(t)

	for _, tool := range []string{"Write", "Bash", "Bash"} {
		if err := s.Add(tool); err != nil {
			t.Fatalf("Add(%q) error = %v", tool, err)
		}
	}
	if err := s.Add(""); err == nil {
		t.Error("Add(\"\") should fail")
	}
	if got, want := s.Tools(), []string{"Bash", "Write"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Tools() = %v, want %v", got, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"Bash"`) || !strings.Contains(string(data), `"Write"`) {
		t.Errorf("file = %s", data)
	}

	if err := s.Remove("Write"); err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if !reopened.IsApproved("Bash") || reopened.IsApproved("Write") {
		t.Errorf("reopened Tools() = %v, want [Bash]", reopened.Tools())
	}
}

func TestStore_ExternalEditReloads(t *testing.T) {
	changed := make(chan []string, 4)
	s, path := openTemp(t,
		WithDebounce(10*time.Millisecond),
		OnChange(func(tools []string) { changed <- tools }),
	)
	if err := s.Add("Bash"); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`{"tools":["Read","Glob"]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case tools := <-changed:
			if reflect.DeepEqual(tools, []string{"Glob", "Read"}) {
				if s.IsApproved("Bash") {
					t.Error("Bash should be gone after reload")
				}
				return
			}
		case <-deadline:
			t.Fatalf("reload not observed, Tools() = %v", s.Tools())
		}
	}
}

func TestStore_BrokenEditKeepsPrevious(t *testing.T) {
	s, path := openTemp(t, WithDebounce(5*time.Millisecond))
	if err := s.Add("Bash"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if !s.IsApproved("Bash") {
		t.Error("broken file should not clear approvals")
	}
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add("Bash"); err != nil {
		t.Fatal(err)
	}
	if !s.IsApproved("Bash") {
		t.Error("IsApproved(Bash) = false")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestStore_ConcurrentClose(t *testing.T) {
	s, _ := openTemp(t)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		}()
	}
	wg.Wait()
}
