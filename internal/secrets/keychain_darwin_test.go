//go:build darwin

package secrets

import (
	"errors"
	"testing"
)

// testServiceName keeps test items apart from real chatcore credentials.
const testServiceName = "Chatcore-Test-SecretStore"

func TestKeychainStore_SetGetDelete(t *testing.T) {
	store := &KeychainStore{}
	account := "test-account"

	_ = store.Delete(testServiceName, account)

	if err := store.Set(testServiceName, account, "v1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(testServiceName, account, "v2"); err != nil {
		t.Fatalf("Set() update error = %v", err)
	}
	got, err := store.Get(testServiceName, account)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "v2" {
		t.Errorf("Get() = %q, want %q", got, "v2")
	}

	if err := store.Delete(testServiceName, account); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if _, err := store.Get(testServiceName, account); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want %v", err, ErrNotFound)
	}
}

func TestKeychainStore_DeleteNotFound(t *testing.T) {
	store := &KeychainStore{}
	if err := store.Delete(testServiceName, "nonexistent-account"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want %v", err, ErrNotFound)
	}
}

func TestDefaultIsKeychainStore(t *testing.T) {
	if _, ok := Default().(*KeychainStore); !ok {
		t.Errorf("Default() returned %T, want *KeychainStore on macOS", Default())
	}
}
