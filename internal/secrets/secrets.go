// Package secrets stores the backend API token outside the config file.
// On macOS the token lives in the system Keychain; elsewhere a no-op store
// is used and the token must come from config or CHATCORE_TOKEN.
package secrets

import (
	"errors"
	"net/url"
	"strings"
	"sync"
)

// ServiceName is the keychain service under which chatcore credentials are kept.
const ServiceName = "Chatcore"

// AccountAPITokenPrefix prefixes the per-backend API token account name.
const AccountAPITokenPrefix = "api-token"

// ErrNotFound is returned when a credential is not found in the store.
var ErrNotFound = errors.New("credential not found")

// ErrNotSupported is returned when the secret store is not supported on the current platform.
var ErrNotSupported = errors.New("secret store not supported on this platform")

// SecretStore provides an interface for secure credential storage.
// Implementations should be safe for concurrent use.
type SecretStore interface {
	// Get returns ErrNotFound if the credential does not exist.
	Get(service, account string) (string, error)
	// Set creates or replaces the credential.
	Set(service, account, password string) error
	// Delete returns ErrNotFound if the credential does not exist.
	Delete(service, account string) error
	IsSupported() bool
}

var (
	storeMu sync.RWMutex
	// store is set by the platform-specific init() function.
	store SecretStore
)

// Default returns the SecretStore for the current platform. It never
// returns nil.
func Default() SecretStore {
	storeMu.RLock()
	s := store
	storeMu.RUnlock()
	if s == nil {
		return &NoopStore{}
	}
	return s
}

// Use replaces the package store and returns a function restoring the
// previous one. Tests use it with a MemoryStore.
func Use(s SecretStore) (restore func()) {
	storeMu.Lock()
	prev := store
	store = s
	storeMu.Unlock()
	return func() {
		storeMu.Lock()
		store = prev
		storeMu.Unlock()
	}
}

// IsSupported returns true if secure credential storage is available on this platform.
func IsSupported() bool {
	return Default().IsSupported()
}

// APITokenAccount returns the account name of the token for baseURL.
// Tokens are keyed by host so several backends can coexist.
func APITokenAccount(baseURL string) string {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(strings.TrimSuffix(host, "/"))
	if host == "" {
		return AccountAPITokenPrefix
	}
	return AccountAPITokenPrefix + "@" + host
}

// GetAPIToken retrieves the API token for baseURL.
func GetAPIToken(baseURL string) (string, error) {
	return Default().Get(ServiceName, APITokenAccount(baseURL))
}

// SetAPIToken stores the API token for baseURL.
func SetAPIToken(baseURL, token string) error {
	return Default().Set(ServiceName, APITokenAccount(baseURL), token)
}

// DeleteAPIToken removes the API token for baseURL.
func DeleteAPIToken(baseURL string) error {
	return Default().Delete(ServiceName, APITokenAccount(baseURL))
}
