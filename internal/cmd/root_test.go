package cmd

import (
	"reflect"
	"testing"

	"github.com/planboard/chatcore/internal/config"
	"github.com/planboard/chatcore/internal/secrets"
	"github.com/planboard/chatcore/internal/transport"
)

func TestResolveToken(t *testing.T) {
	store := secrets.NewMemoryStore()
	defer secrets.Use(store)()
	t.Setenv(config.TokenEnv, "")

	c := config.Default()
	if got := resolveToken(c); got != "" {
		t.Errorf("resolveToken() = %q with nothing configured", got)
	}

	if err := secrets.SetAPIToken(c.Server.BaseURL, "from-keychain"); err != nil {
		t.Fatal(err)
	}
	if got := resolveToken(c); got != "from-keychain" {
		t.Errorf("resolveToken() = %q, want from-keychain", got)
	}

	t.Setenv(config.TokenEnv, "from-env")
	if got := resolveToken(c); got != "from-env" {
		t.Errorf("resolveToken() = %q, want from-env", got)
	}

	c.Server.Token = "from-config"
	if got := resolveToken(c); got != "from-config" {
		t.Errorf("resolveToken() = %q, want from-config", got)
	}
}

func TestNewDialer(t *testing.T) {
	tests := []struct {
		mode   string
		bridge bool
	}{
		{transport.ModeDirect, false},
		{transport.ModeBridge, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			c := config.Default()
			c.Transport.Mode = tt.mode
			_, isBridge := newDialer(c).(*transport.BridgeDialer)
			if isBridge != tt.bridge {
				t.Errorf("bridge backend = %v, want %v", isBridge, tt.bridge)
			}
		})
	}
}

func TestChannelOptions(t *testing.T) {
	c := config.Default()
	c.Server.Token = "tok"
	api := newClient(c)
	opts := channelOptions(c, api)

	if !opts.RequireAuth {
		t.Error("RequireAuth should be set when a token is configured")
	}
	if got := opts.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	if opts.Backoff.Min != c.Reconnect.MinDelay || opts.Backoff.MaxAttempts != c.Reconnect.MaxAttempts {
		t.Errorf("Backoff = %+v", opts.Backoff)
	}
}

func TestSplitList(t *testing.T) {
	if got, want := splitList(" channel, ,history,"), []string{"channel", "history"}; !reflect.DeepEqual(got, want) {
		t.Errorf("splitList() = %v, want %v", got, want)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
}
