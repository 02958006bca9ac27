package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/genui-chat/offline-worker/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientDefaultsTimeout(t *testing.T) {
	if got := NewUpstreamClient(nil).Timeout; got != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", got)
	}
}

func TestNewUpstreamClientDoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer upstream.Close()

	resp, err := NewUpstreamClient(nil).Get(upstream.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect to be returned as-is, got %d", resp.StatusCode)
	}
}
