package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `server:
  listen_addr: ":4000"
upstream:
  subdomain: acme
  client_id: from-file
  client_secret: file-secret
poll:
  interval: 7s
`)

	t.Setenv("ZENDESK_CLIENT_ID", "from-env")
	t.Setenv("ZENDESK_CLIENT_SECRET", "env-secret")
	t.Setenv("ZMCP_SHARE_BEARER_TOKEN", "yes")
	t.Setenv("ZMCP_POLL_MAX_ATTEMPTS", "12")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Upstream.ClientID != "from-env" {
		t.Fatalf("ClientID override mismatch, got %q", cfg.Upstream.ClientID)
	}
	if cfg.Upstream.Subdomain != "acme" {
		t.Fatalf("Subdomain should come from file, got %q", cfg.Upstream.Subdomain)
	}
	if cfg.Server.ListenAddr != ":4000" {
		t.Fatalf("ListenAddr mismatch, got %q", cfg.Server.ListenAddr)
	}
	if !cfg.Server.ShareBearerToken {
		t.Fatalf("expected share_bearer_token to be enabled by env")
	}
	if cfg.Poll.Interval != 7*time.Second {
		t.Fatalf("Poll.Interval mismatch, got %s", cfg.Poll.Interval)
	}
	if cfg.Poll.MaxAttempts != 12 {
		t.Fatalf("Poll.MaxAttempts mismatch, got %d", cfg.Poll.MaxAttempts)
	}
	if !cfg.Upstream.OAuth().Configured() {
		t.Fatalf("expected upstream OAuth to be configured")
	}
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected default listen addr, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Poll.MaxAttempts != 60 || cfg.Poll.Interval != 5*time.Second {
		t.Fatalf("unexpected poll defaults: %+v", cfg.Poll)
	}
	if cfg.Server.ShareBearerToken {
		t.Fatalf("share_bearer_token must default to false")
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, `server:
  listen_addr: ":3000"
  dev_mode: true
`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigStripsComments(t *testing.T) {
	path := writeConfigFile(t, `# top comment
server:
  # listener
  listen_addr: "127.0.0.1:3100"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:3100" {
		t.Fatalf("ListenAddr mismatch, got %q", cfg.Server.ListenAddr)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "listen addr without port",
			mutate:  func(c *Config) { c.Server.ListenAddr = "localhost" },
			wantErr: "server.listen_addr",
		},
		{
			name:    "public url scheme",
			mutate:  func(c *Config) { c.Server.PublicURL = "gateway.example.com" },
			wantErr: "server.public_url",
		},
		{
			name:    "tls version",
			mutate:  func(c *Config) { c.Server.TLS.MinVersion = "1.1" },
			wantErr: "min_version",
		},
		{
			name:    "secret without client id",
			mutate:  func(c *Config) { c.Upstream.ClientSecret = "s" },
			wantErr: "must be set together",
		},
		{
			name:    "subdomain with domain",
			mutate:  func(c *Config) { c.Upstream.Subdomain = "acme.zendesk.com" },
			wantErr: "upstream.subdomain",
		},
		{
			name:    "negative attempts",
			mutate:  func(c *Config) { c.Poll.MaxAttempts = -1 },
			wantErr: "poll.max_attempts",
		},
		{
			name:    "attempts above cap",
			mutate:  func(c *Config) { c.Poll.MaxAttempts = 100 },
			wantErr: "poll.max_attempts",
		},
		{
			name:    "interval below floor",
			mutate:  func(c *Config) { c.Poll.Interval = time.Second },
			wantErr: "poll.interval",
		},
		{
			name:   "slower interval allowed",
			mutate: func(c *Config) { c.Poll.Interval = 30 * time.Second },
		},
		{
			name:   "invalid tools regex only warns",
			mutate: func(c *Config) { c.Tools.Enabled = "([" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseHelpers(t *testing.T) {
	if !parseBool("ON", false) || parseBool("off", true) || !parseBool("maybe", true) {
		t.Fatalf("parseBool mismatch")
	}
	if got := SplitList(" a, ,b ,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("SplitList mismatch: %v", got)
	}
	if parseInt("x", 3) != 3 || parseInt(" 9 ", 0) != 9 {
		t.Fatalf("parseInt mismatch")
	}
	if parseDuration("bad", time.Second) != time.Second {
		t.Fatalf("parseDuration fallback mismatch")
	}
}
