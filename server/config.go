package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"zendeskmcp/auth"
)

// Hardcoded listener defaults
const (
	DefaultPort       = 3000
	DefaultListenAddr = ":3000"
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Tools    ToolsConfig    `yaml:"tools"`
	Poll     PollConfig     `yaml:"poll"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	ListenAddr        string    `yaml:"listen_addr"`
	PublicURL         string    `yaml:"public_url"`
	TrustProxyHeaders bool      `yaml:"trust_proxy_headers"`
	ShareBearerToken  bool      `yaml:"share_bearer_token"`
	TLS               TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains         []string `yaml:"domains"`
	Email           string   `yaml:"email"`
	CacheDir        string   `yaml:"cache_dir"`
	HTTPListenAddr  string   `yaml:"http_listen_addr"`
	HTTPSListenAddr string   `yaml:"https_listen_addr"`
	MinVersion      string   `yaml:"min_version"`
}

// Enabled reports whether ACME certificates should be requested.
func (t TLSConfig) Enabled() bool {
	return len(t.Domains) > 0
}

// UpstreamConfig holds the Zendesk account and credentials.
type UpstreamConfig struct {
	Subdomain    string `yaml:"subdomain"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Email        string `yaml:"email"`
	APIToken     string `yaml:"api_token"`
	BaseURL      string `yaml:"base_url"`
}

// OAuth returns the OAuth view of the upstream settings.
func (u UpstreamConfig) OAuth() auth.Upstream {
	return auth.Upstream{
		Subdomain:    u.Subdomain,
		ClientID:     u.ClientID,
		ClientSecret: u.ClientSecret,
		BaseURL:      u.BaseURL,
	}
}

// ToolsConfig selects which MCP tools are exposed.
type ToolsConfig struct {
	Enabled string `yaml:"enabled"`
}

// PollConfig tunes the device-flow polling loop.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Policy converts the config into the auth package policy.
func (p PollConfig) Policy() auth.PollPolicy {
	return auth.PollPolicy{Interval: p.Interval, MaxAttempts: p.MaxAttempts}
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadConfig reads the YAML config file and merges .env and environment overrides.
// An empty path skips the file and uses defaults.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	loadDotEnv(".env")
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv populates missing environment variables from a dotenv file.
// Variables already present in the environment win.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		slog.Warn("Failed to load dotenv file", "file", path, "error", err)
	}
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			TLS: TLSConfig{
				CacheDir:        ".autocert",
				HTTPListenAddr:  ":80",
				HTTPSListenAddr: ":443",
				MinVersion:      "1.2",
			},
		},
		Poll: PollConfig{
			Interval:    auth.DefaultPollInterval,
			MaxAttempts: auth.DefaultPollAttempts,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"ZENDESK_SUBDOMAIN":        func(v string) { cfg.Upstream.Subdomain = v },
		"ZENDESK_CLIENT_ID":        func(v string) { cfg.Upstream.ClientID = v },
		"ZENDESK_CLIENT_SECRET":    func(v string) { cfg.Upstream.ClientSecret = v },
		"ZENDESK_EMAIL":            func(v string) { cfg.Upstream.Email = v },
		"ZENDESK_TOKEN":            func(v string) { cfg.Upstream.APIToken = v },
		"ZENDESK_BASE_URL":         func(v string) { cfg.Upstream.BaseURL = v },
		"ZMCP_LISTEN_ADDR":         func(v string) { cfg.Server.ListenAddr = v },
		"ZMCP_PUBLIC_URL":          func(v string) { cfg.Server.PublicURL = v },
		"ZMCP_TRUST_PROXY_HEADERS": func(v string) { cfg.Server.TrustProxyHeaders = parseBool(v, cfg.Server.TrustProxyHeaders) },
		"ZMCP_SHARE_BEARER_TOKEN":  func(v string) { cfg.Server.ShareBearerToken = parseBool(v, cfg.Server.ShareBearerToken) },
		"ZMCP_TLS_DOMAINS":         func(v string) { cfg.Server.TLS.Domains = SplitList(v) },
		"ZMCP_TLS_EMAIL":           func(v string) { cfg.Server.TLS.Email = v },
		"ZMCP_ENABLED_TOOLS":       func(v string) { cfg.Tools.Enabled = v },
		"ZMCP_POLL_INTERVAL":       func(v string) { cfg.Poll.Interval = parseDuration(v, cfg.Poll.Interval) },
		"ZMCP_POLL_MAX_ATTEMPTS":   func(v string) { cfg.Poll.MaxAttempts = parseInt(v, cfg.Poll.MaxAttempts) },
		"ZMCP_METRICS_ENABLED":     func(v string) { cfg.Metrics.Enabled = parseBool(v, cfg.Metrics.Enabled) },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(val string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// SplitList splits a comma separated value, dropping empty entries.
func SplitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs format checks on the config. Upstream credentials are
// optional: without them the gateway still serves discovery and the tools
// fall back to API token auth.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		slog.Error("Missing required configuration", "field", "server.listen_addr")
		return errors.New("server.listen_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		slog.Error("Invalid configuration value", "field", "server.listen_addr", "value", c.Server.ListenAddr, "error", err)
		return fmt.Errorf("server.listen_addr must be host:port, got: %s", c.Server.ListenAddr)
	}

	if c.Server.PublicURL != "" && !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	if c.Upstream.BaseURL != "" && !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		slog.Error("Invalid configuration value", "field", "upstream.base_url", "value", c.Upstream.BaseURL)
		return fmt.Errorf("upstream.base_url must start with http:// or https://, got: %s", c.Upstream.BaseURL)
	}

	if c.Upstream.Subdomain != "" && strings.ContainsAny(c.Upstream.Subdomain, "./: ") {
		slog.Error("Invalid configuration value", "field", "upstream.subdomain", "value", c.Upstream.Subdomain, "reason", "must be a bare subdomain")
		return fmt.Errorf("upstream.subdomain must be the bare account name, got: %s", c.Upstream.Subdomain)
	}

	if (c.Upstream.ClientID == "") != (c.Upstream.ClientSecret == "") {
		slog.Error("Incomplete OAuth client credentials", "field", "upstream.client_id/client_secret")
		return errors.New("upstream.client_id and upstream.client_secret must be set together")
	}

	if c.Tools.Enabled != "" {
		if _, err := regexp.Compile("(?i)" + c.Tools.Enabled); err != nil {
			slog.Warn("Invalid enabled tools pattern, all tools will be enabled", "pattern", c.Tools.Enabled, "error", err)
		}
	}

	if c.Poll.Interval < 0 || (c.Poll.Interval > 0 && c.Poll.Interval < auth.DefaultPollInterval) {
		slog.Error("Invalid configuration value", "field", "poll.interval", "value", c.Poll.Interval, "minimum", auth.DefaultPollInterval)
		return fmt.Errorf("poll.interval must be at least %s, got: %s", auth.DefaultPollInterval, c.Poll.Interval)
	}
	if c.Poll.MaxAttempts < 0 || c.Poll.MaxAttempts > auth.DefaultPollAttempts {
		slog.Error("Invalid configuration value", "field", "poll.max_attempts", "value", c.Poll.MaxAttempts, "maximum", auth.DefaultPollAttempts)
		return fmt.Errorf("poll.max_attempts must be between 0 and %d, got: %d", auth.DefaultPollAttempts, c.Poll.MaxAttempts)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got: %s", c.Metrics.Path)
	}

	return nil
}
