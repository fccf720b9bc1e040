package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/acme/autocert"
	"gopkg.in/yaml.v3"

	"zendeskmcp/auth"
	"zendeskmcp/client"
	"zendeskmcp/server"
	"zendeskmcp/tools"
)

var version = "dev"

type rootOptions struct {
	configPath   string
	httpPort     string
	enabledTools string
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "zendesk-mcp",
		Short: "MCP server for Zendesk tickets and Help Center articles",
		Long: `zendesk-mcp exposes Zendesk ticketing and Help Center operations as MCP tools.

By default it speaks MCP over stdio. With --http it serves streamable HTTP and
acts as an OAuth authorization server in front of Zendesk.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := server.LoadConfig(discoverConfig(opts.configPath))
			if err != nil {
				return err
			}
			if opts.enabledTools != "" {
				cfg.Tools.Enabled = opts.enabledTools
			}
			if cmd.Flags().Changed("http") {
				addr, err := httpListenAddr(opts.httpPort)
				if err != nil {
					return err
				}
				cfg.Server.ListenAddr = addr
				return runHTTP(cmd.Context(), cfg, logger)
			}
			return runStdio(cfg, logger)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("ZMCP_CONFIG"), "Path to YAML config (optional)")
	root.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "info", "Logging level (debug, info, warn, error)")
	root.Flags().StringVar(&opts.httpPort, "http", "", "Serve streamable HTTP on the given port instead of stdio")
	root.Flags().Lookup("http").NoOptDefVal = fmt.Sprint(server.DefaultPort)
	root.Flags().StringVar(&opts.enabledTools, "enabled-tools", "", "Case-insensitive regular expression selecting the tools to register")

	root.AddCommand(newLoginCmd(opts), newConfigCmd(opts))
	return root
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var printToken bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Run the Zendesk OAuth device flow from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := server.LoadConfig(discoverConfig(opts.configPath))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt := buildRuntime(cfg, logger, nil, cmd.ErrOrStderr())
			tok, err := rt.login.Login(ctx)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if printToken {
				fmt.Fprintln(cmd.OutOrStdout(), tok.Value)
			}
			logger.Info("zendesk login complete", "scope", tok.Scope)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printToken, "print-token", false, "Print the access token to stdout on success")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write a configuration file with guided defaults",
			RunE: func(cmd *cobra.Command, args []string) error {
				logger, err := newLogger(opts.logLevel, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				path := configFileOrDefault(opts.configPath)
				if err := runConfigInit(path, cmd.InOrStdin(), cmd.OutOrStdout(), logger); err != nil {
					return fmt.Errorf("config init failed: %w", err)
				}
				logger.Info("configuration initialized successfully", "path", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load the configuration and check that Zendesk is reachable",
			RunE: func(cmd *cobra.Command, args []string) error {
				logger, err := newLogger(opts.logLevel, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				path := configFileOrDefault(opts.configPath)
				if err := runConfigValidate(cmd.Context(), path, logger, nil); err != nil {
					return fmt.Errorf("config validation failed: %w", err)
				}
				logger.Info("configuration is valid", "path", path)
				return nil
			},
		},
	)
	return cmd
}

// runtime holds the components shared by every transport.
type runtime struct {
	tokens  *auth.TokenStore
	login   *auth.DeviceCodeClient
	zendesk *client.Client
	bridge  *tools.Bridge
}

func buildRuntime(cfg server.Config, logger *slog.Logger, metrics *server.Metrics, prompt io.Writer) *runtime {
	tokens := auth.NewTokenStore()
	login := auth.NewDeviceCodeClient(cfg.Upstream.OAuth(), tokens,
		auth.WithLogger(logger),
		auth.WithPromptWriter(prompt),
		auth.WithPollPolicy(cfg.Poll.Policy()),
		auth.WithAttemptHook(metrics.ObserveDevicePoll),
	)
	zd := client.New(client.Config{
		Subdomain: cfg.Upstream.Subdomain,
		BaseURL:   cfg.Upstream.BaseURL,
		Email:     cfg.Upstream.Email,
		APIToken:  cfg.Upstream.APIToken,
		Logger:    logger,
	}, tokens)
	bridge := tools.NewBridge(tools.Deps{Zendesk: zd, Tokens: tokens, Login: login, Logger: logger}, cfg.Tools.Enabled)

	if !cfg.Upstream.OAuth().Configured() && !zd.HasAPIToken() {
		logger.Warn("no zendesk credentials configured; tools will fail until a bearer token is supplied",
			"hint", "set ZENDESK_SUBDOMAIN with ZENDESK_CLIENT_ID/ZENDESK_CLIENT_SECRET or ZENDESK_EMAIL/ZENDESK_TOKEN")
	}
	return &runtime{tokens: tokens, login: login, zendesk: zd, bridge: bridge}
}

func runStdio(cfg server.Config, logger *slog.Logger) error {
	rt := buildRuntime(cfg, logger, nil, os.Stderr)
	logger.Info("serving mcp over stdio", "tools", len(rt.bridge.Tools()))
	return rt.bridge.ServeStdio()
}

func runHTTP(parent context.Context, cfg server.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *server.Metrics
	if cfg.Metrics.Enabled {
		metrics = server.NewMetrics()
	}
	rt := buildRuntime(cfg, logger, metrics, os.Stderr)
	application := server.NewApp(cfg, logger, server.Options{
		Tokens:  rt.tokens,
		MCP:     rt.bridge.MCPServer(),
		Metrics: metrics,
	})
	handler := application.Routes()

	var shutdownFns []func(context.Context) error
	errCh := make(chan error, 2)

	if !cfg.Server.TLS.Enabled() {
		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
		}
		shutdownFns = append(shutdownFns, srv.Shutdown)
		logger.Info("server listening", "mode", "http", "addr", cfg.Server.ListenAddr, "mcp", "/mcp")
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	} else {
		minVersion, err := tlsVersion(cfg.Server.TLS.MinVersion)
		if err != nil {
			return err
		}
		m := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.Server.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
			Email:      cfg.Server.TLS.Email,
		}

		httpRedirect := &http.Server{
			Addr:              cfg.Server.TLS.HTTPListenAddr,
			Handler:           m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
			ReadHeaderTimeout: 15 * time.Second,
		}
		shutdownFns = append(shutdownFns, httpRedirect.Shutdown)
		go func() {
			if err := httpRedirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http redirect server: %w", err)
			}
		}()

		httpsSrv := &http.Server{
			Addr:              cfg.Server.TLS.HTTPSListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
			TLSConfig: &tls.Config{
				GetCertificate: m.GetCertificate,
				MinVersion:     minVersion,
			},
		}
		shutdownFns = append(shutdownFns, httpsSrv.Shutdown)
		logger.Info("server listening", "mode", "https", "addr", cfg.Server.TLS.HTTPSListenAddr, "domains", cfg.Server.TLS.Domains)
		go func() {
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, fn := range shutdownFns {
		_ = fn(shutdownCtx)
	}
	return runErr
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// httpListenAddr turns the --http value into a listen address. A bare port
// binds every interface; host:port is used as given.
func httpListenAddr(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fmt.Sprint(server.DefaultPort)
	}
	if strings.Contains(value, ":") {
		if _, _, err := net.SplitHostPort(value); err != nil {
			return "", fmt.Errorf("invalid --http address %q: %w", value, err)
		}
		return value, nil
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid --http port %q", value)
		}
	}
	return ":" + value, nil
}

func tlsVersion(v string) (uint16, error) {
	switch strings.TrimSpace(v) {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported tls min_version %q", v)
	}
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	// stdout carries the stdio MCP stream, so logs always go to stderr.
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level")
	}
}

// discoverConfig picks up ./config.yaml when no path was given and the file
// exists. Without either the server runs on defaults and environment.
func discoverConfig(path string) string {
	if path != "" {
		return path
	}
	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml"
	}
	return ""
}

func configFileOrDefault(path string) string {
	if path == "" {
		return "./config.yaml"
	}
	return path
}

func runConfigInit(path string, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s. Remove it first or use a different path", path)
	}
	_, err := runSetup(path, in, out, logger)
	return err
}

func runConfigValidate(ctx context.Context, path string, logger *slog.Logger, httpClient *http.Client) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found at %s. Run 'config init' to create it", path)
		}
		return fmt.Errorf("stat config: %w", err)
	}
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return err
	}

	base := cfg.Upstream.OAuth().Base()
	if base == "" {
		logger.Warn("upstream subdomain not set; zendesk tools and login will be unavailable")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	logger.Info("validating zendesk reachability...", "base_url", base)
	if err := validateURL(ctx, base+"/api/v2/help_center/locales.json", httpClient); err != nil {
		logger.Error("zendesk URL validation failed", "base_url", base, "error", err)
	} else {
		logger.Info("zendesk URL is accessible", "base_url", base)
	}
	if !cfg.Upstream.OAuth().Configured() {
		logger.Warn("oauth client not configured; device login and the authorization proxy are disabled")
	}
	logger.Info("configuration validation complete")
	return nil
}

func validateURL(ctx context.Context, urlStr string, httpClient *http.Client) error {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	// 401/403 still proves the account exists.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("received status %d", resp.StatusCode)
	}
	return nil
}

func runSetup(path string, in io.Reader, out io.Writer, logger *slog.Logger) (server.Config, error) {
	reader := bufio.NewReader(in)
	fmt.Fprintf(out, "No configuration file found at %s.\n", path)
	fmt.Fprintln(out, "Starting guided setup for the Zendesk MCP server. Press Enter to accept defaults.")

	cfg := server.DefaultConfig()

	cfg.Upstream.Subdomain = ask(reader, out, "Zendesk subdomain (the 'acme' in acme.zendesk.com)", "")
	if askYesNo(reader, out, "Configure an OAuth client for device login?", cfg.Upstream.Subdomain != "") {
		cfg.Upstream.ClientID = ask(reader, out, "OAuth client ID", "")
		cfg.Upstream.ClientSecret = ask(reader, out, "OAuth client secret", "")
	}
	if askYesNo(reader, out, "Configure API token authentication?", false) {
		cfg.Upstream.Email = ask(reader, out, "Agent email", "")
		cfg.Upstream.APIToken = ask(reader, out, "API token", "")
	}

	cfg.Server.ListenAddr = ask(reader, out, "HTTP listen address", cfg.Server.ListenAddr)
	cfg.Server.PublicURL = strings.TrimSuffix(ask(reader, out, "Public URL (empty to derive from requests)", ""), "/")
	if domains := ask(reader, out, "ACME domains, comma separated (empty disables TLS)", ""); domains != "" {
		cfg.Server.TLS.Domains = server.SplitList(domains)
		cfg.Server.TLS.Email = ask(reader, out, "ACME contact email", cfg.Server.TLS.Email)
	}

	if err := cfg.Validate(); err != nil {
		return server.Config{}, err
	}
	if err := writeConfigFile(path, cfg); err != nil {
		return server.Config{}, err
	}
	logger.Info("configuration created", "path", path)
	return cfg, nil
}

func ask(reader *bufio.Reader, out io.Writer, prompt, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(out, "%s: ", prompt)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return strings.TrimSpace(def)
	}
	return input
}

func askYesNo(reader *bufio.Reader, out io.Writer, prompt string, def bool) bool {
	defLabel := "Y"
	if !def {
		defLabel = "N"
	}
	for {
		fmt.Fprintf(out, "%s [%s]: ", prompt, defLabel)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if input == "" {
			return def
		}
		switch input {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		default:
			if err != nil {
				return def
			}
			fmt.Fprintln(out, "Please enter 'y' or 'n'.")
		}
	}
}

func writeConfigFile(path string, cfg server.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
