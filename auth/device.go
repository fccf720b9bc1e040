package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultPollInterval is the minimum delay between two token requests.
	DefaultPollInterval = 5 * time.Second
	// DefaultPollAttempts bounds a single poll to roughly five minutes.
	DefaultPollAttempts = 60
	// DefaultHTTPTimeout applies to every request sent to Zendesk.
	DefaultHTTPTimeout = 30 * time.Second

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	slowDownStep    = 5 * time.Second
	maxBodyBytes    = 1 << 20
)

// LoginState tracks where the most recent Login call is.
type LoginState int32

const (
	StateIdle LoginState = iota
	StateDeviceRequested
	StatePolling
	StateAuthenticated
	StateDenied
	StateExpired
	StateTimedOut
	StateFailed
)

func (s LoginState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeviceRequested:
		return "device_requested"
	case StatePolling:
		return "polling"
	case StateAuthenticated:
		return "authenticated"
	case StateDenied:
		return "denied"
	case StateExpired:
		return "expired"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PollPolicy bounds the token polling loop.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// schedule merges the policy with what the device-code response advertised.
// The server may slow polling down but never speed it up, and the attempt
// budget never outlives the device code. Whatever the policy says, attempts
// stay at or below DefaultPollAttempts and at least DefaultPollInterval apart.
func (p PollPolicy) schedule(da DeviceAuthorization) (time.Duration, int) {
	interval := max(p.Interval, DefaultPollInterval, da.Interval)

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	attempts = min(attempts, DefaultPollAttempts)
	if da.ExpiresIn > 0 {
		attempts = min(attempts, int((da.ExpiresIn+interval-1)/interval))
	}
	return interval, max(attempts, 1)
}

// DeviceCodeClient runs the OAuth 2.0 device authorization grant against Zendesk.
type DeviceCodeClient struct {
	upstream   Upstream
	oauth      *oauth2.Config
	httpClient *http.Client
	store      *TokenStore
	logger     *slog.Logger
	prompt     io.Writer
	policy     PollPolicy
	onAttempt  func(outcome string)
	sleep      func(ctx context.Context, d time.Duration) error

	state atomic.Int32
	group singleflight.Group
}

// DeviceOption configures a DeviceCodeClient.
type DeviceOption func(*DeviceCodeClient)

// WithHTTPClient sets the client used for every upstream call.
func WithHTTPClient(httpClient *http.Client) DeviceOption {
	return func(c *DeviceCodeClient) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) DeviceOption {
	return func(c *DeviceCodeClient) {
		c.logger = logger
	}
}

// WithPromptWriter redirects the operator-facing verification prompt.
func WithPromptWriter(w io.Writer) DeviceOption {
	return func(c *DeviceCodeClient) {
		c.prompt = w
	}
}

// WithPollPolicy tunes the polling policy. Values faster than 5s or longer
// than 60 attempts are clamped to those bounds.
func WithPollPolicy(p PollPolicy) DeviceOption {
	return func(c *DeviceCodeClient) {
		c.policy = p
	}
}

// WithAttemptHook registers a callback invoked with an outcome label after
// every poll attempt.
func WithAttemptHook(fn func(outcome string)) DeviceOption {
	return func(c *DeviceCodeClient) {
		c.onAttempt = fn
	}
}

// NewDeviceCodeClient builds a client for upstream that records tokens in store.
func NewDeviceCodeClient(upstream Upstream, store *TokenStore, opts ...DeviceOption) *DeviceCodeClient {
	c := &DeviceCodeClient{
		upstream:   upstream,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		store:      store,
		logger:     slog.Default(),
		prompt:     os.Stderr,
		policy:     PollPolicy{Interval: DefaultPollInterval, MaxAttempts: DefaultPollAttempts},
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.oauth = &oauth2.Config{
		ClientID:     upstream.ClientID,
		ClientSecret: upstream.ClientSecret,
		Scopes:       strings.Fields(DefaultScope),
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: upstream.DeviceCodeURL(),
			TokenURL:      upstream.TokenURL(),
			AuthURL:       upstream.AuthorizeURL(),
		},
	}
	return c
}

// Store returns the token store the client writes to.
func (c *DeviceCodeClient) Store() *TokenStore {
	return c.store
}

// Configured reports whether the upstream credentials are complete.
func (c *DeviceCodeClient) Configured() bool {
	return c.upstream.Configured()
}

// State returns the state of the most recent Login.
func (c *DeviceCodeClient) State() LoginState {
	return LoginState(c.state.Load())
}

func (c *DeviceCodeClient) setState(s LoginState) {
	c.state.Store(int32(s))
}

// Initiate requests a device code and user code from Zendesk.
func (c *DeviceCodeClient) Initiate(ctx context.Context) (DeviceAuthorization, error) {
	if c.upstream.Base() == "" || c.upstream.ClientID == "" {
		return DeviceAuthorization{}, ErrNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	resp, err := c.oauth.DeviceAuth(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return DeviceAuthorization{}, fmt.Errorf("%w: device flow initiation failed: %s", ErrUpstreamUnavailable, rerr.Response.Status)
		}
		return DeviceAuthorization{}, fmt.Errorf("%w: device flow initiation failed: %v", ErrUpstreamUnavailable, err)
	}

	da := DeviceAuthorization{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURL: resp.VerificationURIComplete,
		Interval:        time.Duration(resp.Interval) * time.Second,
	}
	if da.VerificationURL == "" {
		da.VerificationURL = resp.VerificationURI
	}
	if !resp.Expiry.IsZero() {
		da.ExpiresIn = time.Until(resp.Expiry).Round(time.Second)
	}
	if da.DeviceCode == "" {
		return DeviceAuthorization{}, fmt.Errorf("%w: device code missing in response", ErrUpstreamUnavailable)
	}
	return da, nil
}

// Poll exchanges the device code for an access token, retrying while the
// user has not yet approved. Terminal outcomes return immediately.
func (c *DeviceCodeClient) Poll(ctx context.Context, da DeviceAuthorization) (AccessToken, error) {
	interval, attempts := c.policy.schedule(da)
	c.setState(StatePolling)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, tok, err := c.requestToken(ctx, da.DeviceCode)
		if c.onAttempt != nil {
			c.onAttempt(outcome.String())
		}

		switch outcome {
		case outcomeSuccess:
			c.store.Set(tok)
			c.setState(StateAuthenticated)
			c.logger.Info("device flow authorized", "attempt", attempt, "scope", tok.Scope)
			return tok, nil
		case outcomeDenied:
			c.setState(StateDenied)
			return AccessToken{}, err
		case outcomeExpired:
			c.setState(StateExpired)
			return AccessToken{}, err
		case outcomeSlowDown:
			interval += slowDownStep
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.setState(StateFailed)
			return AccessToken{}, fmt.Errorf("poll cancelled: %w", ctxErr)
		}

		lastErr = err
		c.logger.Debug("device flow poll", "attempt", attempt, "max_attempts", attempts, "outcome", outcome.String(), "error", err)
		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, interval); err != nil {
			c.setState(StateFailed)
			return AccessToken{}, fmt.Errorf("poll cancelled: %w", err)
		}
	}

	c.setState(StateTimedOut)
	if lastErr != nil && !errors.Is(lastErr, ErrAuthorizationPending) {
		c.logger.Warn("device flow timed out", "attempts", attempts, "last_error", lastErr)
	}
	return AccessToken{}, ErrAuthorizationTimeout
}

// Login runs Initiate then Poll with the same device authorization. Calls
// that overlap an in-flight login share its result.
func (c *DeviceCodeClient) Login(ctx context.Context) (AccessToken, error) {
	v, err, shared := c.group.Do("login", func() (any, error) {
		return c.login(ctx)
	})
	if shared {
		c.logger.Debug("joined in-flight device login")
	}
	if err != nil {
		return AccessToken{}, err
	}
	return v.(AccessToken), nil
}

func (c *DeviceCodeClient) login(ctx context.Context) (AccessToken, error) {
	c.setState(StateIdle)
	if !c.upstream.Configured() {
		c.setState(StateFailed)
		return AccessToken{}, ErrNotConfigured
	}

	da, err := c.Initiate(ctx)
	if err != nil {
		c.setState(StateFailed)
		c.logger.Error("device flow initiation failed", "error", err)
		fmt.Fprintf(c.prompt, "Authorization failed: %v\n", err)
		return AccessToken{}, err
	}
	c.setState(StateDeviceRequested)

	fmt.Fprintf(c.prompt, "\n=== Zendesk OAuth Login ===\nPlease visit: %s\nEnter code: %s\nWaiting for authorization...\n\n", da.VerificationURL, da.UserCode)
	c.logger.Info("device flow started", "verification_url", da.VerificationURL, "user_code", da.UserCode, "expires_in", da.ExpiresIn)

	tok, err := c.Poll(ctx, da)
	if err != nil {
		c.logger.Warn("device flow failed", "state", c.State().String(), "error", err)
		fmt.Fprintf(c.prompt, "Authorization failed: %v\n", err)
		return AccessToken{}, err
	}
	fmt.Fprintln(c.prompt, "Authorization successful!")
	return tok, nil
}

func (c *DeviceCodeClient) requestToken(ctx context.Context, deviceCode string) (pollOutcome, AccessToken, error) {
	form := url.Values{
		"grant_type":    {deviceGrantType},
		"client_id":     {c.upstream.ClientID},
		"client_secret": {c.upstream.ClientSecret},
		"code":          {deviceCode},
		"device_code":   {deviceCode},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.upstream.TokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return outcomeTransient, AccessToken{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return outcomeTransient, AccessToken{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return outcomeTransient, AccessToken{}, fmt.Errorf("%w: read token response: %v", ErrUpstreamUnavailable, err)
	}
	return classifyTokenResponse(resp.StatusCode, body)
}

// pollOutcome is the tagged result of one token request.
type pollOutcome int

const (
	outcomeTransient pollOutcome = iota
	outcomeSuccess
	outcomePending
	outcomeSlowDown
	outcomeDenied
	outcomeExpired
)

func (o pollOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomePending:
		return "pending"
	case outcomeSlowDown:
		return "slow_down"
	case outcomeDenied:
		return "denied"
	case outcomeExpired:
		return "expired"
	default:
		return "transient"
	}
}

type oauthErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func classifyTokenResponse(status int, body []byte) (pollOutcome, AccessToken, error) {
	if status >= 200 && status < 300 {
		var tok AccessToken
		if err := json.Unmarshal(body, &tok); err != nil {
			return outcomeTransient, AccessToken{}, fmt.Errorf("%w: decode token response: %v", ErrUpstreamUnavailable, err)
		}
		if tok.IsZero() {
			return outcomeTransient, AccessToken{}, fmt.Errorf("%w: token response missing access_token", ErrUpstreamUnavailable)
		}
		return outcomeSuccess, tok, nil
	}

	var eb oauthErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return outcomeTransient, AccessToken{}, fmt.Errorf("%w: token exchange failed with status %d", ErrUpstreamUnavailable, status)
	}
	uerr := &UpstreamError{Status: status, Code: eb.Error, Description: eb.Description}

	switch eb.Error {
	case codeAuthorizationPending:
		return outcomePending, AccessToken{}, uerr
	case codeSlowDown:
		return outcomeSlowDown, AccessToken{}, uerr
	case codeAccessDenied:
		return outcomeDenied, AccessToken{}, uerr
	case codeExpiredToken:
		return outcomeExpired, AccessToken{}, uerr
	default:
		return outcomeTransient, AccessToken{}, uerr
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
