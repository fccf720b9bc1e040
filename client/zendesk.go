package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nukosuke/go-zendesk/zendesk"

	"zendeskmcp/auth"
)

const (
	defaultLocale = "en-us"
	maxErrorBody  = 64 << 10
)

var (
	// ErrNoAccount reports that neither a subdomain nor a base URL is configured.
	ErrNoAccount = errors.New("zendesk subdomain not configured")
	// ErrUnauthenticated reports that no credential could be resolved for a call.
	ErrUnauthenticated = errors.New("not authenticated: log in with zendesk_oauth_login, send a bearer token, or set ZENDESK_EMAIL and ZENDESK_TOKEN")
)

// Config configures the REST client.
type Config struct {
	Subdomain  string
	BaseURL    string
	Email      string
	APIToken   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the Zendesk Support and Help Center APIs.
//
// Credentials are resolved per call: the caller's token from the context,
// then the process token store, then API token basic auth.
type Client struct {
	cfg    Config
	base   string
	tokens *auth.TokenStore
	http   *http.Client
	logger *slog.Logger
}

// APIError is a non-2xx response from the Zendesk API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("zendesk api: status %d", e.Status)
	}
	return fmt.Sprintf("zendesk api: status %d: %s", e.Status, e.Message)
}

// New creates a client. tokens may be nil when only API token auth is used.
func New(cfg Config, tokens *auth.TokenStore) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: auth.DefaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	upstream := auth.Upstream{Subdomain: cfg.Subdomain, BaseURL: cfg.BaseURL}
	base := ""
	if upstream.Base() != "" {
		base = upstream.APIURL()
	}
	return &Client{cfg: cfg, base: base, tokens: tokens, http: httpClient, logger: logger}
}

// HasAPIToken reports whether email/token basic auth is available.
func (c *Client) HasAPIToken() bool {
	return c.cfg.Email != "" && c.cfg.APIToken != ""
}

// ClampPerPage bounds a page size to [1,100]. Zero means "server default".
func ClampPerPage(n int) int {
	if n == 0 {
		return 0
	}
	return min(max(n, 1), 100)
}

// ClampPage bounds a page number to at least 1. Zero means "first page".
func ClampPage(n int) int {
	if n == 0 {
		return 0
	}
	return max(n, 1)
}

// GetTicket returns the ticket object.
func (c *Client) GetTicket(ctx context.Context, id int64) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/tickets/"+strconv.FormatInt(id, 10)+".json", nil, nil)
	if err != nil {
		return nil, err
	}
	return unwrap(body, "ticket")
}

// ListComments returns the comments of a ticket.
func (c *Client) ListComments(ctx context.Context, id int64) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/tickets/"+strconv.FormatInt(id, 10)+"/comments.json", nil, nil)
	if err != nil {
		return nil, err
	}
	return unwrap(body, "comments")
}

// TicketDetails bundles a ticket with its comment thread.
type TicketDetails struct {
	Ticket   json.RawMessage `json:"ticket"`
	Comments json.RawMessage `json:"comments"`
}

// GetTicketDetails fetches the ticket and then its comments.
func (c *Client) GetTicketDetails(ctx context.Context, id int64) (TicketDetails, error) {
	ticket, err := c.GetTicket(ctx, id)
	if err != nil {
		return TicketDetails{}, err
	}
	comments, err := c.ListComments(ctx, id)
	if err != nil {
		return TicketDetails{}, err
	}
	return TicketDetails{Ticket: ticket, Comments: comments}, nil
}

// ListIncidents returns the incident tickets linked to a problem ticket.
func (c *Client) ListIncidents(ctx context.Context, id int64) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/tickets/"+strconv.FormatInt(id, 10)+"/incidents.json", nil, nil)
	if err != nil {
		return nil, err
	}
	return unwrap(body, "tickets")
}

// SearchOptions narrows a unified search.
type SearchOptions struct {
	SortBy    string
	SortOrder string
	PerPage   int
	Page      int
	Type      string
}

// Search runs a Zendesk search query and returns the raw result page.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (json.RawMessage, error) {
	if opts.Type != "" && !strings.Contains(query, "type:") {
		query = strings.TrimSpace(query + " type:" + opts.Type)
	}
	q := url.Values{"query": {query}}
	setIf(q, "sort_by", opts.SortBy)
	setIf(q, "sort_order", opts.SortOrder)
	setInt(q, "per_page", ClampPerPage(opts.PerPage))
	setInt(q, "page", ClampPage(opts.Page))
	return c.do(ctx, http.MethodGet, "/search.json", q, nil)
}

// Comment is a ticket comment. A nil Public means the account default.
type Comment struct {
	Body   string `json:"body"`
	Public *bool  `json:"public,omitempty"`
}

// TicketFields is the writable subset of a ticket.
type TicketFields struct {
	Subject    string   `json:"subject,omitempty"`
	Status     string   `json:"status,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Type       string   `json:"type,omitempty"`
	AssigneeID int64    `json:"assignee_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Comment    *Comment `json:"comment,omitempty"`
}

// UpdateTicket applies fields to a ticket and returns the updated ticket.
func (c *Client) UpdateTicket(ctx context.Context, id int64, fields TicketFields) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodPut, "/tickets/"+strconv.FormatInt(id, 10)+".json", nil, map[string]any{"ticket": fields})
	if err != nil {
		return nil, err
	}
	return unwrap(body, "ticket")
}

// CreateTicket opens a ticket. fields.Comment carries the description.
func (c *Client) CreateTicket(ctx context.Context, fields TicketFields) (json.RawMessage, error) {
	if fields.Subject == "" {
		return nil, errors.New("subject is required")
	}
	body, err := c.do(ctx, http.MethodPost, "/tickets.json", nil, map[string]any{"ticket": fields})
	if err != nil {
		return nil, err
	}
	return unwrap(body, "ticket")
}

// AddComment appends a public comment or a private note to a ticket.
func (c *Client) AddComment(ctx context.Context, id int64, text string, public bool) (json.RawMessage, error) {
	return c.UpdateTicket(ctx, id, TicketFields{Comment: &Comment{Body: text, Public: &public}})
}

// ArticleSearchOptions narrows a Help Center article search.
type ArticleSearchOptions struct {
	Locale        string
	SortBy        string
	SortOrder     string
	PerPage       int
	Page          int
	Category      string
	Section       string
	Brand         string
	LabelNames    []string
	CreatedBefore string
	CreatedAfter  string
}

// SearchArticles searches Help Center articles.
func (c *Client) SearchArticles(ctx context.Context, query string, opts ArticleSearchOptions) (json.RawMessage, error) {
	q := url.Values{"query": {query}}
	setIf(q, "locale", opts.Locale)
	setIf(q, "sort_by", opts.SortBy)
	setIf(q, "sort_order", opts.SortOrder)
	setInt(q, "per_page", ClampPerPage(opts.PerPage))
	setInt(q, "page", ClampPage(opts.Page))
	setIf(q, "category", opts.Category)
	setIf(q, "section", opts.Section)
	setIf(q, "brand_id", opts.Brand)
	if len(opts.LabelNames) > 0 {
		q.Set("label_names", strings.Join(opts.LabelNames, ","))
	}
	setIf(q, "created_before", opts.CreatedBefore)
	setIf(q, "created_after", opts.CreatedAfter)
	return c.do(ctx, http.MethodGet, "/help_center/articles/search.json", q, nil)
}

// ListArticles lists Help Center articles for a locale (en-us by default).
func (c *Client) ListArticles(ctx context.Context, locale string, perPage, page int) (json.RawMessage, error) {
	q := url.Values{}
	setInt(q, "per_page", ClampPerPage(perPage))
	setInt(q, "page", ClampPage(page))
	return c.do(ctx, http.MethodGet, "/help_center/"+localeOrDefault(locale)+"/articles.json", q, nil)
}

// GetArticle returns a single Help Center article.
func (c *Client) GetArticle(ctx context.Context, id int64, locale string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/help_center/"+localeOrDefault(locale)+"/articles/"+strconv.FormatInt(id, 10)+".json", nil, nil)
	if err != nil {
		return nil, err
	}
	return unwrap(body, "article")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	if c.base == "" {
		return nil, ErrNoAccount
	}
	zd, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	start := time.Now()
	var data []byte
	switch method {
	case http.MethodGet:
		data, err = zd.Get(ctx, target)
	case http.MethodPost:
		data, err = zd.Post(ctx, target, payload)
	case http.MethodPut:
		data, err = zd.Put(ctx, target, payload)
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		var apiErr zendesk.Error
		if errors.As(err, &apiErr) {
			msg, _ := io.ReadAll(io.LimitReader(apiErr.Body(), maxErrorBody))
			c.logger.Debug("zendesk api call", "method", method, "path", path, "status", apiErr.Status(), "duration_ms", time.Since(start).Milliseconds())
			return nil, &APIError{Status: apiErr.Status(), Message: errorMessage(msg)}
		}
		return nil, fmt.Errorf("zendesk request %s %s: %w", method, path, err)
	}
	c.logger.Debug("zendesk api call", "method", method, "path", path, "duration_ms", time.Since(start).Milliseconds())

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}

// session builds a go-zendesk client bound to the credential resolved for
// this call. The caller's bearer token wins over the stored OAuth token,
// which wins over email/API token basic auth.
func (c *Client) session(ctx context.Context) (*zendesk.Client, error) {
	var cred zendesk.Credential
	switch tok, ok := c.tokens.Resolve(ctx); {
	case ok:
		cred = zendesk.NewBearerTokenCredential(tok.Value)
	case c.HasAPIToken():
		cred = zendesk.NewAPITokenCredential(c.cfg.Email, c.cfg.APIToken)
	default:
		return nil, ErrUnauthenticated
	}

	zd, err := zendesk.NewClient(c.http)
	if err != nil {
		return nil, fmt.Errorf("zendesk client: %w", err)
	}
	if err := zd.SetEndpointURL(c.base); err != nil {
		return nil, fmt.Errorf("zendesk endpoint %q: %w", c.base, err)
	}
	zd.SetCredential(cred)
	return zd, nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error       json.RawMessage `json:"error"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data[:min(len(data), 200)]))
	}

	var code string
	if err := json.Unmarshal(body.Error, &code); err != nil {
		var nested struct {
			Title   string `json:"title"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil {
			code = strings.TrimSpace(nested.Title + ": " + nested.Message)
			code = strings.Trim(code, ": ")
		}
	}
	switch {
	case code != "" && body.Description != "":
		return code + ": " + body.Description
	case code != "":
		return code
	default:
		return body.Description
	}
}

func unwrap(body json.RawMessage, key string) (json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode zendesk response: %w", err)
	}
	if v, ok := envelope[key]; ok {
		return v, nil
	}
	return body, nil
}

func localeOrDefault(locale string) string {
	if locale == "" {
		return defaultLocale
	}
	return url.PathEscape(locale)
}

func setIf(q url.Values, key, val string) {
	if val != "" {
		q.Set(key, val)
	}
}

func setInt(q url.Values, key string, n int) {
	if n != 0 {
		q.Set(key, strconv.Itoa(n))
	}
}
