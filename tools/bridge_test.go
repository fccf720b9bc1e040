package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"zendeskmcp/auth"
	"zendeskmcp/client"
)

var allTools = []string{
	"zendesk_search",
	"zendesk_get_ticket",
	"zendesk_get_ticket_details",
	"zendesk_get_linked_incidents",
	"zendesk_update_ticket",
	"zendesk_create_ticket",
	"zendesk_add_private_note",
	"zendesk_add_public_note",
	"zendesk_search_articles",
	"zendesk_list_articles",
	"zendesk_get_article",
	"zendesk_oauth_login",
	"zendesk_oauth_logout",
	"zendesk_oauth_status",
}

type fakeZendesk struct {
	server    *httptest.Server
	mu        sync.Mutex
	lastPath  string
	lastQuery string
	lastAuth  string
	lastBody  map[string]any
	tokenBody string
	tokenCode int
}

func newFakeZendesk(t *testing.T) *fakeZendesk {
	t.Helper()
	f := &fakeZendesk{
		tokenCode: http.StatusOK,
		tokenBody: `{"access_token":"oauth-token","token_type":"bearer","scope":"read write"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/device/code", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"device_code":"dev","user_code":"WXYZ","verification_uri":"https://acme.zendesk.com/device","expires_in":600,"interval":5}`)
	})
	mux.HandleFunc("/oauth/tokens", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenCode)
		_, _ = io.WriteString(w, f.tokenBody)
	})
	mux.HandleFunc("/api/v2/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastPath = r.URL.Path
		f.lastQuery = r.URL.RawQuery
		f.lastAuth = r.Header.Get("Authorization")
		f.lastBody = nil
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &f.lastBody)
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v2/tickets/404.json":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"RecordNotFound","description":"Not found"}`)
		case "/api/v2/tickets/12/comments.json":
			_, _ = io.WriteString(w, `{"comments":[{"id":1,"body":"first"}]}`)
		case "/api/v2/tickets/12/incidents.json":
			_, _ = io.WriteString(w, `{"tickets":[{"id":13}]}`)
		default:
			_, _ = io.WriteString(w, `{"ticket":{"id":12,"subject":"Help"},"article":{"id":7},"results":[],"articles":[]}`)
		}
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type lastCall struct {
	path   string
	query  string
	auth   string
	ticket map[string]any
}

func (f *fakeZendesk) last() lastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, _ := f.lastBody["ticket"].(map[string]any)
	return lastCall{path: f.lastPath, query: f.lastQuery, auth: f.lastAuth, ticket: ticket}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(t *testing.T, f *fakeZendesk, enabled string) (*Bridge, *auth.TokenStore) {
	t.Helper()
	store := auth.NewTokenStore()
	upstream := auth.Upstream{Subdomain: "acme", ClientID: "cid", ClientSecret: "secret", BaseURL: f.server.URL}
	zd := client.New(client.Config{
		BaseURL:  f.server.URL,
		Email:    "agent@example.com",
		APIToken: "api-token",
		Logger:   discardLogger(),
	}, store)
	login := auth.NewDeviceCodeClient(upstream, store,
		auth.WithLogger(discardLogger()),
		auth.WithPromptWriter(io.Discard),
	)
	b := NewBridge(Deps{Zendesk: zd, Tokens: store, Login: login, Logger: discardLogger()}, enabled)
	return b, store
}

func callTool(t *testing.T, b *Bridge, ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	for _, entry := range b.entries() {
		if entry.tool.Name != name {
			continue
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		res, err := entry.handler(ctx, req)
		if err != nil || res == nil {
			t.Fatalf("tool %s returned %v, %v", name, res, err)
		}
		return res
	}
	t.Fatalf("tool %s not defined", name)
	return nil
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatalf("tool result has no content")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content type %T", res.Content[0])
	return ""
}

func mustSucceed(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	text := resultText(t, res)
	if res.IsError {
		t.Fatalf("tool returned error: %s", text)
	}
	return text
}

func assertJSON(t *testing.T, want, got string) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("bad expected json %q: %v", want, err)
	}
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("result is not json: %q: %v", got, err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Fatalf("json = %s, want %s", got, want)
	}
}

func TestNewBridgeRegistersAllTools(t *testing.T) {
	b, _ := newTestBridge(t, newFakeZendesk(t), "")
	if got := b.Tools(); !reflect.DeepEqual(got, allTools) {
		t.Fatalf("tools = %v, want %v", got, allTools)
	}
	if b.MCPServer() == nil {
		t.Fatalf("expected an mcp server")
	}
}

func TestToolFilter(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{name: "case insensitive", pattern: "OAUTH", want: []string{"zendesk_oauth_login", "zendesk_oauth_logout", "zendesk_oauth_status"}},
		{name: "anchored", pattern: "^zendesk_get_ticket$", want: []string{"zendesk_get_ticket"}},
		{name: "alternation", pattern: "article", want: []string{"zendesk_search_articles", "zendesk_list_articles", "zendesk_get_article"}},
		{name: "invalid pattern registers all", pattern: "([", want: allTools},
		{name: "no match", pattern: "nothing-matches", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBridge(t, newFakeZendesk(t), tt.pattern)
			if got := b.Tools(); len(got) != len(tt.want) || (len(got) > 0 && !reflect.DeepEqual(got, tt.want)) {
				t.Fatalf("tools = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetTicketRendersIndentedJSON(t *testing.T) {
	f := newFakeZendesk(t)
	b, _ := newTestBridge(t, f, "")

	text := mustSucceed(t, callTool(t, b, context.Background(), "zendesk_get_ticket", map[string]any{"ticket_id": "12"}))
	if want := "{\n  \"id\": 12,\n  \"subject\": \"Help\"\n}"; text != want {
		t.Fatalf("result = %q, want %q", text, want)
	}
	if got := f.last().path; got != "/api/v2/tickets/12.json" {
		t.Fatalf("path = %q", got)
	}
}

func TestTicketDetailsAndIncidents(t *testing.T) {
	f := newFakeZendesk(t)
	b, _ := newTestBridge(t, f, "")

	text := mustSucceed(t, callTool(t, b, context.Background(), "zendesk_get_ticket_details", map[string]any{"ticket_id": "12"}))
	assertJSON(t, `{"ticket":{"id":12,"subject":"Help"},"comments":[{"id":1,"body":"first"}]}`, text)

	text = mustSucceed(t, callTool(t, b, context.Background(), "zendesk_get_linked_incidents", map[string]any{"ticket_id": "12"}))
	assertJSON(t, `[{"id":13}]`, text)
}

func TestToolErrors(t *testing.T) {
	f := newFakeZendesk(t)
	b, _ := newTestBridge(t, f, "")

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{name: "missing id", tool: "zendesk_get_ticket", args: map[string]any{}, want: "Error: "},
		{name: "non numeric id", tool: "zendesk_get_ticket", args: map[string]any{"ticket_id": "abc"}, want: "Error: ticket_id must be a positive integer"},
		{name: "upstream 404", tool: "zendesk_get_ticket", args: map[string]any{"ticket_id": "404"}, want: "Error: zendesk api: status 404: RecordNotFound: Not found"},
		{name: "bad enum", tool: "zendesk_update_ticket", args: map[string]any{"ticket_id": "12", "status": "archived"}, want: "Error: status must be one of"},
		{name: "bad assignee", tool: "zendesk_update_ticket", args: map[string]any{"ticket_id": "12", "assignee_id": "bob"}, want: "Error: assignee_id must be a positive integer"},
		{name: "create without description", tool: "zendesk_create_ticket", args: map[string]any{"subject": "x"}, want: "Error: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, b, context.Background(), tt.tool, tt.args)
			text := resultText(t, res)
			if !res.IsError || !strings.Contains(text, tt.want) {
				t.Fatalf("result = %q (error=%v), want error containing %q", text, res.IsError, tt.want)
			}
		})
	}
}

func TestUpdateTicketArguments(t *testing.T) {
	f := newFakeZendesk(t)
	b, _ := newTestBridge(t, f, "")

	mustSucceed(t, callTool(t, b, context.Background(), "zendesk_update_ticket", map[string]any{
		"ticket_id":   "12",
		"status":      "pending",
		"priority":    "urgent",
		"assignee_id": "991",
		"tags":        []any{"vip", "billing"},
	}))

	ticket := f.last().ticket
	if ticket["status"] != "pending" || ticket["priority"] != "urgent" || ticket["assignee_id"] != float64(991) {
		t.Fatalf("unexpected ticket payload %v", ticket)
	}
	if !reflect.DeepEqual(ticket["tags"], []any{"vip", "billing"}) {
		t.Fatalf("tags = %v", ticket["tags"])
	}
	if _, ok := ticket["subject"]; ok {
		t.Fatalf("unset subject must be omitted: %v", ticket)
	}
}

func TestCreateTicketSendsDescriptionAsComment(t *testing.T) {
	f := newFakeZendesk(t)
	b, _ := newTestBridge(t, f, "")

	mustSucceed(t, callTool(t, b, context.Background(), "zendesk_create_ticket", map[string]any{
		"subject":     "Printer",
		"description": "It is on fire",
		"type":        "incident",
	}))
	last := f.last()
	if last.path != "/api/v2/tickets.json" {
		t.Fatalf("path = %q", last.path)
	}
	comment, _ := last.ticket["comment"].(map[string]any)
	if last.ticket["subject"] != "Printer" || last.ticket["type"] != "incident" || comment["body"] != "It is on fire" {
		t.Fatalf("unexpected ticket payload %v", last.ticket)
	}
}

func TestNotesSetVisibility(t *testing.T) {
	f := newFakeZendesk(t)
	b, _ := newTestBridge(t, f, "")

	comment := func() map[string]any {
		c, _ := f.last().ticket["comment"].(map[string]any)
		return c
	}

	mustSucceed(t, callTool(t, b, context.Background(), "zendesk_add_private_note", map[string]any{"ticket_id": "12", "note": "agents only"}))
	if got := comment(); got["body"] != "agents only" || got["public"] != false {
		t.Fatalf("private note payload = %v", got)
	}

	mustSucceed(t, callTool(t, b, context.Background(), "zendesk_add_public_note", map[string]any{"ticket_id": "12", "comment": "hello"}))
	if got := comment(); got["public"] != true {
		t.Fatalf("public note payload = %v", got)
	}
}

func TestSearchClampsArguments(t *testing.T) {
	f := newFakeZendesk(t)
	b, _ := newTestBridge(t, f, "")

	mustSucceed(t, callTool(t, b, context.Background(), "zendesk_search", map[string]any{
		"query":    "status:open",
		"per_page": float64(250),
		"page":     float64(0),
	}))
	last := f.last()
	if last.path != "/api/v2/search.json" {
		t.Fatalf("path = %q", last.path)
	}
	if !strings.Contains(last.query, "per_page=100") || strings.Contains(last.query, "page=0") {
		t.Fatalf("query = %q", last.query)
	}
}

func TestArticleTools(t *testing.T) {
	f := newFakeZendesk(t)
	b, _ := newTestBridge(t, f, "")

	mustSucceed(t, callTool(t, b, context.Background(), "zendesk_search_articles", map[string]any{
		"query":       "vpn",
		"label_names": []any{"network", "howto"},
	}))
	if last := f.last(); last.path != "/api/v2/help_center/articles/search.json" || !strings.Contains(last.query, "label_names=network%2Chowto") {
		t.Fatalf("search request = %s?%s", last.path, last.query)
	}

	mustSucceed(t, callTool(t, b, context.Background(), "zendesk_list_articles", map[string]any{}))
	if got := f.last().path; got != "/api/v2/help_center/en-us/articles.json" {
		t.Fatalf("list path = %q", got)
	}

	text := mustSucceed(t, callTool(t, b, context.Background(), "zendesk_get_article", map[string]any{"article_id": "7", "locale": "de"}))
	if got := f.last().path; got != "/api/v2/help_center/de/articles/7.json" {
		t.Fatalf("article path = %q", got)
	}
	assertJSON(t, `{"id":7}`, text)
}

func TestCallerTokenWins(t *testing.T) {
	f := newFakeZendesk(t)
	b, store := newTestBridge(t, f, "")
	store.Set(auth.AccessToken{Value: "stored"})

	ctx := auth.WithToken(context.Background(), auth.AccessToken{Value: "from-request"})
	mustSucceed(t, callTool(t, b, ctx, "zendesk_get_ticket", map[string]any{"ticket_id": "12"}))
	if got := f.last().auth; got != "Bearer from-request" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestOAuthLoginLogoutStatus(t *testing.T) {
	f := newFakeZendesk(t)
	b, store := newTestBridge(t, f, "")

	if text := mustSucceed(t, callTool(t, b, context.Background(), "zendesk_oauth_login", nil)); text != msgLoggedIn {
		t.Fatalf("login result = %q", text)
	}
	if tok, ok := store.Get(); !ok || tok.Value != "oauth-token" {
		t.Fatalf("stored token = %+v, %v", tok, ok)
	}

	if text := resultText(t, callTool(t, b, context.Background(), "zendesk_oauth_login", nil)); text != msgAlreadyLoggedIn {
		t.Fatalf("second login result = %q", text)
	}

	var status authStatus
	if err := json.Unmarshal([]byte(resultText(t, callTool(t, b, context.Background(), "zendesk_oauth_status", nil))), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	want := authStatus{Authenticated: true, LoginState: "authenticated", OAuthConfigured: true, APITokenConfigured: true}
	if status != want {
		t.Fatalf("status = %+v, want %+v", status, want)
	}

	for range 2 {
		if text := resultText(t, callTool(t, b, context.Background(), "zendesk_oauth_logout", nil)); text != msgLoggedOut {
			t.Fatalf("logout result = %q", text)
		}
	}
	if store.IsAuthenticated() {
		t.Fatalf("logout should clear the token")
	}
}

func TestOAuthLoginDenied(t *testing.T) {
	f := newFakeZendesk(t)
	f.tokenCode = http.StatusBadRequest
	f.tokenBody = `{"error":"access_denied","error_description":"User rejected"}`
	b, store := newTestBridge(t, f, "")

	res := callTool(t, b, context.Background(), "zendesk_oauth_login", nil)
	if text := resultText(t, res); !res.IsError || !strings.Contains(text, "OAuth login failed: ") {
		t.Fatalf("denied login result = %q (error=%v)", text, res.IsError)
	}
	if store.IsAuthenticated() {
		t.Fatalf("denied login must not store a token")
	}
}

func TestOAuthLoginNotConfigured(t *testing.T) {
	store := auth.NewTokenStore()
	b := NewBridge(Deps{
		Tokens: store,
		Login:  auth.NewDeviceCodeClient(auth.Upstream{Subdomain: "acme"}, store),
		Logger: discardLogger(),
	}, "")

	res := callTool(t, b, context.Background(), "zendesk_oauth_login", nil)
	if text := resultText(t, res); !res.IsError || text != msgNotConfigured {
		t.Fatalf("login result = %q (error=%v)", text, res.IsError)
	}

	res = callTool(t, b, context.Background(), "zendesk_get_ticket", map[string]any{"ticket_id": "1"})
	if text := resultText(t, res); !res.IsError || text != "Error: "+client.ErrNoAccount.Error() {
		t.Fatalf("get ticket result = %q (error=%v)", text, res.IsError)
	}
}
