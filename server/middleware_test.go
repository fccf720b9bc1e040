package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"zendeskmcp/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func logEntries(t *testing.T, buf *bytes.Buffer, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("log line is not json: %q: %v", line, err)
		}
		if entry["msg"] == msg {
			out = append(out, entry)
		}
	}
	return out
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name               string
		method             string
		expectStatus       int
		expectBodyExecuted bool
	}{
		{name: "get", method: http.MethodGet, expectStatus: http.StatusOK, expectBodyExecuted: true},
		{name: "post", method: http.MethodPost, expectStatus: http.StatusOK, expectBodyExecuted: true},
		{name: "options_short_circuits", method: http.MethodOptions, expectStatus: http.StatusOK, expectBodyExecuted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bodyExecuted := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				bodyExecuted = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/mcp", nil)
			req.Header.Set("Origin", "http://any-origin.example")
			rec := httptest.NewRecorder()
			CORSMiddleware(handler).ServeHTTP(rec, req)

			if rec.Code != tt.expectStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.expectStatus)
			}
			if bodyExecuted != tt.expectBodyExecuted {
				t.Fatalf("handler executed = %v, want %v", bodyExecuted, tt.expectBodyExecuted)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Fatalf("Allow-Origin = %q", got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Methods"); got != corsAllowMethods {
				t.Fatalf("Allow-Methods = %q", got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Headers"); got != corsAllowHeaders {
				t.Fatalf("Allow-Headers = %q", got)
			}
		})
	}
}

func TestPreflightThroughRouter(t *testing.T) {
	app := newTestApp(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodOptions, "/token", nil)
	req.Header.Set("Access-Control-Request-Headers", "mcp-protocol-version")
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 26 {
		t.Fatalf("expected a ULID request id, got %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("response header does not echo request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "caller-id" {
		t.Fatalf("caller request id not preserved, got %q", seen)
	}
}

func TestRecoveryMiddlewareReturnsOAuthError(t *testing.T) {
	handler := RecoveryMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "server_error" {
		t.Fatalf("error code = %q", body["error"])
	}
}

func TestBearerTokenMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		share       bool
		wantContext string
		wantStored  bool
	}{
		{name: "no header", header: "", share: true},
		{name: "basic auth ignored", header: "Basic dXNlcjpwYXNz", share: true},
		{name: "context only", header: "Bearer tok-1", share: false, wantContext: "tok-1"},
		{name: "shared", header: "bearer tok-2", share: true, wantContext: "tok-2", wantStored: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := auth.NewTokenStore()
			var got string
			handler := BearerTokenMiddleware(store, tt.share, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tok, ok := auth.TokenFromContext(r.Context()); ok {
					got = tok.Value
				}
			}))

			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.wantContext {
				t.Fatalf("context token = %q, want %q", got, tt.wantContext)
			}
			if store.IsAuthenticated() != tt.wantStored {
				t.Fatalf("store authenticated = %v, want %v", store.IsAuthenticated(), tt.wantStored)
			}
		})
	}
}

func TestSecurityHeadersOnlyOnTLS(t *testing.T) {
	handler := SecurityHeadersMiddleware(60)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain HTTP")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "https://gw.example.com/", nil))
	if rec.Header().Get("Strict-Transport-Security") != "max-age=60; includeSubDomains" {
		t.Fatalf("unexpected HSTS header %q", rec.Header().Get("Strict-Transport-Security"))
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"Bearer":         "",
		"Bearer  abc ":   "abc",
		"BEARER xyz":     "xyz",
		"Token abc":      "",
		"Basic Zm9vOmJh": "",
	}
	for header, want := range cases {
		if got := extractBearerToken(header); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestLoggingMiddlewareFlagsBearerRequests(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantBearer bool
	}{
		{name: "bearer", header: "Bearer abc", wantBearer: true},
		{name: "basic", header: "Basic dXNlcjpwYXNz"},
		{name: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captureLogger()
			handler := LoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			}))

			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			entries := logEntries(t, buf, "http_request")
			if len(entries) != 1 {
				t.Fatalf("expected one request log, got %d: %s", len(entries), buf.String())
			}
			if entries[0]["status"] != float64(http.StatusAccepted) {
				t.Fatalf("logged status = %v", entries[0]["status"])
			}
			if got := entries[0]["bearer"] == true; got != tt.wantBearer {
				t.Fatalf("bearer logged = %v, want %v (%v)", got, tt.wantBearer, entries[0])
			}
		})
	}
}
