package server

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"zendeskmcp/auth"
)

type jsonRPCError struct {
	JSONRPC string `json:"jsonrpc"`
	Error   struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID any `json:"id"`
}

func internalJSONRPCError() jsonRPCError {
	var e jsonRPCError
	e.JSONRPC = "2.0"
	e.Error.Code = -32603
	e.Error.Message = "Internal server error"
	return e
}

// mcpHandler serves the MCP endpoint over the stateless streamable HTTP
// transport: every call is self-contained and no session id is issued.
func (a *App) mcpHandler() http.Handler {
	if a.MCP == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.Logger.Error("mcp endpoint called without a protocol server")
			writeJSON(w, http.StatusInternalServerError, internalJSONRPCError())
		})
	}

	streamable := mcpserver.NewStreamableHTTPServer(a.MCP,
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(bearerContext),
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if err := recover(); err != nil {
				a.Logger.Error("mcp request failed", "error", err, "method", r.Method, "request_id", RequestIDFromContext(r.Context()))
				if !rec.written {
					writeJSON(w, http.StatusInternalServerError, internalJSONRPCError())
				}
			}
		}()
		streamable.ServeHTTP(rec, r)
	})
}

// bearerContext makes sure the caller's token reaches tool handlers even when
// the endpoint is mounted without BearerTokenMiddleware.
func bearerContext(ctx context.Context, r *http.Request) context.Context {
	if _, ok := auth.TokenFromContext(ctx); ok {
		return ctx
	}
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return auth.WithToken(ctx, auth.AccessToken{Value: token, TokenType: "bearer"})
	}
	return ctx
}
