package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func jsonResult(v any) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	if raw, ok := v.(json.RawMessage); ok {
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return errorResult(fmt.Errorf("format response: %w", err)), nil
		}
		return mcp.NewToolResultText(buf.String()), nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("format response: %w", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("Error: " + err.Error())
}

// requireID reads a numeric identifier that clients send as a string.
func requireID(req mcp.CallToolRequest, key string) (int64, error) {
	s, err := req.RequireString(key)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return id, nil
}

// optionalID is requireID for arguments that may be absent.
func optionalID(req mcp.CallToolRequest, key string) (int64, error) {
	if req.GetString(key, "") == "" {
		return 0, nil
	}
	return requireID(req, key)
}

func oneOf(req mcp.CallToolRequest, key string, allowed ...string) (string, error) {
	v := req.GetString(key, "")
	if v == "" {
		return "", nil
	}
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), v)
}
