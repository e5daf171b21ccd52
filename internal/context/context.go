package context

import (
	"context"
	"strconv"
	"strings"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ParamsKey is the context key for merged request parameters
	ParamsKey ContextKey = "params"
	// TokenKey is the context key for a verified session token
	TokenKey ContextKey = "token"
)

// Params holds request parameters merged from the query string, form body
// and JSON body
type Params map[string]string

// Get returns the trimmed value for key
func (p Params) Get(key string) string {
	return strings.TrimSpace(p[key])
}

// Raw returns the value for key untouched
func (p Params) Raw(key string) string {
	return p[key]
}

// Int returns the integer value for key, or def when absent or malformed
func (p Params) Int(key string, def int) int {
	n, err := strconv.Atoi(p.Get(key))
	if err != nil {
		return def
	}
	return n
}

// Float returns the float value for key and whether it parsed
func (p Params) Float(key string) (float64, bool) {
	v := p.Get(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// WithParams stores params in ctx
func WithParams(ctx context.Context, params Params) context.Context {
	return context.WithValue(ctx, ParamsKey, params)
}

// ExtractParams returns the params stored in ctx, or an empty set
func ExtractParams(ctx context.Context) Params {
	if p, ok := ctx.Value(ParamsKey).(Params); ok {
		return p
	}
	return Params{}
}

// WithToken stores a verified token in ctx
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

// ExtractToken extracts the verified token from the request context
func ExtractToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// RequestInfo is filled in by handlers and read back by the logging
// middleware after the request completes
type RequestInfo struct {
	Action string
	Code   string
}

// RequestInfoKey is the context key for the per-request RequestInfo
const RequestInfoKey ContextKey = "request_info"

// WithRequestInfo stores info in ctx
func WithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, RequestInfoKey, info)
}

// ExtractRequestInfo returns the RequestInfo stored in ctx, or nil
func ExtractRequestInfo(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(RequestInfoKey).(*RequestInfo)
	return info
}
