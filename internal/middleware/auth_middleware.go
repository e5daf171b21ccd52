package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	appctx "github.com/kosumphisai/koshare/backend/internal/context"
)

// Error codes written by middleware
const (
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeValidationError = "VALIDATION_ERROR"
)

// ErrorResponse is the failure form of the result envelope
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// TokenVerifier reports whether a session token is currently valid
type TokenVerifier interface {
	Verify(ctx context.Context, token string) bool
}

// AuthMiddleware rejects requests without a valid session token
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate validates the token from the `token` parameter or a Bearer
// Authorization header and stores it in the request context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			WriteError(w, r, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
			return
		}

		if !m.verifier.Verify(r.Context(), token) {
			WriteError(w, r, http.StatusUnauthorized, CodeAuthRequired, "Session expired or invalid, please log in again")
			return
		}

		next.ServeHTTP(w, r.WithContext(appctx.WithToken(r.Context(), token)))
	})
}

// TokenFromRequest returns the token parameter, falling back to the
// Authorization header
func TokenFromRequest(r *http.Request) string {
	if token := appctx.ExtractParams(r.Context()).Get("token"); token != "" {
		return token
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// WriteError writes a failure envelope and records the code for the
// logging middleware
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	if info := appctx.ExtractRequestInfo(r.Context()); info != nil {
		info.Code = code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}
