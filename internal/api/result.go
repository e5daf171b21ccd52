package api

import (
	"encoding/json"
	"net/http"

	appctx "github.com/kosumphisai/koshare/backend/internal/context"
	"github.com/kosumphisai/koshare/backend/internal/middleware"
)

// Error codes surfaced in the result envelope
const (
	CodeAuthRequired    = middleware.CodeAuthRequired
	CodeRateLimited     = middleware.CodeRateLimited
	CodeValidationError = middleware.CodeValidationError
	CodeNoPin           = "NO_PIN"
	CodeWrongPin        = "WRONG_PIN"
	CodeUnknownAction   = "UNKNOWN_ACTION"
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeInternalError   = "INTERNAL_ERROR"
)

var codeStatus = map[string]int{
	CodeAuthRequired:    http.StatusUnauthorized,
	CodeRateLimited:     http.StatusTooManyRequests,
	CodeNoPin:           http.StatusConflict,
	CodeWrongPin:        http.StatusUnauthorized,
	CodeValidationError: http.StatusBadRequest,
	CodeUnknownAction:   http.StatusBadRequest,
	CodeNotFound:        http.StatusNotFound,
	CodeForbidden:       http.StatusForbidden,
	CodeInternalError:   http.StatusInternalServerError,
}

// StatusForCode returns the HTTP status used for an error code
func StatusForCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Result is the response envelope. Success carries Data; failure carries
// Error and Code.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Ok builds a success result
func Ok(data any) Result {
	return Result{Success: true, Data: data}
}

// Err builds a failure result
func Err(code, message string) Result {
	return Result{Success: false, Error: message, Code: code}
}

// Status returns the HTTP status for the result
func (r Result) Status() int {
	if r.Success {
		return http.StatusOK
	}
	return StatusForCode(r.Code)
}

func writeResult(w http.ResponseWriter, r *http.Request, result Result) {
	if info := appctx.ExtractRequestInfo(r.Context()); info != nil {
		info.Code = result.Code
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(result.Status())
	json.NewEncoder(w).Encode(result)
}
