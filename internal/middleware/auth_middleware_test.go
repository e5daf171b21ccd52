package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	appctx "github.com/kosumphisai/koshare/backend/internal/context"
	"github.com/kosumphisai/koshare/backend/internal/counter"
	"github.com/kosumphisai/koshare/backend/internal/logger"
)

// staticVerifier accepts exactly one token
type staticVerifier struct {
	valid string
}

func (v staticVerifier) Verify(_ context.Context, token string) bool {
	return token != "" && token == v.valid
}

func tokenEchoHandler() (http.Handler, *bool) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		token, ok := appctx.ExtractToken(r.Context())
		if !ok || token == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(token))
	})
	return handler, &called
}

func decodeError(t interface{ Fatalf(string, ...any) }, rec *httptest.ResponseRecorder) ErrorResponse {
	var response ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

func TestAuthenticate_MissingTokenReturns401(t *testing.T) {
	mw := NewAuthMiddleware(staticVerifier{valid: "good"})
	handler, called := tokenEchoHandler()

	rec := httptest.NewRecorder()
	Params(0)(mw.Authenticate(handler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api?action=saveCheckIn", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if *called {
		t.Error("handler should not be called without a token")
	}
	resp := decodeError(t, rec)
	if resp.Success || resp.Code != CodeAuthRequired {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestAuthenticate_InvalidTokenReturns401(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		token := rapid.StringMatching(`[a-zA-Z0-9._-]{1,60}`).Draw(t, "token")
		useHeader := rapid.Bool().Draw(t, "useHeader")

		mw := NewAuthMiddleware(staticVerifier{valid: "good~token"})
		handler, called := tokenEchoHandler()

		req := httptest.NewRequest(http.MethodGet, "/api?action=deleteCheckIn&token="+token, nil)
		if useHeader {
			req = httptest.NewRequest(http.MethodGet, "/api?action=deleteCheckIn", nil)
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		Params(0)(mw.Authenticate(handler)).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
		if *called {
			t.Error("handler should not be called for an invalid token")
		}
		if resp := decodeError(t, rec); resp.Code != CodeAuthRequired {
			t.Errorf("expected AUTH_REQUIRED, got %s", resp.Code)
		}
	})
}

func TestAuthenticate_ValidTokenPassesThrough(t *testing.T) {
	mw := NewAuthMiddleware(staticVerifier{valid: "good"})

	cases := map[string]*http.Request{
		"query param": httptest.NewRequest(http.MethodGet, "/api?token=good", nil),
		"json body":   httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(`{"token":"good"}`)),
	}
	header := httptest.NewRequest(http.MethodGet, "/api", nil)
	header.Header.Set("Authorization", "bearer good")
	cases["bearer header"] = header

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			handler, called := tokenEchoHandler()
			rec := httptest.NewRecorder()
			Params(0)(mw.Authenticate(handler)).ServeHTTP(rec, req)

			if rec.Code != http.StatusOK || !*called {
				t.Fatalf("expected pass through, got %d", rec.Code)
			}
			if rec.Body.String() != "good" {
				t.Errorf("expected token in context, got %q", rec.Body.String())
			}
		})
	}
}

func captureParams(t *testing.T, req *http.Request) appctx.Params {
	t.Helper()
	var got appctx.Params
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = appctx.ExtractParams(r.Context())
	})
	rec := httptest.NewRecorder()
	Params(0)(handler).ServeHTTP(rec, req)
	if got == nil {
		t.Fatalf("handler not reached, status %d body %s", rec.Code, rec.Body.String())
	}
	return got
}

func TestParams_MergeOrder(t *testing.T) {
	body := `{"action":"saveCheckIn","latitude":16.2478,"flag":true,"nested":{"a":1},"gone":null}`
	req := httptest.NewRequest(http.MethodPost, "/api?action=getCheckIns&page=2", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	p := captureParams(t, req)
	if p.Get("action") != "saveCheckIn" {
		t.Errorf("body should override query, got %q", p.Get("action"))
	}
	if p.Int("page", 0) != 2 {
		t.Errorf("expected query page 2, got %q", p.Get("page"))
	}
	if lat, ok := p.Float("latitude"); !ok || lat != 16.2478 {
		t.Errorf("expected latitude, got %v %v", lat, ok)
	}
	if p.Get("flag") != "true" {
		t.Errorf("expected flag true, got %q", p.Get("flag"))
	}
	if p.Get("nested") != `{"a":1}` {
		t.Errorf("expected raw nested JSON, got %q", p.Get("nested"))
	}
	if _, ok := p["gone"]; ok {
		t.Error("null values should be skipped")
	}
}

func TestParams_FormAndDataBag(t *testing.T) {
	form := "action=saveWithImage&data=" + `%7B%22locationName%22%3A%22Park%22%2C%22action%22%3A%22saveCheckIn%22%7D`
	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	p := captureParams(t, req)
	if p.Get("locationName") != "Park" {
		t.Errorf("expected data bag field, got %q", p.Get("locationName"))
	}
	if p.Get("action") != "saveCheckIn" {
		t.Errorf("data bag should override form, got %q", p.Get("action"))
	}
}

func TestParams_RejectsBadInput(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(`{"action":`))
		Params(0)(http.NotFoundHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != CodeValidationError {
			t.Errorf("expected validation error, got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("bad data bag", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api?data=notjson", nil)
		Params(0)(http.NotFoundHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := `{"thumbnail":"` + strings.Repeat("A", 200) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
		Params(64)(http.NotFoundHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d", rec.Code)
		}
	})
}

func TestParams_NonJSONBodyIgnored(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api?action=getStats", strings.NewReader("hello"))
	p := captureParams(t, req)
	if p.Get("action") != "getStats" {
		t.Errorf("expected query params kept, got %v", p)
	}
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := counter.NewMemoryStoreWithClock(func() time.Time { return now })
	rl := NewRateLimiter(store, 3, time.Minute, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		if rec := do("10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do("10.0.0.1:5678")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if decodeError(t, rec).Code != CodeRateLimited {
		t.Errorf("expected RATE_LIMITED code")
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
	}

	if rec := do("10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("other clients should not be limited, got %d", rec.Code)
	}

	now = now.Add(time.Minute)
	if rec := do("10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Errorf("expected new window to allow request, got %d", rec.Code)
	}
}

func TestLoggingMiddleware_RecordsActionAndCode(t *testing.T) {
	var buf strings.Builder
	log := logger.NewWithWriter(logger.Config{Level: "debug", Format: "json"}, &buf)

	handler := StructuredLogger(log)(Params(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusUnauthorized, CodeAuthRequired, "no")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api?action=saveCheckIn&token=secret-token", nil))

	out := buf.String()
	if !strings.Contains(out, `"action":"saveCheckIn"`) || !strings.Contains(out, `"code":"AUTH_REQUIRED"`) {
		t.Errorf("expected action and code in log, got %s", out)
	}
	if strings.Contains(out, "secret-token") {
		t.Error("token leaked into request log")
	}
}
