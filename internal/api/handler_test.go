package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kosumphisai/koshare/backend/internal/auth"
	"github.com/kosumphisai/koshare/backend/internal/checkin"
	"github.com/kosumphisai/koshare/backend/internal/counter"
	"github.com/kosumphisai/koshare/backend/internal/database/databasetest"
	"github.com/kosumphisai/koshare/backend/internal/middleware"
	"github.com/kosumphisai/koshare/backend/internal/repository"
)

const testAdminSecret = "admin-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newRouter(authority Authority, checkins CheckInService) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(authority, checkins, nil), middleware.Params(0))
	return r
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := databasetest.NewSQLite(t)
	counters := counter.NewSQLStore(db)

	authority := auth.NewAuthority(
		repository.NewSettingsRepo(db),
		repository.NewSessionRepository(db),
		counters,
		auth.NewTokenService(auth.TokenServiceConfig{Secret: "test-secret", TTL: 24 * time.Hour, Issuer: "koshare"}),
		auth.NewPinHasherWithIterations("salt", 1000),
		auth.AuthorityConfig{AdminSecret: testAdminSecret},
		nil,
	)
	checkins := checkin.NewService(
		repository.NewCheckInRepo(db),
		repository.NewThumbnailRepo(db),
		counters,
		checkin.Config{},
		nil,
	)
	return &testServer{t: t, router: newRouter(authority, checkins)}
}

func (s *testServer) get(query url.Values) (int, envelope) {
	s.t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api?"+query.Encode(), nil)
	return s.do(req)
}

func (s *testServer) post(path string, body any) (int, envelope) {
	s.t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		s.t.Fatalf("marshal failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")
	return s.do(req)
}

func (s *testServer) do(req *http.Request) (int, envelope) {
	s.t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("invalid envelope %q: %v", rec.Body.String(), err)
	}
	return rec.Code, env
}

func (s *testServer) login(pin string) string {
	s.t.Helper()
	status, env := s.post("/api", map[string]any{"action": "login", "pin": pin})
	if status != http.StatusOK || !env.Success {
		s.t.Fatalf("login failed: %d %+v", status, env)
	}
	var res auth.LoginResult
	decodeData(s.t, env, &res)
	if res.Token == "" || res.ExpiresIn != int64((24*time.Hour).Seconds()) {
		s.t.Fatalf("unexpected login result %+v", res)
	}
	return res.Token
}

func (s *testServer) setPin(pin string) {
	s.t.Helper()
	status, env := s.post("/api", map[string]any{"action": "setPin", "adminSecret": testAdminSecret, "pin": pin})
	if status != http.StatusOK || !env.Success {
		s.t.Fatalf("setPin failed: %d %+v", status, env)
	}
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func expectCode(t *testing.T, status int, env envelope, wantStatus int, wantCode string) {
	t.Helper()
	if env.Success {
		t.Fatalf("expected failure %s, got success %s", wantCode, env.Data)
	}
	if status != wantStatus || env.Code != wantCode {
		t.Fatalf("expected %d %s, got %d %s (%s)", wantStatus, wantCode, status, env.Code, env.Error)
	}
}

func thumbnailOfSize(n int) string {
	prefix := "data:image/jpeg;base64,"
	return prefix + strings.Repeat("Q", n-len(prefix))
}

func TestUnknownAction(t *testing.T) {
	s := newTestServer(t)

	status, env := s.get(url.Values{"action": {"dropTables"}})
	expectCode(t, status, env, http.StatusBadRequest, CodeUnknownAction)

	status, env = s.get(url.Values{})
	expectCode(t, status, env, http.StatusBadRequest, CodeUnknownAction)
}

func TestProtectedActionsRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, action := range []string{"saveCheckIn", "saveWithImage", "attachThumbnail", "deleteCheckIn", "changePin", "logout"} {
		status, env := s.post("/api", map[string]any{
			"action": action, "locationName": "x", "latitude": 1, "longitude": 1, "token": "forged",
		})
		expectCode(t, status, env, http.StatusUnauthorized, CodeAuthRequired)
	}

	_, env := s.get(url.Values{"action": {"getCheckIns"}})
	var page checkin.Page
	decodeData(t, env, &page)
	if page.Total != 0 {
		t.Errorf("rejected saves must not write, got %d rows", page.Total)
	}
}

func TestLoginFlow(t *testing.T) {
	s := newTestServer(t)

	status, env := s.post("/api", map[string]any{"action": "login", "pin": "1234"})
	expectCode(t, status, env, http.StatusConflict, CodeNoPin)

	status, env = s.post("/api", map[string]any{"action": "setPin", "adminSecret": "nope", "pin": "1234"})
	expectCode(t, status, env, http.StatusForbidden, CodeForbidden)

	status, env = s.post("/api", map[string]any{"action": "setPin", "adminSecret": testAdminSecret, "pin": "12"})
	expectCode(t, status, env, http.StatusBadRequest, CodeValidationError)

	s.setPin("1234")

	status, env = s.post("/api", map[string]any{"action": "login", "pin": "9999"})
	expectCode(t, status, env, http.StatusUnauthorized, CodeWrongPin)

	token := s.login("1234")

	_, env = s.get(url.Values{"action": {"verifyToken"}, "token": {token}})
	var verify map[string]bool
	decodeData(t, env, &verify)
	if !verify["valid"] {
		t.Error("expected token to verify")
	}

	req := httptest.NewRequest(http.MethodGet, "/exec?action=verifyToken", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, env := s.do(req); !strings.Contains(string(env.Data), "true") {
		t.Errorf("expected bearer token to verify on /exec, got %s", env.Data)
	}

	status, env = s.post("/api", map[string]any{"action": "logout", "token": token})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("logout failed: %d %+v", status, env)
	}
	_, env = s.get(url.Values{"action": {"verifyToken"}, "token": {token}})
	decodeData(t, env, &verify)
	if verify["valid"] {
		t.Error("token should be rejected after logout")
	}
}

func TestChangePin(t *testing.T) {
	s := newTestServer(t)
	s.setPin("1234")
	token := s.login("1234")

	status, env := s.post("/api", map[string]any{"action": "changePin", "token": token, "newPin": "567890"})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("changePin failed: %d %+v", status, env)
	}

	status, env = s.post("/api", map[string]any{"action": "login", "pin": "1234"})
	expectCode(t, status, env, http.StatusUnauthorized, CodeWrongPin)
	s.login("567890")
}

func TestSaveWithImageScenario(t *testing.T) {
	s := newTestServer(t)
	s.setPin("1234")
	token := s.login("1234")

	status, env := s.post("/api", map[string]any{
		"action": "saveCheckIn", "token": token,
		"locationName": "older", "latitude": 15.0, "longitude": 102.0,
	})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("saveCheckIn failed: %d %+v", status, env)
	}

	thumb := thumbnailOfSize(40 * 1024)
	status, env = s.post("/api", map[string]any{
		"action": "saveWithImage", "token": token,
		"locationName": "สวนสาธารณะ", "latitude": 16.2478, "longitude": 103.0650,
		"thumbnail": thumb,
	})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("saveWithImage failed: %d %+v", status, env)
	}
	var saved checkin.SaveResult
	decodeData(t, env, &saved)
	if saved.ID == "" || !saved.HasThumbnail {
		t.Fatalf("unexpected save result %+v", saved)
	}

	_, env = s.get(url.Values{"action": {"getCheckIns"}, "page": {"1"}, "limit": {"10"}})
	var page checkin.Page
	decodeData(t, env, &page)
	if len(page.Items) != 2 || page.Items[0].ID != saved.ID {
		t.Fatalf("expected new record first, got %+v", page.Items)
	}
	if page.Total != 2 || page.TotalPages != 1 || page.Limit != 10 {
		t.Errorf("unexpected page metadata %+v", page)
	}
	if strings.Contains(string(env.Data), "base64") {
		t.Error("listing must not include thumbnail data")
	}

	_, env = s.get(url.Values{"action": {"getThumbnail"}, "id": {saved.ID}})
	var got map[string]string
	decodeData(t, env, &got)
	if got["thumbnail"] != thumb || got["id"] != saved.ID {
		t.Errorf("thumbnail mismatch: %d bytes", len(got["thumbnail"]))
	}
}

func TestSaveWithOversizeImage(t *testing.T) {
	s := newTestServer(t)
	s.setPin("1234")
	token := s.login("1234")

	status, env := s.post("/api", map[string]any{
		"action": "saveWithImage", "token": token,
		"locationName": "big", "latitude": 16.2478, "longitude": 103.0650,
		"thumbnail": thumbnailOfSize(80 * 1024),
	})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("saveWithImage failed: %d %+v", status, env)
	}
	var saved checkin.SaveResult
	decodeData(t, env, &saved)
	if saved.HasThumbnail {
		t.Error("oversize thumbnail should be dropped")
	}

	_, env = s.get(url.Values{"action": {"getThumbnail"}, "id": {saved.ID}})
	var got map[string]string
	decodeData(t, env, &got)
	if got["thumbnail"] != "" {
		t.Errorf("expected empty thumbnail, got %d bytes", len(got["thumbnail"]))
	}
}

func TestAttachAndDelete(t *testing.T) {
	s := newTestServer(t)
	s.setPin("1234")
	token := s.login("1234")

	_, env := s.post("/api", map[string]any{
		"action": "saveCheckIn", "token": token,
		"locationName": "two phase", "latitude": 1, "longitude": 1,
	})
	var saved checkin.SaveResult
	decodeData(t, env, &saved)

	status, env := s.post("/api", map[string]any{
		"action": "attachThumbnail", "token": token, "id": saved.ID, "thumbnail": "data:image/jpeg;base64,AAAA",
	})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("attachThumbnail failed: %d %+v", status, env)
	}

	status, env = s.post("/api", map[string]any{"action": "deleteCheckIn", "token": token, "id": saved.ID})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("deleteCheckIn failed: %d %+v", status, env)
	}

	status, env = s.post("/api", map[string]any{"action": "deleteCheckIn", "token": token, "id": saved.ID})
	expectCode(t, status, env, http.StatusNotFound, CodeNotFound)

	status, env = s.post("/api", map[string]any{
		"action": "attachThumbnail", "token": token, "id": saved.ID, "thumbnail": "data:image/jpeg;base64,BBBB",
	})
	expectCode(t, status, env, http.StatusNotFound, CodeNotFound)

	_, env = s.get(url.Values{"action": {"getThumbnail"}, "id": {saved.ID}})
	if strings.Contains(string(env.Data), "BBBB") {
		t.Error("attach after delete must not store a thumbnail")
	}
}

func TestSaveValidation(t *testing.T) {
	s := newTestServer(t)
	s.setPin("1234")
	token := s.login("1234")

	cases := []map[string]any{
		{"locationName": "x", "latitude": 91, "longitude": 0},
		{"locationName": "x", "latitude": 0, "longitude": -181},
		{"locationName": "<script>x</script>", "latitude": 0, "longitude": 0},
		{"locationName": "x", "latitude": "north", "longitude": 0},
		{"locationName": "x"},
	}
	for _, c := range cases {
		c["action"] = "saveCheckIn"
		c["token"] = token
		status, env := s.post("/api", c)
		expectCode(t, status, env, http.StatusBadRequest, CodeValidationError)
	}
}

func TestDataBagParameters(t *testing.T) {
	s := newTestServer(t)
	s.setPin("1234")
	token := s.login("1234")

	data, _ := json.Marshal(map[string]any{"locationName": "bag", "latitude": 10.5, "longitude": 99.25})
	q := url.Values{"action": {"saveCheckIn"}, "token": {token}, "data": {string(data)}}
	status, env := s.get(q)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("GET save with data bag failed: %d %+v", status, env)
	}
	var saved checkin.SaveResult
	decodeData(t, env, &saved)
	if saved.LocationName != "bag" || saved.Latitude != 10.5 || saved.Longitude != 99.25 {
		t.Errorf("unexpected save %+v", saved)
	}
}

func TestStatsActions(t *testing.T) {
	s := newTestServer(t)

	for i := 1; i <= 2; i++ {
		_, env := s.get(url.Values{"action": {"incrementVisit"}})
		var got map[string]int64
		decodeData(t, env, &got)
		if got["visitCount"] != int64(i) {
			t.Errorf("expected visitCount %d, got %d", i, got["visitCount"])
		}
	}

	_, env := s.get(url.Values{"action": {"getStats"}})
	var stats checkin.Stats
	decodeData(t, env, &stats)
	if stats.VisitCount != 2 || stats.TotalLocations != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// stubAuthority returns fixed results for error mapping tests
type stubAuthority struct {
	loginErr error
}

func (a stubAuthority) Login(context.Context, string) (*auth.LoginResult, error) {
	return nil, a.loginErr
}
func (stubAuthority) Verify(context.Context, string) bool  { return true }
func (stubAuthority) Logout(context.Context, string) error { return nil }
func (stubAuthority) SetCredentialAsAdmin(context.Context, string, string) error {
	return nil
}
func (stubAuthority) ChangeCredential(context.Context, string, string) error { return nil }

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{auth.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{auth.ErrWrongCredential, http.StatusUnauthorized, CodeWrongPin},
		{auth.ErrNoCredential, http.StatusConflict, CodeNoPin},
		{errors.New("connection refused to 10.0.0.5"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			router := newRouter(stubAuthority{loginErr: tt.err}, nil)
			s := &testServer{t: t, router: router}

			status, env := s.post("/api", map[string]any{"action": "login", "pin": "1234"})
			expectCode(t, status, env, tt.wantStatus, tt.wantCode)
			if strings.Contains(env.Error, "10.0.0.5") {
				t.Error("internal error text leaked to client")
			}
		})
	}
}
