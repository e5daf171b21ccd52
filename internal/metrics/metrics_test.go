package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kosumphisai/koshare/backend/internal/database/databasetest"
)

func TestMiddlewareWithChiRouter(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api?action=getStats", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api", "200")); got != 1 {
		t.Errorf("Expected one request recorded for /api, got %v", got)
	}
}

func TestMiddleware_UnmatchedPathsShareALabel(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api", func(w http.ResponseWriter, r *http.Request) {})

	for _, p := range []string{"/a", "/b/c", "/zzz"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 3 {
		t.Errorf("Expected 3 unmatched requests, got %v", got)
	}
	if got := testutil.CollectAndCount(HTTPRequestsTotal); got != 1 {
		t.Errorf("Expected a single series for unmatched paths, got %d", got)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	if rw.statusCode != http.StatusCreated {
		t.Errorf("Expected status code 201, got %d", rw.statusCode)
	}

	data := []byte("Hello, World!")
	n, err := rw.Write(data)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if n != len(data) || rw.size != len(data) {
		t.Errorf("Expected size %d, got n=%d size=%d", len(data), n, rw.size)
	}
}

func TestCheckInObserver(t *testing.T) {
	CheckInsSaved.Reset()
	ThumbnailsDropped.Reset()

	obs := CheckInObserver{}
	obs.CheckInSaved(true)
	obs.CheckInSaved(false)
	obs.CheckInSaved(false)
	obs.ThumbnailDropped("too_large")

	if got := testutil.ToFloat64(CheckInsSaved.WithLabelValues("false")); got != 2 {
		t.Errorf("Expected 2 saves without thumbnail, got %v", got)
	}
	if got := testutil.ToFloat64(ThumbnailsDropped.WithLabelValues("too_large")); got != 1 {
		t.Errorf("Expected 1 dropped thumbnail, got %v", got)
	}

	before := testutil.ToFloat64(CheckInsDeleted)
	obs.CheckInDeleted()
	if got := testutil.ToFloat64(CheckInsDeleted); got != before+1 {
		t.Errorf("Expected delete counter to increase")
	}
}

func TestRecordAction_DefaultsToOK(t *testing.T) {
	ActionsTotal.Reset()
	RecordAction("getStats", "")
	RecordAction("login", "WRONG_PIN")

	if got := testutil.ToFloat64(ActionsTotal.WithLabelValues("getStats", "OK")); got != 1 {
		t.Errorf("Expected OK action recorded, got %v", got)
	}
	if got := testutil.ToFloat64(ActionsTotal.WithLabelValues("login", "WRONG_PIN")); got != 1 {
		t.Errorf("Expected WRONG_PIN action recorded, got %v", got)
	}
}

func TestDBStatsCollector(t *testing.T) {
	db := databasetest.NewSQLite(t)
	if err := PingDatabase(context.Background(), db.DB); err != nil {
		t.Fatalf("PingDatabase failed: %v", err)
	}

	c := NewDBStatsCollector(db.DB, nil)
	c.Collect()
	if got := testutil.ToFloat64(DBConnectionsMaxOpen); got != 1 {
		t.Errorf("Expected sqlite max open connections 1, got %v", got)
	}
	c.Stop()
	c.Stop()
}

func TestHandler(t *testing.T) {
	RecordAction("getCheckIns", "")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Expected text/plain content type, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "koshare_api_actions_total") {
		t.Errorf("Expected body to contain koshare_api_actions_total metric")
	}
}
