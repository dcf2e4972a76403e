package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mysqlwire/client/internal/metrics"
)

func newTestRouter(m *metrics.Collector) (*Server, *mux.Router) {
	s := NewServer(nil, m)

	mr := mux.NewRouter()
	mr.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	mr.HandleFunc("/stats", s.statsHandler).Methods("GET")
	if m != nil {
		mr.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	return s, mr
}

func TestHealthzReturnsOK(t *testing.T) {
	_, mr := newTestRouter(nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}

func TestStatsReturnsGoVersionAndUptime(t *testing.T) {
	_, mr := newTestRouter(nil)

	req := httptest.NewRequest("GET", "/stats", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body statsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.GoVersion == "" {
		t.Error("expected a non-empty go_version")
	}
	if body.PoolSize != 0 {
		t.Errorf("expected pool_size 0 with no pool wired, got %d", body.PoolSize)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	m := metrics.New()
	m.PoolExhausted()
	_, mr := newTestRouter(m)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "mysqlwire_pool_exhausted_total") {
		t.Error("expected exported metric name in /metrics output")
	}
}
