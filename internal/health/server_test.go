package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bilal/dashline-agent/internal/metrics"
)

func TestHealthEndpoint(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	s.SetRunning(true)
	s.SetSourceHealthy(false)
	s.SetLinkState("LINK_DEGRADED")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["running"] != true || body["source_ok"] != false || body["link_state"] != "LINK_DEGRADED" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := metrics.NewProm(reg)
	p.IncCounter(metrics.LinesEmitted, 3)

	s := New("127.0.0.1:0", reg)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dashline_lines_emitted_total 3") {
		t.Fatalf("expected emitted counter in output, got:\n%s", rec.Body.String())
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a gatherer, got %d", rec.Code)
	}
}
