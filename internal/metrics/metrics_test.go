package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzReturnsOK(t *testing.T) {
	m := New()
	srv := httptest.NewServer(m.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	m := New()
	m.StoriesAssigned.Inc()
	srv := httptest.NewServer(m.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	// Each Metrics owns its own registry, so constructing a second
	// instance in the same process must not panic on duplicate
	// registration.
	New()
	New()
}
