package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInstrumentCountsKnownAndOtherPaths(t *testing.T) {
	m := New()
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), "/recipes")

	for _, p := range []string{"/recipes", "/recipes", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	body := scrape(t, m)
	for _, want := range []string{
		`recipeshare_http_requests_total{method="GET",path="/recipes",status="200"} 2`,
		`recipeshare_http_requests_total{method="GET",path="other",status="404"} 1`,
		"recipeshare_http_inflight_requests 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read exposition: %v", err)
	}
	return string(body)
}

func TestDomainCountersAreExposed(t *testing.T) {
	m := New()
	m.RecipeCreated()
	m.OrphanBlob("delete")
	m.SweepRun("ok")
	m.SweepDeleted(3)

	body := scrape(t, m)
	for _, want := range []string{
		"recipeshare_recipes_created_total 1",
		`recipeshare_orphan_blobs_total{source="delete"} 1`,
		`recipeshare_sweeper_runs_total{outcome="ok"} 1`,
		"recipeshare_sweeper_deleted_blobs_total 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}
