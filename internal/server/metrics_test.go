package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := newTestServer()
	s.metrics = newServerMetrics(reg)
	return s, reg
}

// counterValue finds a counter by name and label pair in the gathered
// families. Returns -1 when the series is absent.
func counterValue(t *testing.T, reg *prometheus.Registry, name, labelName, labelValue string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelName == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == labelName && lp.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_SearchCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/search",
		strings.NewReader(`{"query":"reset password"}`))
	w := httptest.NewRecorder()
	s.handleSearch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("search: want 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if got := counterValue(t, reg, "supportagent_search_requests_total", "outcome", "ok"); got != 1 {
		t.Errorf("search_requests_total{outcome=ok}: want 1, got %v", got)
	}
}

func Test_Metrics_IngestCountersIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)
	s.pipeline = &fakeIngestor{result: sampleIngestResult(3)}

	req := httptest.NewRequest(http.MethodPost, "/api/documents",
		strings.NewReader(`{"title":"Billing FAQ","content":"Refunds take 5 days."}`))
	w := httptest.NewRecorder()
	s.handleCreateDocument(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: want 201, got %d — body: %s", w.Code, w.Body.String())
	}
	if got := counterValue(t, reg, "supportagent_ingest_documents_total", "outcome", "ok"); got != 1 {
		t.Errorf("ingest_documents_total{outcome=ok}: want 1, got %v", got)
	}
	if got := counterValue(t, reg, "supportagent_ingest_chunks_total", "", ""); got != 3 {
		t.Errorf("ingest_chunks_total: want 3, got %v", got)
	}
}

func Test_Metrics_InstrumentRecordsRequests(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	h := s.instrument("health", s.handleHealth)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got := counterValue(t, reg, "supportagent_http_requests_total", "handler", "health"); got != 1 {
		t.Errorf("http_requests_total{handler=health}: want 1, got %v", got)
	}
}

func Test_Metrics_CacheHitRateGauge(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()

	registerCacheGauge(reg, func() float64 { return 0.75 })

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "supportagent_embed_cache_hit_ratio" {
			v := mf.GetMetric()[0].GetGauge().GetValue()
			if v != 0.75 {
				t.Errorf("want hit ratio 0.75, got %v", v)
			}
			return
		}
	}
	t.Error("supportagent_embed_cache_hit_ratio not found in gathered metrics")
}
