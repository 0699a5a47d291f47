package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/affiliates/{affiliate_id}/stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", m.Handler().ServeHTTP)

	req := httptest.NewRequest("GET", "/affiliates/abc/stats", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body := rr.Body.String()
	if !strings.Contains(body, `route="/affiliates/{affiliate_id}/stats"`) {
		t.Errorf("Expected route pattern label in metrics output, got:\n%s", body)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.ConfirmOutcomes.WithLabelValues("created").Inc()
	m.ConfirmOutcomes.WithLabelValues("created").Inc()

	if got := testutil.ToFloat64(m.ConfirmOutcomes.WithLabelValues("created")); got != 2 {
		t.Errorf("Expected 2, got %v", got)
	}
}
