package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinklegames/tinkle-proxy-service/metrics"
)

func scrape(t *testing.T, m *metrics.Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestUnitTestMetricsObserve(t *testing.T) {
	m := metrics.New()

	m.ObserveCacheLookup("tinkle-app-v1", metrics.CacheResultHit)
	m.ObserveCacheLookup("", metrics.CacheResultMiss)
	m.ObserveBareServerSelection("https://bare.one/")
	m.ObserveUpstreamError("bare")
	m.SetLifecycleState("active", []string{"installing", "active"})

	body := scrape(t, m)

	require.Contains(t, body, `tinkle_proxy_cache_lookups_total{namespace="tinkle-app-v1",result="hit"} 1`)
	require.Contains(t, body, `tinkle_proxy_cache_lookups_total{namespace="any",result="miss"} 1`)
	require.Contains(t, body, `tinkle_proxy_bare_server_selections_total{server="https://bare.one/"} 1`)
	require.Contains(t, body, `tinkle_proxy_upstream_errors_total{adapter="bare"} 1`)
	require.Contains(t, body, `tinkle_proxy_lifecycle_state{state="active"} 1`)
	require.Contains(t, body, `tinkle_proxy_lifecycle_state{state="installing"} 0`)
}

func TestUnitTestMetricsNilIsNoop(t *testing.T) {
	var m *metrics.Metrics

	require.NotPanics(t, func() {
		m.ObserveCacheLookup("x", metrics.CacheResultHit)
		m.ObserveBareServerSelection("x")
		m.ObserveUpstreamError("x")
		m.SetLifecycleState("x", []string{"x"})
	})
}

func TestUnitTestMetricsRegistriesAreIndependent(t *testing.T) {
	first := metrics.New()
	second := metrics.New()

	first.ObserveUpstreamError("proxy")

	require.Contains(t, scrape(t, first), `tinkle_proxy_upstream_errors_total{adapter="proxy"} 1`)
	require.NotContains(t, scrape(t, second), `tinkle_proxy_upstream_errors_total{adapter="proxy"}`)
}
