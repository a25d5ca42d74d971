package direct_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/metrics"
	"github.com/tinklegames/tinkle-proxy-service/service/direct"
	"github.com/tinklegames/tinkle-proxy-service/service/rewrite"
)

func newFetcher() *direct.Fetcher {
	return direct.NewFetcher(direct.FetcherConfig{Timeout: 5 * time.Second}, logging.NewNop())
}

func newRewritingAdapter(maxBodyBytes int64) *direct.RewritingAdapter {
	return direct.NewRewritingAdapter(direct.RewritingAdapterConfig{
		Engine:       rewrite.New(rewrite.DefaultProxyPrefix),
		Fetcher:      newFetcher(),
		Timeout:      5 * time.Second,
		MaxBodyBytes: maxBodyBytes,
		Metrics:      metrics.New(),
	}, logging.NewNop())
}

func newDestination(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestUnitTestTargetFromPath(t *testing.T) {
	testCases := []struct {
		name       string
		requestURI string
		expected   string
	}{
		{
			name:       "absolute target",
			requestURI: "/proxy/https://example.com/a/b",
			expected:   "https://example.com/a/b",
		},
		{
			name:       "query string is kept",
			requestURI: "/proxy/https://example.com/search?q=go&page=2",
			expected:   "https://example.com/search?q=go&page=2",
		},
		{
			name:       "collapsed scheme slashes are repaired",
			requestURI: "/proxy/https:/example.com/a",
			expected:   "https://example.com/a",
		},
		{
			name:       "collapsed http scheme",
			requestURI: "/proxy/http:/example.com/",
			expected:   "http://example.com/",
		},
		{
			name:       "bare host gets https",
			requestURI: "/proxy/example.com",
			expected:   "https://example.com",
		},
		{
			name:       "percent encoded target",
			requestURI: "/proxy/https%3A%2F%2Fexample.com%2Fa%3Fb%3D1",
			expected:   "https://example.com/a?b=1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			target, err := direct.TargetFromPath(httptest.NewRequest(http.MethodGet, tc.requestURI, nil), rewrite.DefaultProxyPrefix)
			require.NoError(t, err)
			require.Equal(t, tc.expected, target.String())
		})
	}
}

func TestUnitTestTargetFromPathMissing(t *testing.T) {
	_, err := direct.TargetFromPath(httptest.NewRequest(http.MethodGet, "/proxy/", nil), rewrite.DefaultProxyPrefix)
	require.ErrorIs(t, err, direct.ErrMissingTarget)
}

func TestUnitTestRewritingAdapterMissingTarget(t *testing.T) {
	rec := httptest.NewRecorder()
	newRewritingAdapter(1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Please provide a URL", rec.Body.String())
}

func TestUnitTestRewritingAdapterRewritesHTML(t *testing.T) {
	destination := newDestination(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, direct.SpoofedUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, direct.SpoofedAccept, r.Header.Get("Accept"))
		assert.Equal(t, direct.SpoofedAcceptLanguage, r.Header.Get("Accept-Language"))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Frame-Options", "DENY")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><head><title>t</title></head><body><a href="/x">x</a><img src="data:image/png;base64,AAAA"></body></html>`))
	})

	rec := httptest.NewRecorder()
	newRewritingAdapter(1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+destination.URL+"/page", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	// only the forced headers are returned for rewritten documents
	require.Empty(t, rec.Header().Get("X-Frame-Options"))

	body := rec.Body.String()
	require.Contains(t, body, `href="/proxy/`+destination.URL+`/x"`)
	require.Contains(t, body, `src="data:image/png;base64,AAAA"`)
	require.Contains(t, body, `<head><base href="`+destination.URL+`/page">`)
}

func TestUnitTestRewritingAdapterRelaysAlreadyRewrittenDocuments(t *testing.T) {
	adapter := newRewritingAdapter(1 << 20)
	destination := newDestination(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head></head><body><a href="/proxy/docs">docs</a></body></html>`))
	})
	// a second proxy in front of the destination
	upstreamProxy := newDestination(t, adapter.ServeHTTP)

	rec := httptest.NewRecorder()
	newRewritingAdapter(1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+destination.URL+"/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true", rec.Header().Get(direct.RewrittenHeaderKey))
	// a real /proxy/ directory of the destination is wrapped like any other path
	once := rec.Body.String()
	require.Contains(t, once, `href="/proxy/`+destination.URL+`/proxy/docs"`)

	rec = httptest.NewRecorder()
	adapter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+upstreamProxy.URL+"/proxy/"+destination.URL+"/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, once, rec.Body.String())
}

func TestUnitTestRewritingAdapterUsesFinalURLAsBase(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/final", http.StatusFound)
	})
	mux.HandleFunc("/docs/final", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<head></head><a href="next">next</a>`))
	})
	destination := newDestination(t, mux.ServeHTTP)

	rec := httptest.NewRecorder()
	newRewritingAdapter(1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+destination.URL+"/start", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `href="/proxy/`+destination.URL+`/docs/next"`)
}

func TestUnitTestRewritingAdapterRewritesCSS(t *testing.T) {
	destination := newDestination(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write([]byte(`body { background: url("img/bg.png"); }`))
	})

	rec := httptest.NewRecorder()
	newRewritingAdapter(1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+destination.URL+"/css/site.css", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/css", rec.Header().Get("Content-Type"))
	require.Equal(t, "max-age=60", rec.Header().Get("Cache-Control"))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, `body { background: url("/proxy/`+destination.URL+`/css/img/bg.png"); }`, rec.Body.String())
}

func TestUnitTestRewritingAdapterStreamsOtherContent(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 1, 2, 3}
	destination := newDestination(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(payload)
	})

	rec := httptest.NewRecorder()
	newRewritingAdapter(1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+destination.URL+"/logo.png", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, payload, rec.Body.Bytes())
}

func TestUnitTestRewritingAdapterSniffsUntypedHTML(t *testing.T) {
	destination := newDestination(t, func(w http.ResponseWriter, r *http.Request) {
		// keep the server from setting a content type of its own
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte(`<!DOCTYPE html><html><head></head><body><a href="/x">x</a></body></html>`))
	})

	rec := httptest.NewRecorder()
	newRewritingAdapter(1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+destination.URL+"/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), `href="/proxy/`+destination.URL+`/x"`)
}

func TestUnitTestRewritingAdapterDocumentTooLarge(t *testing.T) {
	destination := newDestination(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("<p>filler</p>", 100)))
	})

	rec := httptest.NewRecorder()
	newRewritingAdapter(64).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+destination.URL+"/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Proxy error: "+direct.ErrDocumentTooLarge.Error(), rec.Body.String())
}

func TestUnitTestRewritingAdapterFetchFailure(t *testing.T) {
	destination := httptest.NewServer(http.NotFoundHandler())
	destinationURL := destination.URL
	destination.Close()

	rec := httptest.NewRecorder()
	newRewritingAdapter(1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/"+destinationURL+"/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.HasPrefix(rec.Body.String(), "Proxy error: "), rec.Body.String())
}

func TestUnitTestEpoxyAdapterRequiresURL(t *testing.T) {
	adapter := direct.NewEpoxyAdapter(newFetcher(), time.Second, nil, logging.NewNop())

	rec := httptest.NewRecorder()
	adapter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/epoxy/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing URL parameter for Epoxy", rec.Body.String())

	rec = httptest.NewRecorder()
	adapter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/epoxy/?url=/relative", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnitTestEpoxyAdapterRelaysUnmodified(t *testing.T) {
	document := `<html><head></head><a href="/x">x</a></html>`
	destination := newDestination(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, direct.SpoofedUserAgent, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Destination", "kept")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(document))
	})
	adapter := direct.NewEpoxyAdapter(newFetcher(), time.Second, metrics.New(), logging.NewNop())

	rec := httptest.NewRecorder()
	adapter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/epoxy/?url="+url.QueryEscape(destination.URL+"/page"), nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, document, rec.Body.String())
	require.Equal(t, "kept", rec.Header().Get("X-Destination"))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestUnitTestEpoxyAdapterFetchFailure(t *testing.T) {
	destination := httptest.NewServer(http.NotFoundHandler())
	destinationURL := destination.URL
	destination.Close()

	adapter := direct.NewEpoxyAdapter(newFetcher(), time.Second, nil, logging.NewNop())

	rec := httptest.NewRecorder()
	adapter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/epoxy/?url="+url.QueryEscape(destinationURL), nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.HasPrefix(rec.Body.String(), "Epoxy error: "), rec.Body.String())
}
