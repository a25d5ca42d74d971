package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tinklegames/tinkle-proxy-service/clients/cache"
	"github.com/tinklegames/tinkle-proxy-service/clients/origin"
	"github.com/tinklegames/tinkle-proxy-service/decode"
	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/metrics"
	"github.com/tinklegames/tinkle-proxy-service/service/cachemdw"
	"github.com/tinklegames/tinkle-proxy-service/service/lifecycle"
	"github.com/tinklegames/tinkle-proxy-service/service/respond"
)

// Fixed local assets requests are redirected to
const (
	BareWorkerAssetPath = "/baremux/worker.js"
	UVWorkerAssetPath   = "/uv/uv.sw.js"
)

// AssetHandlers serve the service's own assets, cache first with the origin as fallback
type AssetHandlers struct {
	store        *cachemdw.Store
	lifecycle    *lifecycle.Manager
	origin       origin.Origin
	metrics      *metrics.Metrics
	appEntryPath string
	maxBodyBytes int64

	*logging.ServiceLogger
}

func NewAssetHandlers(
	store *cachemdw.Store,
	lifecycleManager *lifecycle.Manager,
	assetOrigin origin.Origin,
	metrics *metrics.Metrics,
	appEntryPath string,
	maxBodyBytes int64,
	logger *logging.ServiceLogger,
) *AssetHandlers {
	return &AssetHandlers{
		store:         store,
		lifecycle:     lifecycleManager,
		origin:        assetOrigin,
		metrics:       metrics,
		appEntryPath:  appEntryPath,
		maxBodyBytes:  maxBodyBytes,
		ServiceLogger: logger,
	}
}

// assetRequest is r asking for assetURI instead
func assetRequest(r *http.Request, assetURI string) (*http.Request, error) {
	request, err := http.NewRequestWithContext(r.Context(), r.Method, assetURI, nil)
	if err != nil {
		return nil, err
	}
	request.Header = r.Header.Clone()

	return request, nil
}

// lookup matches r in namespace, or in every namespace when namespace is nil.
// Storage failures count as a miss.
func (h *AssetHandlers) lookup(ctx context.Context, namespace *cachemdw.Namespace, r *http.Request) *cachemdw.StoredResponse {
	if !cachemdw.IsRequestCacheable(r) {
		return nil
	}

	var (
		resp *cachemdw.StoredResponse
		name string
		err  error
	)
	if namespace != nil {
		name = namespace.Name()
		resp, err = namespace.Match(ctx, r)
	} else {
		resp, name, err = h.store.Match(ctx, r)
	}

	switch {
	case err == nil:
		h.metrics.ObserveCacheLookup(name, metrics.CacheResultHit)
		return resp
	case errors.Is(err, cache.ErrNotFound):
		h.metrics.ObserveCacheLookup(name, metrics.CacheResultMiss)
	default:
		h.metrics.ObserveCacheLookup(name, metrics.CacheResultError)
		h.Logger.Error().
			Str("url", r.URL.String()).
			Err(err).
			Msg("cache unavailable, falling back to network")
	}

	return nil
}

// fetch asks the origin for the request uri of r
func (h *AssetHandlers) fetch(r *http.Request) (*cachemdw.StoredResponse, error) {
	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		raw, err := decode.ReadBody(r, h.maxBodyBytes)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			body = bytes.NewReader(raw)
		}
	}

	response, err := h.origin.Fetch(r.Context(), r.Method, r.URL.RequestURI(), body)
	if err != nil {
		return nil, err
	}

	return cachemdw.NewStoredResponse(response.Status, response.Header, response.Body), nil
}

// populate stores resp in namespace, failing silently
func (h *AssetHandlers) populate(ctx context.Context, namespace *cachemdw.Namespace, r *http.Request, resp *cachemdw.StoredResponse) {
	if namespace == nil || r.Method != http.MethodGet || !resp.IsCacheable() {
		return
	}

	if err := namespace.Put(ctx, r, resp); err != nil {
		h.Logger.Error().
			Str("namespace", namespace.Name()).
			Str("url", r.URL.String()).
			Err(err).
			Msg("failed to populate cache")
	}
}

// serveCached serves r from namespace, then from the origin, populating
// populateNamespace with what the origin returned. It reports false when
// neither could answer.
func (h *AssetHandlers) serveCached(w http.ResponseWriter, r *http.Request, namespace *cachemdw.Namespace, populateNamespace *cachemdw.Namespace) bool {
	if resp := h.lookup(r.Context(), namespace, r); resp != nil {
		resp.Write(w, r, cachemdw.CacheHitHeaderValue)
		return true
	}

	resp, err := h.fetch(r)
	if err != nil {
		h.Logger.Error().
			Str("url", r.URL.String()).
			Err(err).
			Msg("failed to fetch asset from origin")
		return false
	}

	h.populate(r.Context(), populateNamespace, r, resp)
	resp.Write(w, r, cachemdw.CacheMissHeaderValue)

	return true
}

// ServeApp answers the root path with the app entry page
func (h *AssetHandlers) ServeApp(w http.ResponseWriter, r *http.Request) {
	entryRequest, err := assetRequest(r, h.appEntryPath)
	if err != nil {
		respond.Text(w, http.StatusInternalServerError, "App not available")
		return
	}

	// any generation's copy of the page will do
	if !h.serveCached(w, entryRequest, nil, h.lifecycle.AppNamespace()) {
		respond.Text(w, http.StatusInternalServerError, "App not available")
	}
}

// ServeAppEntry answers the app entry path
func (h *AssetHandlers) ServeAppEntry(w http.ResponseWriter, r *http.Request) {
	app := h.lifecycle.AppNamespace()
	if !h.serveCached(w, r, app, app) {
		respond.Text(w, http.StatusInternalServerError, "Page not available")
	}
}

// ServeBareStatic answers the static files of the bare client library,
// every worker script request is served the one worker
func (h *AssetHandlers) ServeBareStatic(w http.ResponseWriter, r *http.Request) {
	request := r
	if strings.Contains(r.URL.Path, "worker") {
		workerRequest, err := assetRequest(r, BareWorkerAssetPath)
		if err != nil {
			networkError(w)
			return
		}
		request = workerRequest
	}

	if !h.serveCached(w, request, nil, nil) {
		networkError(w)
	}
}

// ServeUV answers the files of the uv client library. A worker script
// request that misses the cache is served the uv worker script.
func (h *AssetHandlers) ServeUV(w http.ResponseWriter, r *http.Request) {
	if resp := h.lookup(r.Context(), nil, r); resp != nil {
		resp.Write(w, r, cachemdw.CacheHitHeaderValue)
		return
	}

	request := r
	if strings.Contains(r.URL.Path, "sw.js") {
		workerRequest, err := assetRequest(r, UVWorkerAssetPath)
		if err != nil {
			networkError(w)
			return
		}
		request = workerRequest
	}

	if !h.serveCached(w, request, nil, nil) {
		networkError(w)
	}
}

// ServeDefault answers everything no other route claims
func (h *AssetHandlers) ServeDefault(w http.ResponseWriter, r *http.Request) {
	if !h.serveCached(w, r, nil, nil) {
		networkError(w)
	}
}

func networkError(w http.ResponseWriter) {
	respond.Text(w, http.StatusRequestTimeout, "Network error")
}
