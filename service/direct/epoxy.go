package direct

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tinklegames/tinkle-proxy-service/decode"
	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/metrics"
	"github.com/tinklegames/tinkle-proxy-service/service/respond"
)

const EpoxyMetricsAdapterName = "epoxy"

// EpoxyAdapter relays the destination named by the `url` query parameter
// unmodified, adding only the allow-origin header
type EpoxyAdapter struct {
	fetcher *Fetcher
	timeout time.Duration
	metrics *metrics.Metrics

	*logging.ServiceLogger
}

func NewEpoxyAdapter(fetcher *Fetcher, timeout time.Duration, metrics *metrics.Metrics, logger *logging.ServiceLogger) *EpoxyAdapter {
	return &EpoxyAdapter{
		fetcher:       fetcher,
		timeout:       timeout,
		metrics:       metrics,
		ServiceLogger: logger,
	}
}

func (a *EpoxyAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		respond.Text(w, http.StatusBadRequest, "Missing URL parameter for Epoxy")
		return
	}

	targetURL, err := decode.ParseAbsoluteURL(target)
	if err != nil {
		respond.Text(w, http.StatusBadRequest, "URL parameter for Epoxy must be absolute")
		return
	}

	ctx, cancel := withTimeout(r.Context(), a.timeout)
	defer cancel()

	upstream, err := a.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		a.metrics.ObserveUpstreamError(EpoxyMetricsAdapterName)
		a.Logger.Error().
			Str("target", target).
			Err(err).
			Msg("epoxy fetch failed")
		respond.Text(w, http.StatusInternalServerError, "Epoxy error: "+err.Error())
		return
	}
	defer upstream.Body.Close()

	respond.CopyHeaders(w.Header(), upstream.Header)
	respond.AllowAnyOrigin(w.Header())

	if err := respond.Stream(w, r, upstream.Status, upstream.Body); err != nil {
		a.metrics.ObserveUpstreamError(EpoxyMetricsAdapterName)
		a.Logger.Error().
			Str("target", target).
			Err(err).
			Msg("error streaming epoxy response")
	}
}

// withTimeout is context.WithTimeout treating a non positive timeout as none
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
