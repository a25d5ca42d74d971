package bare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tinklegames/tinkle-proxy-service/decode"
	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/metrics"
	"github.com/tinklegames/tinkle-proxy-service/service/respond"
)

const (
	BareServerHeaderKey = "X-Bare-Server"

	MetricsAdapterName = "bare"
)

// AdapterConfig wraps values used to create an Adapter
type AdapterConfig struct {
	Registry Registry
	// Timeout bounds every upstream call including reading its body
	Timeout      time.Duration
	MaxBodyBytes int64
	// Transport is used for upstream calls, http.DefaultTransport when nil
	Transport http.RoundTripper
	Metrics   *metrics.Metrics
}

// Adapter is the http.Handler relaying requests through the bare servers
type Adapter struct {
	registry     Registry
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	metrics      *metrics.Metrics

	*logging.ServiceLogger
}

func NewAdapter(config AdapterConfig, logger *logging.ServiceLogger) *Adapter {
	transport := config.Transport
	if transport == nil {
		defaultTransport := http.DefaultTransport.(*http.Transport).Clone()
		// upstream bodies are relayed as they were encoded
		defaultTransport.DisableCompression = true
		transport = defaultTransport
	}

	return &Adapter{
		registry: config.Registry,
		client: &http.Client{
			Transport: transport,
			// redirects are returned to the caller untouched
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:       config.Timeout,
		maxBodyBytes:  config.MaxBodyBytes,
		metrics:       config.Metrics,
		ServiceLogger: logger,
	}
}

func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := decode.ResolveTarget(r, a.maxBodyBytes)
	if err != nil {
		respond.Text(w, http.StatusBadRequest, "Missing target URL")
		return
	}

	proxyRequest, err := decode.NewProxyRequest(r, target, a.maxBodyBytes)
	switch {
	case errors.Is(err, decode.ErrRelativeTarget):
		respond.Text(w, http.StatusBadRequest, "Target URL must be absolute")
		return
	case errors.Is(err, decode.ErrBodyTooLarge):
		respond.Text(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	case err != nil:
		a.fail(w, "", err)
		return
	}

	server := a.registry.Select()
	a.metrics.ObserveBareServerSelection(server)

	if err := a.relay(w, r, proxyRequest, server); err != nil {
		a.fail(w, server, err)
	}
}

// relay performs the upstream call, an error is only returned
// when nothing was written to w yet
func (a *Adapter) relay(w http.ResponseWriter, r *http.Request, proxyRequest *decode.ProxyRequest, server string) error {
	ctx, cancel := withTimeout(r.Context(), a.timeout)
	defer cancel()

	upstreamURL := server + proxyRequest.TargetURL.String()

	upstreamRequest, err := proxyRequest.NewUpstreamRequest(ctx, upstreamURL)
	if err != nil {
		return fmt.Errorf("failed to create upstream request: %w", err)
	}

	a.Logger.Debug().
		Str("server", server).
		Str("target", proxyRequest.TargetURL.String()).
		Str("method", proxyRequest.Method).
		Msg("relaying request through bare server")

	response, err := a.client.Do(upstreamRequest)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	header := w.Header()
	respond.CopyHeaders(header, response.Header)
	respond.AllowAnything(header)
	header.Set(BareServerHeaderKey, server)

	if err := respond.Stream(w, r, response.StatusCode, response.Body); err != nil {
		// the status line is gone already, all that's left is to log
		a.metrics.ObserveUpstreamError(MetricsAdapterName)
		a.Logger.Error().
			Str("server", server).
			Err(err).
			Msg("error streaming bare server response")
	}

	return nil
}

func (a *Adapter) fail(w http.ResponseWriter, server string, err error) {
	a.metrics.ObserveUpstreamError(MetricsAdapterName)
	a.Logger.Error().
		Str("server", server).
		Err(err).
		Msg("bare relay failed")

	respond.Text(w, http.StatusInternalServerError, "BareMux error: "+err.Error())
}

// withTimeout is context.WithTimeout treating a non positive timeout as none
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
