package direct

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/metrics"
	"github.com/tinklegames/tinkle-proxy-service/service/respond"
	"github.com/tinklegames/tinkle-proxy-service/service/rewrite"
)

const (
	RewritingMetricsAdapterName = "proxy"

	// marks documents the proxy already rewrote
	RewrittenHeaderKey = "X-Tinkle-Rewritten"

	// how much of an untyped payload is looked at to classify it
	sniffLength = 512
)

var (
	ErrMissingTarget    = errors.New("missing target url")
	ErrDocumentTooLarge = errors.New("document too large to rewrite")
)

// RewritingAdapterConfig wraps values used to create a RewritingAdapter
type RewritingAdapterConfig struct {
	Engine  *rewrite.Engine
	Fetcher *Fetcher
	Timeout time.Duration
	// MaxBodyBytes caps the documents read into memory for rewriting
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
}

// RewritingAdapter fetches the destination named by the request path
// and rewrites HTML and CSS payloads so their resources load through the proxy
type RewritingAdapter struct {
	engine       *rewrite.Engine
	fetcher      *Fetcher
	timeout      time.Duration
	maxBodyBytes int64
	metrics      *metrics.Metrics

	*logging.ServiceLogger
}

func NewRewritingAdapter(config RewritingAdapterConfig, logger *logging.ServiceLogger) *RewritingAdapter {
	return &RewritingAdapter{
		engine:        config.Engine,
		fetcher:       config.Fetcher,
		timeout:       config.Timeout,
		maxBodyBytes:  config.MaxBodyBytes,
		metrics:       config.Metrics,
		ServiceLogger: logger,
	}
}

// TargetFromPath returns the destination carried by the path of r after
// proxyPrefix. Hosts without a scheme get https, and a scheme whose double
// slash was collapsed to one along the way is repaired.
func TargetFromPath(r *http.Request, proxyPrefix string) (*url.URL, error) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), proxyPrefix)
	if raw == "" {
		return nil, ErrMissingTarget
	}

	// a fully percent-encoded target arrives as a single segment
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	if r.URL.RawQuery != "" {
		raw += "?" + r.URL.RawQuery
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
	case strings.HasPrefix(lower, "https:/"):
		raw = "https://" + raw[len("https:/"):]
	case strings.HasPrefix(lower, "http:/"):
		raw = "http://" + raw[len("http:/"):]
	default:
		raw = "https://" + raw
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid target url %q: %w", raw, err)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("invalid target url %q: no host", raw)
	}

	return target, nil
}

func (a *RewritingAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := TargetFromPath(r, a.engine.ProxyPrefix())
	if errors.Is(err, ErrMissingTarget) {
		respond.Text(w, http.StatusBadRequest, "Please provide a URL")
		return
	}
	if err != nil {
		a.fail(w, "", err)
		return
	}

	ctx, cancel := withTimeout(r.Context(), a.timeout)
	defer cancel()

	upstream, err := a.fetcher.Fetch(ctx, target)
	if err != nil {
		a.fail(w, target.String(), err)
		return
	}
	defer upstream.Body.Close()

	contentType := upstream.Header.Get("Content-Type")
	body := bufio.NewReaderSize(upstream.Body, sniffLength)
	var sniff []byte
	if contentType == "" {
		// a short body is fine, Peek returns what there is
		sniff, _ = body.Peek(sniffLength)
	}

	class := rewrite.Classify(contentType, sniff)
	if upstream.Header.Get(RewrittenHeaderKey) != "" {
		// fetched through a proxy, relay it as is
		class = rewrite.ClassText
	}

	a.Logger.Debug().
		Str("target", target.String()).
		Str("class", class.String()).
		Int("status", upstream.Status).
		Msg("proxying destination")

	switch class {
	case rewrite.ClassHTML:
		document, err := a.readDocument(body)
		if err != nil {
			a.fail(w, target.String(), err)
			return
		}

		rewritten := a.engine.Rewrite(document, upstream.FinalURL.String())

		w.Header().Set("Content-Type", "text/html")
		respond.AllowAnyOrigin(w.Header())
		a.writeDocument(w, r, upstream.Status, rewritten)
	case rewrite.ClassCSS:
		stylesheet, err := a.readDocument(body)
		if err != nil {
			a.fail(w, target.String(), err)
			return
		}

		rewritten := a.engine.RewriteCSS(stylesheet, upstream.FinalURL.String())

		respond.CopyHeaders(w.Header(), upstream.Header)
		respond.AllowAnyOrigin(w.Header())
		a.writeDocument(w, r, upstream.Status, rewritten)
	default:
		respond.CopyHeaders(w.Header(), upstream.Header)
		respond.AllowAnyOrigin(w.Header())

		if err := respond.Stream(w, r, upstream.Status, body); err != nil {
			a.metrics.ObserveUpstreamError(RewritingMetricsAdapterName)
			a.Logger.Error().
				Str("target", target.String()).
				Err(err).
				Msg("error streaming proxied response")
		}
	}
}

func (a *RewritingAdapter) readDocument(body io.Reader) (string, error) {
	if a.maxBodyBytes <= 0 {
		raw, err := io.ReadAll(body)
		return string(raw), err
	}

	raw, err := io.ReadAll(io.LimitReader(body, a.maxBodyBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(raw)) > a.maxBodyBytes {
		return "", ErrDocumentTooLarge
	}

	return string(raw), nil
}

func (a *RewritingAdapter) writeDocument(w http.ResponseWriter, r *http.Request, status int, document string) {
	// the rewritten document has a length of its own
	w.Header().Del("Content-Encoding")
	w.Header().Set("Content-Length", strconv.Itoa(len(document)))
	w.Header().Set(RewrittenHeaderKey, "true")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, document)
	}
}

func (a *RewritingAdapter) fail(w http.ResponseWriter, target string, err error) {
	a.metrics.ObserveUpstreamError(RewritingMetricsAdapterName)
	a.Logger.Error().
		Str("target", target).
		Err(err).
		Msg("proxy fetch failed")

	respond.Text(w, http.StatusInternalServerError, "Proxy error: "+err.Error())
}
