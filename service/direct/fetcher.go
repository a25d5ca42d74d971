package direct

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tinklegames/tinkle-proxy-service/logging"
)

// Headers presented to destinations in place of the caller's
const (
	SpoofedUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	SpoofedAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	SpoofedAcceptLanguage = "en-US,en;q=0.5"

	DefaultMaxRedirects = 10
)

// FetcherConfig wraps values used to create a Fetcher
type FetcherConfig struct {
	// Timeout bounds every fetch including reading its body
	Timeout      time.Duration
	MaxRedirects int
}

// Fetcher performs GET requests with spoofed browser headers, following redirects
type Fetcher struct {
	client *resty.Client

	*logging.ServiceLogger
}

// Upstream is a fetched response whose body is still to be read
type Upstream struct {
	Status int
	Header http.Header
	// FinalURL is the url the last redirect led to
	FinalURL *url.URL
	Body     io.ReadCloser
}

func NewFetcher(config FetcherConfig, logger *logging.ServiceLogger) *Fetcher {
	maxRedirects := config.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)).
		SetLogger(restyLogger{logger}).
		SetHeaders(map[string]string{
			"User-Agent":      SpoofedUserAgent,
			"Accept":          SpoofedAccept,
			"Accept-Language": SpoofedAcceptLanguage,
		})
	// cookies of one caller must never leak to another
	client.SetCookieJar(nil)

	return &Fetcher{
		client:        client,
		ServiceLogger: logger,
	}
}

// Fetch GETs target, the caller must close the returned body
func (f *Fetcher) Fetch(ctx context.Context, target *url.URL) (*Upstream, error) {
	response, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target.String())
	if err != nil {
		return nil, err
	}
	if response.RawResponse == nil {
		return nil, fmt.Errorf("no response from %s", target.Redacted())
	}

	finalURL := target
	if response.RawResponse.Request != nil && response.RawResponse.Request.URL != nil {
		finalURL = response.RawResponse.Request.URL
	}

	f.Logger.Trace().
		Str("target", target.String()).
		Str("final_url", finalURL.String()).
		Int("status", response.StatusCode()).
		Msg("fetched destination")

	return &Upstream{
		Status:   response.StatusCode(),
		Header:   response.Header(),
		FinalURL: finalURL,
		Body:     response.RawBody(),
	}, nil
}

// restyLogger adapts the ServiceLogger to resty.Logger
type restyLogger struct {
	*logging.ServiceLogger
}

var _ resty.Logger = restyLogger{}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.Logger.Error().Msgf(format, v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.Logger.Info().Msgf(format, v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.Logger.Trace().Msgf(format, v...)
}
