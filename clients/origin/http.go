package origin

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/tinklegames/tinkle-proxy-service/logging"
)

// HTTPOriginConfig wraps values used to create a new HTTPOrigin
type HTTPOriginConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTPOrigin fetches own assets from a remote http origin,
// retrying connection failures and 5xx responses
type HTTPOrigin struct {
	client       *retryablehttp.Client
	baseURL      string
	maxBodyBytes int64

	*logging.ServiceLogger
}

var _ Origin = (*HTTPOrigin)(nil)

func NewHTTPOrigin(config HTTPOriginConfig, logger *logging.ServiceLogger) *HTTPOrigin {
	client := retryablehttp.NewClient()
	client.RetryMax = config.RetryMax
	if config.RetryWaitMin > 0 {
		client.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		client.RetryWaitMax = config.RetryWaitMax
	}
	client.HTTPClient.Timeout = config.Timeout
	client.Logger = retryLogger{logger}
	// hand the last response back instead of an error once retries are exhausted
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPOrigin{
		client:        client,
		baseURL:       strings.TrimSuffix(config.BaseURL, "/"),
		maxBodyBytes:  config.MaxBodyBytes,
		ServiceLogger: logger,
	}
}

func (o *HTTPOrigin) Fetch(ctx context.Context, method string, requestURI string, body io.Reader) (*Response, error) {
	url := o.baseURL + requestURI

	request, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create origin request for %s: %w", url, err)
	}

	response, err := o.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("origin request to %s failed: %w", url, err)
	}
	defer response.Body.Close()

	responseBody, err := readLimited(response.Body, o.maxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read origin response from %s: %w", url, err)
	}

	o.Logger.Trace().
		Str("url", url).
		Int("status", response.StatusCode).
		Int("size", len(responseBody)).
		Msg("fetched asset from origin")

	return &Response{
		Status: response.StatusCode,
		Header: response.Header,
		Body:   responseBody,
	}, nil
}

// retryLogger adapts the ServiceLogger to retryablehttp.LeveledLogger
type retryLogger struct {
	*logging.ServiceLogger
}

var _ retryablehttp.LeveledLogger = retryLogger{}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.Logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.Logger.Trace().Fields(keysAndValues).Msg(msg)
}
