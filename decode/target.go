package decode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Errors that might result from resolving the destination of a proxied request
var (
	ErrNoTarget       = errors.New("no target url in request")
	ErrRelativeTarget = errors.New("target url must be absolute")
	ErrBodyTooLarge   = errors.New("request body too large")
)

// TargetBodyFields are the body fields that may carry the target url, in priority order
var TargetBodyFields = []string{"url", "target", "destination"}

// HopByHopHeaders describe a single connection and are never forwarded
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ReadBody reads at most maxBytes of the request body and restores
// it so that later handlers can read it again
func ReadBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	r.Body.Close()
	if err != nil {
		r.Body = http.NoBody
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	r.Body = io.NopCloser(bytes.NewReader(rawBody))

	if int64(len(rawBody)) > maxBytes {
		return nil, ErrBodyTooLarge
	}

	return rawBody, nil
}

// ExtractTarget finds the target url carried in the body of a POST or PUT request.
// JSON and form (urlencoded or multipart) bodies are understood, the first non empty
// field of TargetBodyFields wins. ErrNoTarget is returned for every other case
// including bodies that can't be read or decoded.
func ExtractTarget(r *http.Request, maxBytes int64) (string, error) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return "", ErrNoTarget
	}

	rawBody, err := ReadBody(r, maxBytes)
	if err != nil || len(rawBody) == 0 {
		return "", ErrNoTarget
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", ErrNoTarget
	}

	var fields map[string]string
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		fields, err = jsonTargetFields(rawBody)
	case mediaType == "application/x-www-form-urlencoded":
		fields, err = formTargetFields(rawBody)
	case mediaType == "multipart/form-data":
		fields, err = multipartTargetFields(rawBody, params["boundary"], maxBytes)
	default:
		return "", ErrNoTarget
	}
	if err != nil {
		return "", ErrNoTarget
	}

	for _, field := range TargetBodyFields {
		if value := strings.TrimSpace(fields[field]); value != "" {
			return value, nil
		}
	}

	return "", ErrNoTarget
}

func jsonTargetFields(rawBody []byte) (map[string]string, error) {
	var decoded map[string]any
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(TargetBodyFields))
	for _, field := range TargetBodyFields {
		// non string values are not urls
		if value, ok := decoded[field].(string); ok {
			fields[field] = value
		}
	}

	return fields, nil
}

func formTargetFields(rawBody []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(TargetBodyFields))
	for _, field := range TargetBodyFields {
		fields[field] = values.Get(field)
	}

	return fields, nil
}

func multipartTargetFields(rawBody []byte, boundary string, maxBytes int64) (map[string]string, error) {
	if boundary == "" {
		return nil, errors.New("multipart body without boundary")
	}

	form, err := multipart.NewReader(bytes.NewReader(rawBody), boundary).ReadForm(maxBytes)
	if err != nil {
		return nil, err
	}
	defer form.RemoveAll()

	fields := make(map[string]string, len(TargetBodyFields))
	for _, field := range TargetBodyFields {
		if values := form.Value[field]; len(values) > 0 {
			fields[field] = values[0]
		}
	}

	return fields, nil
}

// ResolveTarget resolves the target of a relay request from, in order,
// the `url` query parameter, the `target` query parameter and the request body
func ResolveTarget(r *http.Request, maxBytes int64) (string, error) {
	query := r.URL.Query()

	for _, param := range []string{"url", "target"} {
		if value := strings.TrimSpace(query.Get(param)); value != "" {
			return value, nil
		}
	}

	return ExtractTarget(r, maxBytes)
}

// ProxyRequest describes the upstream call made on behalf of an intercepted request
type ProxyRequest struct {
	Method    string
	TargetURL *url.URL
	Header    http.Header
	// Body is nil for GET and HEAD
	Body []byte
}

// ParseAbsoluteURL parses target, returning ErrRelativeTarget
// unless it is an absolute http(s) url
func ParseAbsoluteURL(target string) (*url.URL, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRelativeTarget, err)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrRelativeTarget, target)
	}

	return parsed, nil
}

// NewProxyRequest builds the ProxyRequest for r targeting target.
// Method and headers are copied verbatim except for hop-by-hop headers.
func NewProxyRequest(r *http.Request, target string, maxBytes int64) (*ProxyRequest, error) {
	targetURL, err := ParseAbsoluteURL(target)
	if err != nil {
		return nil, err
	}

	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for _, key := range HopByHopHeaders {
		header.Del(key)
	}

	proxyRequest := ProxyRequest{
		Method:    r.Method,
		TargetURL: targetURL,
		Header:    header,
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err := ReadBody(r, maxBytes)
		if err != nil {
			return nil, err
		}
		proxyRequest.Body = body
	}

	return &proxyRequest, nil
}

// NewUpstreamRequest creates the outgoing http request for upstreamURL
// carrying the method, headers and body of the ProxyRequest
func (p *ProxyRequest) NewUpstreamRequest(ctx context.Context, upstreamURL string) (*http.Request, error) {
	var body io.Reader
	if p.Body != nil {
		body = bytes.NewReader(p.Body)
	}

	upstreamRequest, err := http.NewRequestWithContext(ctx, p.Method, upstreamURL, body)
	if err != nil {
		return nil, err
	}

	upstreamRequest.Header = p.Header.Clone()

	return upstreamRequest, nil
}
