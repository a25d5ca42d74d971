package decode_test

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinklegames/tinkle-proxy-service/decode"
)

const testMaxBodyBytes = 1 << 20

func newRequest(method, target, contentType, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

func TestUnitTestExtractTargetFromBody(t *testing.T) {
	testCases := []struct {
		name        string
		method      string
		contentType string
		body        string
		expected    string
		expectedErr error
	}{
		{"json url", http.MethodPost, "application/json", `{"url":"https://a.test/"}`, "https://a.test/", nil},
		{"json target", http.MethodPost, "application/json; charset=utf-8", `{"target":"https://b.test/"}`, "https://b.test/", nil},
		{"json destination", http.MethodPut, "application/json", `{"destination":"https://c.test/"}`, "https://c.test/", nil},
		{"json priority", http.MethodPost, "application/json", `{"destination":"https://c.test/","url":"https://a.test/"}`, "https://a.test/", nil},
		{"json non string", http.MethodPost, "application/json", `{"url":42}`, "", decode.ErrNoTarget},
		{"json malformed", http.MethodPost, "application/json", `{"url":`, "", decode.ErrNoTarget},
		{"form url", http.MethodPost, "application/x-www-form-urlencoded", "url=https%3A%2F%2Fa.test%2F", "https://a.test/", nil},
		{"form target", http.MethodPut, "application/x-www-form-urlencoded", "target=https://b.test/", "https://b.test/", nil},
		{"get ignored", http.MethodGet, "application/json", `{"url":"https://a.test/"}`, "", decode.ErrNoTarget},
		{"delete ignored", http.MethodDelete, "application/json", `{"url":"https://a.test/"}`, "", decode.ErrNoTarget},
		{"empty body", http.MethodPost, "application/json", "", "", decode.ErrNoTarget},
		{"no content type", http.MethodPost, "", `{"url":"https://a.test/"}`, "", decode.ErrNoTarget},
		{"plain text", http.MethodPost, "text/plain", "https://a.test/", "", decode.ErrNoTarget},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			target, err := decode.ExtractTarget(newRequest(tc.method, "/baremux/api/", tc.contentType, tc.body), testMaxBodyBytes)

			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, target)
		})
	}
}

func TestUnitTestExtractTargetFromMultipartForm(t *testing.T) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("target", "https://m.test/"))
	require.NoError(t, writer.Close())

	r := newRequest(http.MethodPost, "/baremux/api/", writer.FormDataContentType(), buf.String())

	target, err := decode.ExtractTarget(r, testMaxBodyBytes)
	require.NoError(t, err)
	require.Equal(t, "https://m.test/", target)
}

func TestUnitTestExtractTargetRestoresBody(t *testing.T) {
	body := `{"url":"https://a.test/","payload":1}`
	r := newRequest(http.MethodPost, "/baremux/api/", "application/json", body)

	_, err := decode.ExtractTarget(r, testMaxBodyBytes)
	require.NoError(t, err)

	restored, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(restored))
}

func TestUnitTestExtractTargetRejectsOversizedBody(t *testing.T) {
	r := newRequest(http.MethodPost, "/baremux/api/", "application/json", `{"url":"https://a.test/"}`)

	_, err := decode.ExtractTarget(r, 4)
	require.ErrorIs(t, err, decode.ErrNoTarget)

	_, err = decode.ReadBody(newRequest(http.MethodPost, "/", "", "0123456789"), 4)
	require.ErrorIs(t, err, decode.ErrBodyTooLarge)
}

func TestUnitTestResolveTargetOrder(t *testing.T) {
	body := `{"url":"https://body.test/"}`

	r := newRequest(http.MethodPost, "/baremux/api/?url=https://url.test/&target=https://target.test/", "application/json", body)
	target, err := decode.ResolveTarget(r, testMaxBodyBytes)
	require.NoError(t, err)
	require.Equal(t, "https://url.test/", target)

	r = newRequest(http.MethodPost, "/baremux/api/?target=https://target.test/", "application/json", body)
	target, err = decode.ResolveTarget(r, testMaxBodyBytes)
	require.NoError(t, err)
	require.Equal(t, "https://target.test/", target)

	r = newRequest(http.MethodPost, "/baremux/api/", "application/json", body)
	target, err = decode.ResolveTarget(r, testMaxBodyBytes)
	require.NoError(t, err)
	require.Equal(t, "https://body.test/", target)

	r = newRequest(http.MethodGet, "/baremux/api/", "", "")
	_, err = decode.ResolveTarget(r, testMaxBodyBytes)
	require.ErrorIs(t, err, decode.ErrNoTarget)
}

func TestUnitTestNewProxyRequest(t *testing.T) {
	r := newRequest(http.MethodPost, "/baremux/api/", "application/json", `{"url":"https://a.test/"}`)
	r.Header.Set("X-Custom", "kept")
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set("Upgrade", "h2c")

	proxyRequest, err := decode.NewProxyRequest(r, "https://a.test/path?q=1", testMaxBodyBytes)
	require.NoError(t, err)

	require.Equal(t, http.MethodPost, proxyRequest.Method)
	require.Equal(t, "https://a.test/path?q=1", proxyRequest.TargetURL.String())
	require.Equal(t, "kept", proxyRequest.Header.Get("X-Custom"))
	require.Empty(t, proxyRequest.Header.Get("Connection"))
	require.Empty(t, proxyRequest.Header.Get("Upgrade"))
	require.Equal(t, `{"url":"https://a.test/"}`, string(proxyRequest.Body))

	upstream, err := proxyRequest.NewUpstreamRequest(context.Background(), "https://bare.test/https://a.test/path?q=1")
	require.NoError(t, err)
	forwarded, err := io.ReadAll(upstream.Body)
	require.NoError(t, err)
	require.Equal(t, `{"url":"https://a.test/"}`, string(forwarded))
	require.Equal(t, "kept", upstream.Header.Get("X-Custom"))
}

func TestUnitTestNewProxyRequestDropsBodyForGet(t *testing.T) {
	r := newRequest(http.MethodGet, "/baremux/api/?url=https://a.test/", "", "ignored")

	proxyRequest, err := decode.NewProxyRequest(r, "https://a.test/", testMaxBodyBytes)
	require.NoError(t, err)
	require.Nil(t, proxyRequest.Body)

	upstream, err := proxyRequest.NewUpstreamRequest(context.Background(), "https://bare.test/https://a.test/")
	require.NoError(t, err)
	require.Nil(t, upstream.Body)
}

func TestUnitTestNewProxyRequestRejectsRelativeTargets(t *testing.T) {
	for _, target := range []string{"/relative", "example.com/path", "ftp://example.com/", "https://", "%zz"} {
		t.Run(target, func(t *testing.T) {
			_, err := decode.NewProxyRequest(newRequest(http.MethodGet, "/", "", ""), target, testMaxBodyBytes)
			require.ErrorIs(t, err, decode.ErrRelativeTarget)
		})
	}
}
