// Package respond holds the response helpers shared by the backend adapters
package respond

import (
	"io"
	"net/http"
	"strconv"

	"github.com/tinklegames/tinkle-proxy-service/decode"
)

const (
	AllowOriginHeaderKey   = "Access-Control-Allow-Origin"
	AllowMethodsHeaderKey  = "Access-Control-Allow-Methods"
	AllowHeadersHeaderKey  = "Access-Control-Allow-Headers"
	ExposeHeadersHeaderKey = "Access-Control-Expose-Headers"

	AllowedMethods = "GET, POST, PUT, DELETE, OPTIONS, PATCH, HEAD"
)

// Text writes message as a text/plain response
func Text(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(message)))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

// CopyHeaders adds every header of src to dst except hop-by-hop headers
func CopyHeaders(dst http.Header, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	for _, key := range decode.HopByHopHeaders {
		dst.Del(key)
	}
}

// AllowAnyOrigin lets any origin read the response
func AllowAnyOrigin(h http.Header) {
	h.Set(AllowOriginHeaderKey, "*")
}

// AllowAnything sets the permissive CORS header set of relayed responses
func AllowAnything(h http.Header) {
	h.Set(AllowOriginHeaderKey, "*")
	h.Set(AllowMethodsHeaderKey, AllowedMethods)
	h.Set(AllowHeadersHeaderKey, "*")
	h.Set(ExposeHeadersHeaderKey, "*")
}

// Stream copies status and body of an upstream response, the caller sets headers first
func Stream(w http.ResponseWriter, r *http.Request, status int, body io.Reader) error {
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err := io.Copy(w, body)
	return err
}
