package cachemdw

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	CacheHeaderKey       = "X-Proxy-Cache-Status"
	CacheHitHeaderValue  = "HIT"
	CacheMissHeaderValue = "MISS"
)

// headers which describe a single transfer rather than the stored payload
var transferHeaders = []string{
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Transfer-Encoding",
	CacheHeaderKey,
}

// StoredResponse represents the structure which is stored in the cache for every cacheable request
// a StoredResponse is never patched, a new Put replaces it wholesale
type StoredResponse struct {
	Status      int         `json:"status"`
	Header      http.Header `json:"header"`
	ContentType string      `json:"content_type"`
	Body        []byte      `json:"body"`
}

// NewStoredResponse copies status, header and body into a StoredResponse
func NewStoredResponse(status int, header http.Header, body []byte) *StoredResponse {
	cloned := header.Clone()
	if cloned == nil {
		cloned = http.Header{}
	}
	for _, key := range transferHeaders {
		cloned.Del(key)
	}

	return &StoredResponse{
		Status:      status,
		Header:      cloned,
		ContentType: cloned.Get("Content-Type"),
		Body:        append([]byte(nil), body...),
	}
}

// UnmarshalStoredResponse decodes a StoredResponse read from the cache
func UnmarshalStoredResponse(data []byte) (*StoredResponse, error) {
	var resp StoredResponse
	err := json.Unmarshal(data, &resp)
	return &resp, err
}

// Marshal marshals a StoredResponse to JSON
func (resp *StoredResponse) Marshal() ([]byte, error) {
	return json.Marshal(resp)
}

// IsCacheable returns true only for successful responses
func (resp *StoredResponse) IsCacheable() bool {
	return resp.Status >= 200 && resp.Status < 300
}

// Write replays the stored response, cacheStatus is reported in CacheHeaderKey.
// The body is omitted for HEAD requests.
func (resp *StoredResponse) Write(w http.ResponseWriter, r *http.Request, cacheStatus string) {
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.Header().Set(CacheHeaderKey, cacheStatus)

	w.WriteHeader(resp.Status)

	if r.Method == http.MethodHead {
		return
	}

	_, _ = w.Write(resp.Body)
}
