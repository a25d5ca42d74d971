// package origin provides clients for the "network" the service
// fetches its own static assets from when they are not cached
package origin

import (
	"context"
	"errors"
	"io"
	"net/http"
)

var (
	ErrResponseTooLarge = errors.New("origin response too large")
)

// Origin fetches own assets by request uri (path and optional query)
type Origin interface {
	Fetch(ctx context.Context, method string, requestURI string, body io.Reader) (*Response, error)
}

// Response is a fully buffered origin response
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// readLimited reads at most maxBytes from r
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}
