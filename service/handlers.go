package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tinklegames/tinkle-proxy-service/clients/codes"
)

// createHealthcheckHandler creates a health check handler function that
// will respond 200 ok if the proxy service is active, able to connect to
// it's dependencies and functioning as expected
func createHealthcheckHandler(service *ProxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service.Debug().Msg("/healthcheck called")

		if !service.Lifecycle.IsActive() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(fmt.Sprintf("proxy service is %s", service.Lifecycle.State())))
			return
		}

		// check that the cache is reachable
		if err := service.Store.Healthcheck(r.Context()); err != nil {
			service.Logger.Error().
				Err(err).
				Msg("cache healthcheck failed")

			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(fmt.Sprintf("proxy service unable to connect to cache: %v", err)))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("proxy service is healthy"))
	}
}

// createServicecheckHandler creates a service check handler function that
// will respond 200 ok if the proxy service is running
func createServicecheckHandler(service *ProxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service.Debug().Msg("/servicecheck called")

		w.WriteHeader(http.StatusOK)

		w.Write([]byte("proxy service is in service"))
	}
}

// CodeLookupResponse is the answer of the codes lookup endpoint
type CodeLookupResponse struct {
	Valid      bool   `json:"valid"`
	URL        string `json:"url,omitempty"`
	Embeddable bool   `json:"embeddable"`
	Error      string `json:"error,omitempty"`
}

// createCodesLookupHandler creates a handler resolving the `code`
// query parameter through the codes table
func createCodesLookupHandler(service *ProxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		code := r.URL.Query().Get("code")

		entry, err := service.Codes.Lookup(r.Context(), code)
		var (
			status   int
			response CodeLookupResponse
		)
		switch {
		case err == nil:
			status = http.StatusOK
			response = CodeLookupResponse{
				Valid:      true,
				URL:        entry.URL,
				Embeddable: entry.Embeddable,
			}
		case errors.Is(err, codes.ErrInvalidCode):
			status = http.StatusNotFound
			response = CodeLookupResponse{Error: "invalid code"}
		default:
			service.Logger.Error().
				Err(err).
				Msg("codes lookup failed")

			status = http.StatusBadGateway
			response = CodeLookupResponse{Error: "codes table unavailable"}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(&response); err != nil {
			service.Error().Msg(fmt.Sprintf("error %s encoding %+v to json", err, response))
		}
	}
}

// MarshalJSONResponse marshals an interface into the response body and sets JSON content type headers
func MarshalJSONResponse(obj interface{}, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		return err
	}
	return nil
}
