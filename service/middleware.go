package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/negroni"
	"golang.org/x/time/rate"

	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/metrics"
	"github.com/tinklegames/tinkle-proxy-service/service/respond"
)

type contextKey string

const RequestIDHeaderKey = "X-Request-Id"

const (
	RequestIDContextKey        contextKey = "X-TINKLE-PROXY-REQUEST-ID"
	RequestStartTimeContextKey contextKey = "X-TINKLE-PROXY-REQUEST-START-TIME"
)

// limiters of clients idle for longer are forgotten
const rateLimiterIdleTTL = 10 * time.Minute

// RequestID returns the id assigned to the request carried by ctx
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// createRequestIDMiddleware tags every request with an id, reusing
// the one the caller sent if any, and echoes it back in the response
func createRequestIDMiddleware() negroni.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		id := r.Header.Get(RequestIDHeaderKey)
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(RequestIDHeaderKey, id)

		ctx := context.WithValue(r.Context(), RequestIDContextKey, id)
		ctx = context.WithValue(ctx, RequestStartTimeContextKey, time.Now())

		next(w, r.WithContext(ctx))
	}
}

// createRequestLoggingMiddleware returns a middleware that logs every request
// once it is answered and records it in the request metrics
func createRequestLoggingMiddleware(router *Router, serviceMetrics *metrics.Metrics, serviceLogger *logging.ServiceLogger) negroni.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		routeName := router.RouteName(r.URL.Path)

		next(w, r)

		startedAt, ok := r.Context().Value(RequestStartTimeContextKey).(time.Time)
		if !ok {
			startedAt = time.Now()
		}
		latency := time.Since(startedAt)

		status := http.StatusOK
		if rw, ok := w.(negroni.ResponseWriter); ok && rw.Status() != 0 {
			status = rw.Status()
		}

		if serviceMetrics != nil {
			serviceMetrics.RequestsTotal.WithLabelValues(routeName, r.Method, strconv.Itoa(status)).Inc()
			serviceMetrics.RequestDuration.WithLabelValues(routeName).Observe(latency.Seconds())
		}

		serviceLogger.Debug().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", routeName).
			Int("status", status).
			Dur("latency", latency).
			Msg("request served")
	}
}

// RateLimiter keeps one token bucket per client address
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*rateLimitedClient
	lastSweep time.Time
}

type rateLimitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		limit:     rate.Limit(requestsPerSecond),
		burst:     burst,
		clients:   make(map[string]*rateLimitedClient),
		lastSweep: time.Now(),
	}
}

// Allow reports whether the client at address may make a request now
func (rl *RateLimiter) Allow(address string) bool {
	now := time.Now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) > rateLimiterIdleTTL {
		for key, client := range rl.clients {
			if now.Sub(client.lastSeen) > rateLimiterIdleTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	client, exists := rl.clients[address]
	if !exists {
		client = &rateLimitedClient{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[address] = client
	}
	client.lastSeen = now
	limiter := client.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

// Middleware rejects requests of clients over their rate with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientAddress(r)) {
			w.Header().Set("Retry-After", "1")
			respond.Text(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// recoveryLogger adapts the ServiceLogger to negroni.ALogger
type recoveryLogger struct {
	*logging.ServiceLogger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.Logger.Error().Msg(fmt.Sprint(v...))
}

func (l recoveryLogger) Printf(format string, v ...interface{}) {
	l.Logger.Error().Msgf(format, v...)
}

// createRecoveryMiddleware turns any panic of a handler into a 500 response
func createRecoveryMiddleware(serviceLogger *logging.ServiceLogger) *negroni.Recovery {
	recovery := negroni.NewRecovery()
	recovery.Logger = recoveryLogger{serviceLogger}
	recovery.PrintStack = false

	return recovery
}
