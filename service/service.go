// package service provides functions and methods
// for creating and running the api of the proxy service
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/urfave/negroni"

	"github.com/tinklegames/tinkle-proxy-service/clients/cache"
	"github.com/tinklegames/tinkle-proxy-service/clients/codes"
	"github.com/tinklegames/tinkle-proxy-service/clients/origin"
	"github.com/tinklegames/tinkle-proxy-service/config"
	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/metrics"
	"github.com/tinklegames/tinkle-proxy-service/routines"
	"github.com/tinklegames/tinkle-proxy-service/service/bare"
	"github.com/tinklegames/tinkle-proxy-service/service/cachemdw"
	"github.com/tinklegames/tinkle-proxy-service/service/direct"
	"github.com/tinklegames/tinkle-proxy-service/service/lifecycle"
	"github.com/tinklegames/tinkle-proxy-service/service/rewrite"
)

const (
	cacheHealthcheckMaxRetries = 5
	originRetryMax             = 2
	codesRetryCount            = 2
	shutdownTimeout            = 10 * time.Second
)

// ProxyService represents an instance of the proxy service API
type ProxyService struct {
	httpProxy *http.Server
	handler   http.Handler
	config    config.Config

	Cache     cache.Cache
	Store     *cachemdw.Store
	Lifecycle *lifecycle.Manager
	Registry  bare.Registry
	Codes     codes.Table
	Metrics   *metrics.Metrics

	closers []io.Closer
	*logging.ServiceLogger
}

// New returns a new ProxyService with the specified config and error (if any)
func New(ctx context.Context, serviceConfig config.Config, serviceLogger *logging.ServiceLogger) (*ProxyService, error) {
	service := ProxyService{
		config:        serviceConfig,
		ServiceLogger: serviceLogger,
	}

	cacheClient, closer, err := createCacheClient(serviceConfig, serviceLogger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		service.closers = append(service.closers, closer)
	}

	// the backend may still be starting up next to us
	err = backoff.Retry(func() error {
		return cacheClient.Healthcheck(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cacheHealthcheckMaxRetries), ctx))
	if err != nil {
		service.Close()
		return nil, fmt.Errorf("cache backend %s unavailable: %w", serviceConfig.CacheBackend, err)
	}

	manifest, err := config.LoadManifest(serviceConfig.PrecacheManifestPath, serviceConfig.AppEntryPath)
	if err != nil {
		service.Close()
		return nil, err
	}

	registry, err := bare.NewStaticRegistry(serviceConfig.BareServerURLs)
	if err != nil {
		service.Close()
		return nil, err
	}

	serviceMetrics := metrics.New()
	assetOrigin := createOrigin(serviceConfig, serviceLogger)
	store := cachemdw.NewStore(cacheClient, serviceConfig.CachePrefix, serviceLogger)

	lifecycleManager := lifecycle.New(lifecycle.Config{
		AppCacheName:   serviceConfig.AppCacheName,
		ProxyCacheName: serviceConfig.ProxyCacheName,
		Manifest:       manifest,
		SkipWaiting:    serviceConfig.SkipWaiting,
	}, store, assetOrigin, registry, serviceMetrics, serviceLogger)

	service.Cache = cacheClient
	service.Store = store
	service.Lifecycle = lifecycleManager
	service.Registry = registry
	service.Metrics = serviceMetrics
	service.Codes = codes.NewRemoteTable(codes.RemoteTableConfig{
		TableURL:   serviceConfig.CodesTableURL,
		Timeout:    serviceConfig.UpstreamTimeout,
		RetryCount: codesRetryCount,
	}, serviceLogger)

	router := service.createRouter(assetOrigin)

	n := negroni.New()
	n.Use(createRecoveryMiddleware(serviceLogger))
	n.Use(createRequestIDMiddleware())
	n.Use(createRequestLoggingMiddleware(router, serviceMetrics, serviceLogger))
	n.UseHandler(router)

	service.handler = n
	// create an http server for the caller to start at their own discretion
	service.httpProxy = &http.Server{
		Addr:              fmt.Sprintf(":%s", serviceConfig.ProxyServicePort),
		Handler:           n,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &service, nil
}

func (p *ProxyService) createRouter(assetOrigin origin.Origin) *Router {
	serviceConfig := p.config
	logger := p.ServiceLogger

	engine := rewrite.New(ProxyPrefix)
	fetcher := direct.NewFetcher(direct.FetcherConfig{
		Timeout: serviceConfig.UpstreamTimeout,
	}, logger)

	var bareAPI http.Handler = bare.NewAdapter(bare.AdapterConfig{
		Registry:     p.Registry,
		Timeout:      serviceConfig.UpstreamTimeout,
		MaxBodyBytes: serviceConfig.MaxBodyBytes,
		Metrics:      p.Metrics,
	}, logger)
	var epoxy http.Handler = direct.NewEpoxyAdapter(fetcher, serviceConfig.UpstreamTimeout, p.Metrics, logger)
	var proxy http.Handler = direct.NewRewritingAdapter(direct.RewritingAdapterConfig{
		Engine:       engine,
		Fetcher:      fetcher,
		Timeout:      serviceConfig.UpstreamTimeout,
		MaxBodyBytes: serviceConfig.MaxBodyBytes,
		Metrics:      p.Metrics,
	}, logger)

	if serviceConfig.RateLimitRPS > 0 {
		limiter := NewRateLimiter(serviceConfig.RateLimitRPS, serviceConfig.RateLimitBurst)
		bareAPI = limiter.Middleware(bareAPI)
		epoxy = limiter.Middleware(epoxy)
		proxy = limiter.Middleware(proxy)
	}

	assets := NewAssetHandlers(p.Store, p.Lifecycle, assetOrigin, p.Metrics, serviceConfig.AppEntryPath, serviceConfig.MaxBodyBytes, logger)

	var metricsHandler http.Handler
	if serviceConfig.MetricsEnabled {
		metricsHandler = p.Metrics.Handler()
	}

	return NewRouter(RouterConfig{
		AppEntryPath: serviceConfig.AppEntryPath,
		IsActive:     p.Lifecycle.IsActive,

		Healthcheck:      createHealthcheckHandler(p),
		Servicecheck:     createServicecheckHandler(p),
		Metrics:          metricsHandler,
		Control:          createControlHandler(p),
		ControlWebsocket: createControlWebsocketHandler(p),
		CodesLookup:      createCodesLookupHandler(p),

		App:        http.HandlerFunc(assets.ServeApp),
		AppEntry:   http.HandlerFunc(assets.ServeAppEntry),
		BareAPI:    bareAPI,
		BareStatic: http.HandlerFunc(assets.ServeBareStatic),
		UV:         http.HandlerFunc(assets.ServeUV),
		Epoxy:      epoxy,
		Proxy:      proxy,
		Default:    http.HandlerFunc(assets.ServeDefault),
	})
}

func createCacheClient(serviceConfig config.Config, logger *logging.ServiceLogger) (cache.Cache, io.Closer, error) {
	switch serviceConfig.CacheBackend {
	case config.CacheBackendRedis:
		redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
			Address:  serviceConfig.RedisEndpointURL,
			Password: serviceConfig.RedisPassword,
			DB:       serviceConfig.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return redisCache, redisCache, nil
	case config.CacheBackendLevelDB:
		levelDBCache, err := cache.NewLevelDBCache(serviceConfig.LevelDBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return levelDBCache, levelDBCache, nil
	default:
		return cache.NewInMemoryCache(), nil, nil
	}
}

func createOrigin(serviceConfig config.Config, logger *logging.ServiceLogger) origin.Origin {
	if serviceConfig.AssetOriginURL != "" {
		return origin.NewHTTPOrigin(origin.HTTPOriginConfig{
			BaseURL:      serviceConfig.AssetOriginURL,
			Timeout:      serviceConfig.UpstreamTimeout,
			MaxBodyBytes: serviceConfig.MaxBodyBytes,
			RetryMax:     originRetryMax,
		}, logger)
	}

	return origin.NewDirOrigin(serviceConfig.StaticAssetsDir, serviceConfig.MaxBodyBytes, logger)
}

// Handler returns the complete request handling pipeline of the service
func (p *ProxyService) Handler() http.Handler {
	return p.handler
}

// Run serves requests, installs the service generation and keeps the proxy
// asset cache warm until ctx is done, then shuts the server down gracefully.
// The error of a server that stopped on its own is returned.
func (p *ProxyService) Run(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		p.Info().Msg(fmt.Sprintf("proxy service listening on %s", p.httpProxy.Addr))
		serverErrors <- p.httpProxy.ListenAndServe()
	}()

	if err := p.Lifecycle.Install(ctx); err != nil {
		p.shutdown()
		return fmt.Errorf("failed to install proxy service: %w", err)
	}

	if p.config.ProxyCacheRefreshInterval > 0 {
		refreshRoutine, err := routines.NewCacheRefreshRoutine(routines.CacheRefreshRoutineConfig{
			Interval:  p.config.ProxyCacheRefreshInterval,
			Refresher: p.Lifecycle,
			Logger:    p.ServiceLogger,
		})
		if err != nil {
			p.shutdown()
			return err
		}

		refreshErrors, err := refreshRoutine.Run(ctx)
		if err != nil {
			p.shutdown()
			return err
		}
		go func() {
			for err := range refreshErrors {
				p.Error().Msg(fmt.Sprintf("proxy cache refresh failed: %s", err))
			}
		}()
	}

	select {
	case err := <-serverErrors:
		p.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		p.Info().Msg("shutting down proxy service")
		return p.shutdown()
	}
}

func (p *ProxyService) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := p.httpProxy.Shutdown(shutdownCtx)
	return errors.Join(err, p.Close())
}

// Close releases the cache backend
func (p *ProxyService) Close() error {
	var errs []error
	for _, closer := range p.closers {
		errs = append(errs, closer.Close())
	}
	p.closers = nil

	return errors.Join(errs...)
}
