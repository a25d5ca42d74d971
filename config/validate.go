package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ValidLogLevels     = [4]string{"TRACE", "DEBUG", "INFO", "ERROR"}
	ValidCacheBackends = [3]string{CacheBackendMemory, CacheBackendLevelDB, CacheBackendRedis}
)

// Validate validates the provided config
// returning a list of errors that can be unwrapped with `errors.Unwrap`
// or nil if the config is valid
func Validate(config Config) error {
	var validLogLevel bool
	var allErrs error

	for _, validLevel := range ValidLogLevels {
		if config.LogLevel == validLevel {
			validLogLevel = true
			break
		}
	}

	if !validLogLevel {
		allErrs = fmt.Errorf("invalid %s specified %s, supported values are %v", LOG_LEVEL_ENVIRONMENT_KEY, config.LogLevel, ValidLogLevels)
	}

	_, err := strconv.Atoi(config.ProxyServicePort)

	if err != nil {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s", PROXY_SERVICE_PORT_ENVIRONMENT_KEY, config.ProxyServicePort))
	}

	_, err = ParseRawBareServerURLs(config.BareServerURLsRaw)

	if err != nil {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s: %w", BARE_SERVER_URLS_ENVIRONMENT_KEY, config.BareServerURLsRaw, err))
	}

	allErrs = errors.Join(allErrs, validateCacheName(APP_CACHE_NAME_ENVIRONMENT_KEY, config.AppCacheName))
	allErrs = errors.Join(allErrs, validateCacheName(PROXY_CACHE_NAME_ENVIRONMENT_KEY, config.ProxyCacheName))

	if config.AppCacheName != "" && config.AppCacheName == config.ProxyCacheName {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must differ from %s", PROXY_CACHE_NAME_ENVIRONMENT_KEY, config.ProxyCacheName, APP_CACHE_NAME_ENVIRONMENT_KEY))
	}

	var validCacheBackend bool
	for _, backend := range ValidCacheBackends {
		if config.CacheBackend == backend {
			validCacheBackend = true
			break
		}
	}

	if !validCacheBackend {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, supported values are %v", CACHE_BACKEND_ENVIRONMENT_KEY, config.CacheBackend, ValidCacheBackends))
	}

	if strings.Contains(config.CachePrefix, ":") {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must not contain colon symbol", CACHE_PREFIX_ENVIRONMENT_KEY, config.CachePrefix))
	}
	if config.CachePrefix == "" {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must not be empty", CACHE_PREFIX_ENVIRONMENT_KEY, config.CachePrefix))
	}

	if config.CacheBackend == CacheBackendRedis && config.RedisEndpointURL == "" {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must not be empty when %s is %s", REDIS_ENDPOINT_URL_ENVIRONMENT_KEY, config.RedisEndpointURL, CACHE_BACKEND_ENVIRONMENT_KEY, CacheBackendRedis))
	}
	if config.CacheBackend == CacheBackendLevelDB && config.LevelDBPath == "" {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must not be empty when %s is %s", LEVELDB_PATH_ENVIRONMENT_KEY, config.LevelDBPath, CACHE_BACKEND_ENVIRONMENT_KEY, CacheBackendLevelDB))
	}

	if config.AssetOriginURL != "" {
		parsed, err := url.Parse(config.AssetOriginURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must be an absolute http(s) url", ASSET_ORIGIN_URL_ENVIRONMENT_KEY, config.AssetOriginURL))
		}
	} else if config.StaticAssetsDir == "" {
		allErrs = errors.Join(allErrs, fmt.Errorf("one of %s or %s must be set", ASSET_ORIGIN_URL_ENVIRONMENT_KEY, STATIC_ASSETS_DIR_ENVIRONMENT_KEY))
	}

	if !strings.HasPrefix(config.AppEntryPath, "/") {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must start with /", APP_ENTRY_PATH_ENVIRONMENT_KEY, config.AppEntryPath))
	}

	if config.UpstreamTimeout <= 0 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must be greater than zero", UPSTREAM_TIMEOUT_SECONDS_ENVIRONMENT_KEY, config.UpstreamTimeout))
	}
	if config.MaxBodyBytes <= 0 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %d, must be greater than zero", MAX_BODY_BYTES_ENVIRONMENT_KEY, config.MaxBodyBytes))
	}

	refreshInterval, err := time.ParseDuration(config.ProxyCacheRefreshIntervalRaw)
	if err != nil || refreshInterval < 0 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must be a non negative duration", PROXY_CACHE_REFRESH_INTERVAL_ENVIRONMENT_KEY, config.ProxyCacheRefreshIntervalRaw))
	}

	if config.RateLimitRPS < 0 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %v, must not be negative", RATE_LIMIT_RPS_ENVIRONMENT_KEY, config.RateLimitRPS))
	}
	if config.RateLimitBurst < 0 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %d, must not be negative", RATE_LIMIT_BURST_ENVIRONMENT_KEY, config.RateLimitBurst))
	}

	return allErrs
}

// cache names become part of storage keys which are ":" delimited
func validateCacheName(key string, name string) error {
	if name == "" {
		return fmt.Errorf("invalid %s specified %s, must not be empty", key, name)
	}
	if strings.Contains(name, ":") {
		return fmt.Errorf("invalid %s specified %s, must not contain colon symbol", key, name)
	}
	return nil
}
