// package config provides functions and values
// for reading and validating tinkle proxy service configuration
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogLevel         string
	ProxyServicePort string

	BareServerURLsRaw string
	BareServerURLs    []string

	AppCacheName     string
	ProxyCacheName   string
	CacheBackend     string
	CachePrefix      string
	LevelDBPath      string
	RedisEndpointURL string
	RedisPassword    string
	RedisDB          int

	AssetOriginURL       string
	StaticAssetsDir      string
	AppEntryPath         string
	PrecacheManifestPath string

	UpstreamTimeout time.Duration
	MaxBodyBytes    int64

	SkipWaiting                  bool
	ProxyCacheRefreshIntervalRaw string
	ProxyCacheRefreshInterval    time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	CodesTableURL  string
	MetricsEnabled bool
}

const (
	LOG_LEVEL_ENVIRONMENT_KEY                    = "LOG_LEVEL"
	DEFAULT_LOG_LEVEL                            = "INFO"
	PROXY_SERVICE_PORT_ENVIRONMENT_KEY           = "PROXY_SERVICE_PORT"
	DEFAULT_PROXY_SERVICE_PORT                   = "7777"
	BARE_SERVER_URLS_ENVIRONMENT_KEY             = "BARE_SERVER_URLS"
	DEFAULT_BARE_SERVER_URLS                     = "https://bare.uv.devgoldy.xyz/,https://bare.alekeagle.me/,https://bare.mathlearning.xyz/,https://bare.flaze.org/"
	APP_CACHE_NAME_ENVIRONMENT_KEY               = "APP_CACHE_NAME"
	DEFAULT_APP_CACHE_NAME                       = "tinkle-app-v1"
	PROXY_CACHE_NAME_ENVIRONMENT_KEY             = "PROXY_CACHE_NAME"
	DEFAULT_PROXY_CACHE_NAME                     = "tinkle-baremux-v1"
	CACHE_BACKEND_ENVIRONMENT_KEY                = "CACHE_BACKEND"
	DEFAULT_CACHE_BACKEND                        = CacheBackendMemory
	CACHE_PREFIX_ENVIRONMENT_KEY                 = "CACHE_PREFIX"
	DEFAULT_CACHE_PREFIX                         = "tinkle"
	LEVELDB_PATH_ENVIRONMENT_KEY                 = "LEVELDB_PATH"
	DEFAULT_LEVELDB_PATH                         = "./data/leveldb"
	REDIS_ENDPOINT_URL_ENVIRONMENT_KEY           = "REDIS_ENDPOINT_URL"
	DEFAULT_REDIS_ENDPOINT_URL                   = "localhost:6379"
	REDIS_PASSWORD_ENVIRONMENT_KEY               = "REDIS_PASSWORD"
	REDIS_DB_ENVIRONMENT_KEY                     = "REDIS_DB"
	DEFAULT_REDIS_DB                             = 0
	ASSET_ORIGIN_URL_ENVIRONMENT_KEY             = "ASSET_ORIGIN_URL"
	STATIC_ASSETS_DIR_ENVIRONMENT_KEY            = "STATIC_ASSETS_DIR"
	DEFAULT_STATIC_ASSETS_DIR                    = "./public"
	APP_ENTRY_PATH_ENVIRONMENT_KEY               = "APP_ENTRY_PATH"
	DEFAULT_APP_ENTRY_PATH                       = "/codes.html"
	PRECACHE_MANIFEST_PATH_ENVIRONMENT_KEY       = "PRECACHE_MANIFEST_PATH"
	UPSTREAM_TIMEOUT_SECONDS_ENVIRONMENT_KEY     = "UPSTREAM_TIMEOUT_SECONDS"
	DEFAULT_UPSTREAM_TIMEOUT_SECONDS             = 30
	MAX_BODY_BYTES_ENVIRONMENT_KEY               = "MAX_BODY_BYTES"
	DEFAULT_MAX_BODY_BYTES                       = 10 << 20
	SKIP_WAITING_ENVIRONMENT_KEY                 = "SKIP_WAITING"
	DEFAULT_SKIP_WAITING                         = true
	PROXY_CACHE_REFRESH_INTERVAL_ENVIRONMENT_KEY = "PROXY_CACHE_REFRESH_INTERVAL"
	DEFAULT_PROXY_CACHE_REFRESH_INTERVAL         = "0s"
	RATE_LIMIT_RPS_ENVIRONMENT_KEY               = "RATE_LIMIT_RPS"
	RATE_LIMIT_BURST_ENVIRONMENT_KEY             = "RATE_LIMIT_BURST"
	CODES_TABLE_URL_ENVIRONMENT_KEY              = "CODES_TABLE_URL"
	DEFAULT_CODES_TABLE_URL                      = "https://raw.githubusercontent.com/tinklegames/redirect/main/codes.json"
	METRICS_ENABLED_ENVIRONMENT_KEY              = "METRICS_ENABLED"
	DEFAULT_METRICS_ENABLED                      = true
)

const (
	CacheBackendMemory  = "memory"
	CacheBackendLevelDB = "leveldb"
	CacheBackendRedis   = "redis"
)

var (
	ErrEmptyBareServerList = errors.New("bare server list must not be empty")
)

// EnvOrDefault fetches an environment variable value, or if not set returns the fallback value
func EnvOrDefault(key string, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// EnvOrDefaultInt fetches an environment variable value as an int, or if not set (or not parsable) returns the fallback value
func EnvOrDefaultInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		intVal, err := strconv.Atoi(val)
		if err != nil {
			return fallback
		}
		return intVal
	}
	return fallback
}

// EnvOrDefaultBool fetches an environment variable value as a bool, or if not set (or not parsable) returns the fallback value
func EnvOrDefaultBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		boolVal, err := strconv.ParseBool(val)
		if err != nil {
			return fallback
		}
		return boolVal
	}
	return fallback
}

// EnvOrDefaultFloat fetches an environment variable value as a float64, or if not set (or not parsable) returns the fallback value
func EnvOrDefaultFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		floatVal, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fallback
		}
		return floatVal
	}
	return fallback
}

// ParseRawBareServerURLs parses a comma separated list of bare server
// URL prefixes, e.g. `https://bare.one/,https://bare.two/`.
// Order is preserved, blank entries are ignored and every
// entry must be an absolute http(s) URL.
func ParseRawBareServerURLs(raw string) ([]string, error) {
	var servers []string

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parsed, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bare server url %s: %w", entry, err)
		}

		if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("bare server url %s must be an absolute http(s) url", entry)
		}

		servers = append(servers, entry)
	}

	if len(servers) == 0 {
		return nil, ErrEmptyBareServerList
	}

	return servers, nil
}

// ReadConfig attempts to parse service config from environment values
// the returned config may be invalid and should be validated via the `Validate`
// function of the Config package before use
func ReadConfig() Config {
	rawBareServerURLs := EnvOrDefault(BARE_SERVER_URLS_ENVIRONMENT_KEY, DEFAULT_BARE_SERVER_URLS)
	// best effort, Validate reports the parse error
	parsedBareServerURLs, _ := ParseRawBareServerURLs(rawBareServerURLs)

	rawRefreshInterval := EnvOrDefault(PROXY_CACHE_REFRESH_INTERVAL_ENVIRONMENT_KEY, DEFAULT_PROXY_CACHE_REFRESH_INTERVAL)
	// best effort, Validate reports the parse error
	refreshInterval, _ := time.ParseDuration(rawRefreshInterval)

	return Config{
		LogLevel:                     EnvOrDefault(LOG_LEVEL_ENVIRONMENT_KEY, DEFAULT_LOG_LEVEL),
		ProxyServicePort:             EnvOrDefault(PROXY_SERVICE_PORT_ENVIRONMENT_KEY, DEFAULT_PROXY_SERVICE_PORT),
		BareServerURLsRaw:            rawBareServerURLs,
		BareServerURLs:               parsedBareServerURLs,
		AppCacheName:                 EnvOrDefault(APP_CACHE_NAME_ENVIRONMENT_KEY, DEFAULT_APP_CACHE_NAME),
		ProxyCacheName:               EnvOrDefault(PROXY_CACHE_NAME_ENVIRONMENT_KEY, DEFAULT_PROXY_CACHE_NAME),
		CacheBackend:                 EnvOrDefault(CACHE_BACKEND_ENVIRONMENT_KEY, DEFAULT_CACHE_BACKEND),
		CachePrefix:                  EnvOrDefault(CACHE_PREFIX_ENVIRONMENT_KEY, DEFAULT_CACHE_PREFIX),
		LevelDBPath:                  EnvOrDefault(LEVELDB_PATH_ENVIRONMENT_KEY, DEFAULT_LEVELDB_PATH),
		RedisEndpointURL:             EnvOrDefault(REDIS_ENDPOINT_URL_ENVIRONMENT_KEY, DEFAULT_REDIS_ENDPOINT_URL),
		RedisPassword:                EnvOrDefault(REDIS_PASSWORD_ENVIRONMENT_KEY, ""),
		RedisDB:                      EnvOrDefaultInt(REDIS_DB_ENVIRONMENT_KEY, DEFAULT_REDIS_DB),
		AssetOriginURL:               EnvOrDefault(ASSET_ORIGIN_URL_ENVIRONMENT_KEY, ""),
		StaticAssetsDir:              EnvOrDefault(STATIC_ASSETS_DIR_ENVIRONMENT_KEY, DEFAULT_STATIC_ASSETS_DIR),
		AppEntryPath:                 EnvOrDefault(APP_ENTRY_PATH_ENVIRONMENT_KEY, DEFAULT_APP_ENTRY_PATH),
		PrecacheManifestPath:         EnvOrDefault(PRECACHE_MANIFEST_PATH_ENVIRONMENT_KEY, ""),
		UpstreamTimeout:              time.Duration(EnvOrDefaultInt(UPSTREAM_TIMEOUT_SECONDS_ENVIRONMENT_KEY, DEFAULT_UPSTREAM_TIMEOUT_SECONDS)) * time.Second,
		MaxBodyBytes:                 int64(EnvOrDefaultInt(MAX_BODY_BYTES_ENVIRONMENT_KEY, DEFAULT_MAX_BODY_BYTES)),
		SkipWaiting:                  EnvOrDefaultBool(SKIP_WAITING_ENVIRONMENT_KEY, DEFAULT_SKIP_WAITING),
		ProxyCacheRefreshIntervalRaw: rawRefreshInterval,
		ProxyCacheRefreshInterval:    refreshInterval,
		RateLimitRPS:                 EnvOrDefaultFloat(RATE_LIMIT_RPS_ENVIRONMENT_KEY, 0),
		RateLimitBurst:               EnvOrDefaultInt(RATE_LIMIT_BURST_ENVIRONMENT_KEY, 0),
		CodesTableURL:                EnvOrDefault(CODES_TABLE_URL_ENVIRONMENT_KEY, DEFAULT_CODES_TABLE_URL),
		MetricsEnabled:               EnvOrDefaultBool(METRICS_ENABLED_ENVIRONMENT_KEY, DEFAULT_METRICS_ENABLED),
	}
}
