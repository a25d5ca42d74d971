package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("value not found in the cache")

// NoExpiration keeps a value until it is deleted
const NoExpiration time.Duration = -1

// Cache is a raw key-value store for byte blobs
type Cache interface {
	Set(ctx context.Context, key string, data []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Keys returns every live key starting with prefix, in no particular order
	Keys(ctx context.Context, prefix string) ([]string, error)
	Healthcheck(ctx context.Context) error
}
