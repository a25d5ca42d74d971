package cachemdw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/tinklegames/tinkle-proxy-service/clients/cache"
	"github.com/tinklegames/tinkle-proxy-service/logging"
)

// Store is responsible for versioned cache namespaces of own-asset responses
// Store can work with any underlying storage which implements simple cache.Cache interface
type Store struct {
	cacheClient cache.Cache
	// cachePrefix is used as prefix for any key in the cache
	cachePrefix string

	*logging.ServiceLogger
}

func NewStore(
	cacheClient cache.Cache,
	cachePrefix string,
	logger *logging.ServiceLogger,
) *Store {
	return &Store{
		cacheClient:   cacheClient,
		cachePrefix:   cachePrefix,
		ServiceLogger: logger,
	}
}

// Namespace is a handle on one named partition of the Store
type Namespace struct {
	name  string
	store *Store
}

func validNamespaceName(name string) bool {
	return name != "" && !strings.Contains(name, ":")
}

// Open registers namespace name (if not yet present) and returns a handle to it
func (s *Store) Open(ctx context.Context, name string) (*Namespace, error) {
	if !validNamespaceName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNamespaceName, name)
	}

	if err := s.cacheClient.Set(ctx, GetNamespaceKey(s.cachePrefix, name), []byte(name), cache.NoExpiration); err != nil {
		return nil, fmt.Errorf("failed to register namespace %s: %w", name, err)
	}

	return &Namespace{name: name, store: s}, nil
}

// Names enumerates every namespace present in storage, sorted
func (s *Store) Names(ctx context.Context) ([]string, error) {
	markerPrefix := GetNamespaceKey(s.cachePrefix, "")

	keys, err := s.cacheClient.Keys(ctx, markerPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, markerPrefix))
	}
	sort.Strings(names)

	return names, nil
}

// Delete purges namespace name and every entry stored in it.
// Entries go first so a failure never leaves entries without a marker.
func (s *Store) Delete(ctx context.Context, name string) error {
	if !validNamespaceName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespaceName, name)
	}

	entryKeys, err := s.cacheClient.Keys(ctx, GetEntryKeyPrefix(s.cachePrefix, name))
	if err != nil {
		return fmt.Errorf("failed to list entries of namespace %s: %w", name, err)
	}

	for _, key := range entryKeys {
		if err := s.cacheClient.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete entry %s of namespace %s: %w", key, name, err)
		}
	}

	if err := s.cacheClient.Delete(ctx, GetNamespaceKey(s.cachePrefix, name)); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", name, err)
	}

	s.Logger.Debug().
		Str("namespace", name).
		Int("entries", len(entryKeys)).
		Msg("deleted cache namespace")

	return nil
}

// Match looks the request up across every namespace, returning the first hit
// and the name of the namespace that held it
func (s *Store) Match(ctx context.Context, r *http.Request) (*StoredResponse, string, error) {
	if !IsRequestCacheable(r) {
		return nil, "", ErrRequestIsNotCacheable
	}

	names, err := s.Names(ctx)
	if err != nil {
		return nil, "", err
	}

	for _, name := range names {
		resp, err := (&Namespace{name: name, store: s}).Match(ctx, r)
		if err == nil {
			return resp, name, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return nil, "", err
		}
	}

	return nil, "", cache.ErrNotFound
}

// Healthcheck reports whether the underlying storage is reachable
func (s *Store) Healthcheck(ctx context.Context) error {
	return s.cacheClient.Healthcheck(ctx)
}

// IsRequestCacheable reports whether a request may be matched or stored,
// only GET and HEAD are
func IsRequestCacheable(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func (n *Namespace) Name() string {
	return n.name
}

func (n *Namespace) entryKey(r *http.Request) string {
	return GetEntryKey(n.store.cachePrefix, n.name, RequestIdentity(r.Method, r.URL.RequestURI()))
}

// Match returns the response stored for the request.
// cache.ErrNotFound is returned on a miss, any other error means storage is unavailable.
func (n *Namespace) Match(ctx context.Context, r *http.Request) (*StoredResponse, error) {
	if !IsRequestCacheable(r) {
		return nil, ErrRequestIsNotCacheable
	}

	data, err := n.store.cacheClient.Get(ctx, n.entryKey(r))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			n.store.Logger.Error().
				Str("namespace", n.name).
				Str("url", r.URL.String()).
				Err(err).
				Msg("error during getting response from cache")
		}
		return nil, err
	}

	resp, err := UnmarshalStoredResponse(data)
	if err != nil {
		n.store.Logger.Error().
			Str("namespace", n.name).
			Str("url", r.URL.String()).
			Err(err).
			Msg("can't unmarshal stored response")
		return nil, err
	}

	return resp, nil
}

// Put stores resp for the request, replacing any previous entry
func (n *Namespace) Put(ctx context.Context, r *http.Request, resp *StoredResponse) error {
	if r.Method != http.MethodGet {
		return ErrRequestIsNotCacheable
	}
	if !resp.IsCacheable() {
		return ErrResponseIsNotCacheable
	}

	data, err := resp.Marshal()
	if err != nil {
		return err
	}

	key := n.entryKey(r)
	if err := n.store.cacheClient.Set(ctx, key, data, cache.NoExpiration); err != nil {
		n.store.Logger.Error().
			Str("namespace", n.name).
			Str("url", r.URL.String()).
			Err(err).
			Msg("error during setting response in cache")
		return err
	}

	n.store.Logger.Trace().
		Str("namespace", n.name).
		Str("url", r.URL.String()).
		Str("key", key).
		Msg("response stored in cache")

	return nil
}
