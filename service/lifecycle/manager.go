// package lifecycle owns the cache namespaces of the service generation:
// warming them on install, purging stale generations on activation and
// answering the control messages that drive both
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tinklegames/tinkle-proxy-service/clients/origin"
	"github.com/tinklegames/tinkle-proxy-service/config"
	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/metrics"
	"github.com/tinklegames/tinkle-proxy-service/service/bare"
	"github.com/tinklegames/tinkle-proxy-service/service/cachemdw"
)

type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	// StateInstalled is waiting for activation
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
)

// States lists every state in lifecycle order
var States = []string{
	string(StateNew),
	string(StateInstalling),
	string(StateInstalled),
	string(StateActivating),
	string(StateActive),
}

var (
	ErrNotInstalled = errors.New("service generation is not installed")
)

// how many assets are fetched from the origin at once while precaching
const precacheConcurrency = 4

// Config wraps values used to create a Manager
type Config struct {
	AppCacheName   string
	ProxyCacheName string
	Manifest       config.Manifest
	// SkipWaiting activates the generation as soon as it is installed
	SkipWaiting bool
}

// Manager drives the install and activation of the service generation
type Manager struct {
	config   Config
	store    *cachemdw.Store
	origin   origin.Origin
	registry bare.Registry
	metrics  *metrics.Metrics

	// transitions serializes state changes
	transitions sync.Mutex
	mu          sync.RWMutex
	state       State
	app         *cachemdw.Namespace
	proxy       *cachemdw.Namespace

	*logging.ServiceLogger
}

func New(
	config Config,
	store *cachemdw.Store,
	origin origin.Origin,
	registry bare.Registry,
	metrics *metrics.Metrics,
	logger *logging.ServiceLogger,
) *Manager {
	m := &Manager{
		config:        config,
		store:         store,
		origin:        origin,
		registry:      registry,
		metrics:       metrics,
		state:         StateNew,
		ServiceLogger: logger,
	}
	m.metrics.SetLifecycleState(string(StateNew), States)

	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsActive reports whether requests may be intercepted
func (m *Manager) IsActive() bool {
	return m.State() == StateActive
}

// AppNamespace is the current application namespace, nil before install
func (m *Manager) AppNamespace() *cachemdw.Namespace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.app
}

// ProxyNamespace is the current proxy asset namespace, nil before install
func (m *Manager) ProxyNamespace() *cachemdw.Namespace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proxy
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.metrics.SetLifecycleState(string(state), States)
	m.Logger.Info().
		Str("state", string(state)).
		Msg("lifecycle state changed")
}

// Install opens both namespaces and warms them with the manifest assets.
// Individual asset failures never fail the install, only storage being
// unavailable does. With SkipWaiting set the generation activates right away.
func (m *Manager) Install(ctx context.Context) error {
	installed, err := m.install(ctx)
	if err != nil || !installed {
		return err
	}

	if m.config.SkipWaiting {
		return m.Activate(ctx)
	}

	return nil
}

// install reports false when the generation was installed before
func (m *Manager) install(ctx context.Context) (bool, error) {
	m.transitions.Lock()
	defer m.transitions.Unlock()

	if m.State() != StateNew {
		return false, nil
	}
	m.setState(StateInstalling)

	app, err := m.store.Open(ctx, m.config.AppCacheName)
	if err != nil {
		m.setState(StateNew)
		return false, err
	}
	proxy, err := m.store.Open(ctx, m.config.ProxyCacheName)
	if err != nil {
		m.setState(StateNew)
		return false, err
	}

	m.mu.Lock()
	m.app = app
	m.proxy = proxy
	m.mu.Unlock()

	appCached := m.Precache(ctx, app, m.config.Manifest.App)
	if appCached < len(m.config.Manifest.App) {
		m.Logger.Error().
			Int("cached", appCached).
			Int("total", len(m.config.Manifest.App)).
			Msg("failed to cache some application assets")
	}

	proxyCached := m.Precache(ctx, proxy, m.config.Manifest.Proxy)
	m.Logger.Debug().
		Int("cached", proxyCached).
		Int("total", len(m.config.Manifest.Proxy)).
		Msg("proxy assets cached")

	m.setState(StateInstalled)

	return true, nil
}

// Precache fetches every path from the origin into namespace, returning how
// many were stored. Failures are logged and skipped.
func (m *Manager) Precache(ctx context.Context, namespace *cachemdw.Namespace, paths []string) int {
	var (
		mu     sync.Mutex
		stored int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(precacheConcurrency)

	for _, assetPath := range paths {
		group.Go(func() error {
			if err := m.precacheAsset(groupCtx, namespace, assetPath); err != nil {
				m.Logger.Debug().
					Str("namespace", namespace.Name()).
					Str("path", assetPath).
					Err(err).
					Msg("asset not cached")
				return nil
			}

			mu.Lock()
			stored++
			mu.Unlock()
			return nil
		})
	}
	// the workers never fail, failures are per asset
	_ = group.Wait()

	return stored
}

func (m *Manager) precacheAsset(ctx context.Context, namespace *cachemdw.Namespace, assetPath string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, assetPath, nil)
	if err != nil {
		return err
	}

	response, err := m.origin.Fetch(ctx, http.MethodGet, request.URL.RequestURI(), nil)
	if err != nil {
		return err
	}

	storedResponse := cachemdw.NewStoredResponse(response.Status, response.Header, response.Body)
	if !storedResponse.IsCacheable() {
		return fmt.Errorf("origin answered %d", response.Status)
	}

	return namespace.Put(ctx, request, storedResponse)
}

// Activate switches interception on, then purges every namespace that is not
// one of the two current ones. The generation stays active when purging fails.
func (m *Manager) Activate(ctx context.Context) error {
	m.transitions.Lock()
	defer m.transitions.Unlock()

	switch m.State() {
	case StateActive:
		return nil
	case StateInstalled:
	default:
		return ErrNotInstalled
	}

	m.setState(StateActivating)
	// claim: interception starts before stale generations are gone
	m.setState(StateActive)

	if err := m.PurgeStale(ctx); err != nil {
		m.Logger.Error().
			Err(err).
			Msg("failed to purge stale cache namespaces")
	}

	return nil
}

// PurgeStale deletes every namespace other than the two current ones
func (m *Manager) PurgeStale(ctx context.Context) error {
	names, err := m.store.Names(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if name == m.config.AppCacheName || name == m.config.ProxyCacheName {
			continue
		}

		m.Logger.Info().
			Str("namespace", name).
			Msg("deleting stale cache namespace")

		if err := m.store.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SkipWaiting forces an installed generation to activate
func (m *Manager) SkipWaiting(ctx context.Context) error {
	return m.Activate(ctx)
}

// RefreshProxyAssets re-fetches the proxy asset manifest into the proxy namespace
func (m *Manager) RefreshProxyAssets(ctx context.Context) (int, error) {
	proxy := m.ProxyNamespace()
	if proxy == nil {
		return 0, ErrNotInstalled
	}

	return m.Precache(ctx, proxy, m.config.Manifest.Proxy), nil
}

// Servers is the content of the backend registry
func (m *Manager) Servers() []string {
	return m.registry.Servers()
}
