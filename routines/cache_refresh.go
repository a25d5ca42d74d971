// package routines provides configuration and logic
// for running background routines such as the periodic
// refresh of the proxy asset cache
package routines

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinklegames/tinkle-proxy-service/logging"
)

var (
	ErrInvalidInterval = errors.New("routine interval must be positive")
)

// ProxyAssetRefresher re-warms the proxy asset cache namespace
type ProxyAssetRefresher interface {
	RefreshProxyAssets(ctx context.Context) (int, error)
}

// CacheRefreshRoutineConfig wraps values used
// for creating a new cache refresh routine
type CacheRefreshRoutineConfig struct {
	Interval   time.Duration
	StartDelay time.Duration
	Refresher  ProxyAssetRefresher
	Logger     *logging.ServiceLogger
}

// CacheRefreshRoutine can be used to
// run a background routine on a configurable interval
// to fetch the proxy assets into the cache again
type CacheRefreshRoutine struct {
	id         string
	interval   time.Duration
	startDelay time.Duration
	refresher  ProxyAssetRefresher
	*logging.ServiceLogger
}

// Run starts refreshing the proxy asset cache every interval until ctx is done,
// returning error (if any) from starting the routine and an error channel which
// any errors encountered during running will be sent on. The channel is closed
// once the routine stops.
func (cr *CacheRefreshRoutine) Run(ctx context.Context) (<-chan error, error) {
	errorChannel := make(chan error, 1)

	go func() {
		defer close(errorChannel)

		select {
		case <-time.After(cr.startDelay):
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(cr.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-ticker.C:
				cr.Trace().Msg(fmt.Sprintf("%s tick at %+v", cr.id, tick))

				cached, err := cr.refresher.RefreshProxyAssets(ctx)
				if err != nil {
					// never block the ticker on a reader that went away
					select {
					case errorChannel <- fmt.Errorf("%s: %w", cr.id, err):
					default:
					}
					continue
				}

				cr.Debug().Msg(fmt.Sprintf("%s refreshed %d proxy assets", cr.id, cached))
			}
		}
	}()

	return errorChannel, nil
}

// NewCacheRefreshRoutine creates a new cache refresh routine
// using the provided config, returning the routine and error (if any)
func NewCacheRefreshRoutine(config CacheRefreshRoutineConfig) (*CacheRefreshRoutine, error) {
	if config.Interval <= 0 {
		return nil, ErrInvalidInterval
	}

	return &CacheRefreshRoutine{
		id:            uuid.New().String(),
		interval:      config.Interval,
		startDelay:    config.StartDelay,
		refresher:     config.Refresher,
		ServiceLogger: config.Logger,
	}, nil
}
