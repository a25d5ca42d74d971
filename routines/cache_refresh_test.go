package routines_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/tinklegames/tinkle-proxy-service/routines"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (cr *countingRefresher) RefreshProxyAssets(ctx context.Context) (int, error) {
	cr.calls.Add(1)
	return 3, cr.err
}

func TestUnitTestNewCacheRefreshRoutineRejectsInvalidInterval(t *testing.T) {
	_, err := routines.NewCacheRefreshRoutine(routines.CacheRefreshRoutineConfig{
		Interval:  0,
		Refresher: &countingRefresher{},
		Logger:    logging.NewNop(),
	})
	require.ErrorIs(t, err, routines.ErrInvalidInterval)
}

func TestUnitTestCacheRefreshRoutineRefreshesUntilCancelled(t *testing.T) {
	refresher := &countingRefresher{}
	routine, err := routines.NewCacheRefreshRoutine(routines.CacheRefreshRoutineConfig{
		Interval:  10 * time.Millisecond,
		Refresher: refresher,
		Logger:    logging.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs, err := routine.Run(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return refresher.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()

	// the channel closes once the routine stopped
	require.Eventually(t, func() bool {
		select {
		case _, open := <-errs:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUnitTestCacheRefreshRoutineReportsErrors(t *testing.T) {
	refreshErr := errors.New("origin down")
	routine, err := routines.NewCacheRefreshRoutine(routines.CacheRefreshRoutineConfig{
		Interval:  10 * time.Millisecond,
		Refresher: &countingRefresher{err: refreshErr},
		Logger:    logging.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs, err := routine.Run(ctx)
	require.NoError(t, err)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, refreshErr)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh error reported")
	}
}
