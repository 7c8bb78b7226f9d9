package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk.io/dashboard/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestNewPools(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	assert.NotNil(t, pools.General)
	assert.NotNil(t, pools.Fetch)
}

func TestPool_Submit(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 4, FetchPoolSize: 4})
	require.NoError(t, err)
	defer pools.Shutdown()

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	err = pools.General.Submit(ctx, func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	require.NoError(t, err)

	wg.Wait()
	assert.True(t, executed.Load())
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pools.General.Submit(cancelledCtx, func(ctx context.Context) {
		t.Error("task should not execute with cancelled context")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_Run_WaitsForAllTasks(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 1, FetchPoolSize: 3})
	require.NoError(t, err)
	defer pools.Shutdown()

	var done atomic.Int32
	slow := func(d time.Duration) FallibleTask {
		return func(ctx context.Context) error {
			time.Sleep(d)
			done.Add(1)
			return nil
		}
	}

	err = pools.Fetch.Run(context.Background(), slow(5*time.Millisecond), slow(15*time.Millisecond), slow(1*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int32(3), done.Load())
}

func TestPool_Run_JoinsErrors(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	errA := errors.New("viewings failed")
	var ranOthers atomic.Int32

	err = pools.Fetch.Run(context.Background(),
		func(ctx context.Context) error { return errA },
		func(ctx context.Context) error { ranOthers.Add(1); return nil },
		func(ctx context.Context) error { ranOthers.Add(1); return nil },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, int32(2), ranOthers.Load(), "sibling tasks still settle")
}

func TestPool_Run_RecoversPanic(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	err = pools.Fetch.Run(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestPool_Run_CancelledContext(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pools.Fetch.Run(ctx, func(ctx context.Context) error {
		t.Error("task should not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPools_SubmitDetached(t *testing.T) {
	tests := []struct {
		name     string
		poolName string
	}{
		{"general pool", "general"},
		{"fetch pool", "fetch"},
		{"default fallback", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pools, err := NewPools(context.Background(), DefaultPoolConfig())
			require.NoError(t, err)

			var executed atomic.Bool
			var wg sync.WaitGroup
			wg.Add(1)

			err = pools.SubmitDetached(tt.poolName, func(ctx context.Context) {
				executed.Store(true)
				wg.Done()
			})
			require.NoError(t, err)

			wg.Wait()
			pools.Shutdown()

			assert.True(t, executed.Load())
		})
	}
}

func TestPools_Metrics(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 10, FetchPoolSize: 5})
	require.NoError(t, err)
	defer pools.Shutdown()

	metrics := pools.Metrics()
	assert.Equal(t, PoolStats{Running: 0, Free: 10, Cap: 10}, metrics[PoolGeneral])
	assert.Equal(t, 5, metrics[PoolFetch].Cap)
}

func TestNewPools_ZeroSizesUseDefaults(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{})
	require.NoError(t, err)
	defer pools.Shutdown()

	def := DefaultPoolConfig()
	metrics := pools.Metrics()
	assert.Equal(t, def.GeneralPoolSize, metrics[PoolGeneral].Cap)
	assert.Equal(t, def.FetchPoolSize, metrics[PoolFetch].Cap)
}

func TestPools_SubmitDetachedAfterShutdown(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	pools.Shutdown()

	err = pools.SubmitDetached(PoolGeneral, func(context.Context) {
		t.Error("task should not run")
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
}
