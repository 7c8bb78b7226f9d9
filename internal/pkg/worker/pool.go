// Package worker provides goroutine pool management.
//
// Naked goroutines are avoided outside main and long-lived loops; concurrent
// work goes through a pool with context propagation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool names, as used by SubmitDetached and Metrics.
const (
	PoolGeneral = "general"
	PoolFetch   = "fetch"
)

// Task is a context-aware task function.
type Task func(ctx context.Context)

// FallibleTask is a task whose error is collected by Pool.Run.
type FallibleTask func(ctx context.Context) error

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// General runs detached background work (session janitor).
	General *Pool
	// Fetch runs CRM collection requests fanned out by notification refreshes.
	Fetch *Pool

	// serviceCtx is the service lifecycle context for detached tasks
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	GeneralPoolSize int
	FetchPoolSize   int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize: 16,
		FetchPoolSize:   64,
	}
}

// NewPools creates the worker pool collection.
// Zero sizes fall back to DefaultPoolConfig.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	def := DefaultPoolConfig()
	if cfg.GeneralPoolSize <= 0 {
		cfg.GeneralPoolSize = def.GeneralPoolSize
	}
	if cfg.FetchPoolSize <= 0 {
		cfg.FetchPoolSize = def.FetchPoolSize
	}
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, fmt.Errorf("create general pool: %w", err)
	}

	fetchAnts, err := ants.NewPool(cfg.FetchPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, fmt.Errorf("create fetch pool: %w", err)
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: PoolGeneral},
		Fetch:         &Pool{pool: fetchAnts, name: PoolFetch},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// If the context is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// May have been cancelled while queued.
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Run executes tasks concurrently on the pool and waits for all of them to
// settle. The returned error joins every task failure; a task skipped because
// ctx was cancelled reports ctx.Err(). A panicking task is reported as an error.
func (p *Pool) Run(ctx context.Context, tasks ...FallibleTask) error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s pool task panic: %v", p.name, r)
				}
				wg.Done()
			}()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = task(ctx)
		})
		if submitErr != nil {
			if errors.Is(submitErr, ants.ErrPoolClosed) {
				submitErr = ErrPoolClosed
			}
			errs[i] = submitErr
			wg.Done()
		}
	}

	wg.Wait()
	return errors.Join(errs...)
}

// SubmitDetached submits a background task bound to the service lifecycle
// context instead of a request context. It survives request cancellation but
// still stops on Shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.General
	if poolName == PoolFetch {
		pool = p.Fetch
	}

	err := pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Shutdown cancels the service context, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Fetch.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Fetch pool shutdown timeout", zap.Error(err))
	}
}

// PoolStats is a point-in-time view of one pool.
type PoolStats struct {
	Running int `json:"running"`
	Free    int `json:"free"`
	Cap     int `json:"cap"`
}

func (p *Pool) stats() PoolStats {
	return PoolStats{Running: p.pool.Running(), Free: p.pool.Free(), Cap: p.pool.Cap()}
}

// Metrics returns the utilisation of every pool, keyed by pool name.
func (p *Pools) Metrics() map[string]PoolStats {
	return map[string]PoolStats{
		PoolGeneral: p.General.stats(),
		PoolFetch:   p.Fetch.stats(),
	}
}
