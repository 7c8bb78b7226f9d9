package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/pkg/logger"
)

// DefaultInterval is the refresh period of a Poller.
const DefaultInterval = 5 * time.Minute

// Refresher is what a Poller drives. *Aggregator satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Poller refreshes on activation and then on a fixed interval. Its lifetime
// belongs to the session: Stop halts the loop and waits for it.
type Poller struct {
	target   Refresher
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPoller creates a stopped poller. interval <= 0 means DefaultInterval;
// timeout bounds one refresh (<= 0 means the interval).
func NewPoller(target Refresher, interval, timeout time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = interval
	}
	if log == nil {
		log = logger.Component("notification_poller")
	}
	return &Poller{
		target:   target,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Start launches the loop. The first refresh runs immediately; later ones
// follow the ticker. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(loopCtx, p.done)
}

// Stop cancels the loop and waits for an in-flight refresh to return.
// Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// loop runs refreshes one at a time on this goroutine, so ticks never
// overlap; a tick that arrives while a refresh runs is dropped by the ticker.
func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.target.Refresh(refreshCtx)
	switch {
	case err == nil:
	case errors.Is(err, ErrClosed), ctx.Err() != nil:
		// Session ended; nothing to report.
	default:
		p.log.Debug("Scheduled refresh failed; next tick retries", zap.Error(err))
	}
}
