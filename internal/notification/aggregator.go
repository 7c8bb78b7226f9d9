package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"estatedesk.io/dashboard/internal/domain"
	"estatedesk.io/dashboard/internal/pkg/worker"
)

// ErrClosed is returned by Refresh once the aggregator has been closed.
var ErrClosed = errors.New("notification aggregator closed")

// Source fetches complete collections; pagination is the source's concern.
// *crmapi.Client satisfies it.
type Source interface {
	ListViewings(ctx context.Context) ([]domain.Viewing, error)
	ListProperties(ctx context.Context) ([]domain.Property, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
}

// Runner runs tasks concurrently and waits for all of them. *worker.Pool
// satisfies it.
type Runner interface {
	Run(ctx context.Context, tasks ...worker.FallibleTask) error
}

// Aggregator owns one user's notification list. All list mutation goes
// through Refresh, MarkAsRead and MarkAllAsRead.
type Aggregator struct {
	userID   string
	source   Source
	runner   Runner
	rules    Rules
	observer Observer
	now      func() time.Time

	// refreshMu serializes refreshes; an overlapping call waits its turn.
	refreshMu sync.Mutex

	mu            sync.RWMutex
	items         []Notification
	lastRefreshed time.Time
	lastErr       error
	closed        bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRules overrides DefaultRules.
func WithRules(r Rules) Option {
	return func(a *Aggregator) { a.rules = r }
}

// WithObserver sets the refresh outcome observer.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an empty aggregator for userID. Fetches fan out on
// runner.
func NewAggregator(userID string, source Source, runner Runner, opts ...Option) *Aggregator {
	a := &Aggregator{
		userID:   userID,
		source:   source,
		runner:   runner,
		rules:    DefaultRules(),
		observer: nopObserver{},
		now:      time.Now,
		items:    []Notification{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Refresh fetches the three collections concurrently, derives a new list and
// swaps it in, carrying read state forward by ID. Any fetch failure abandons
// the refresh and keeps the previous list. Results are discarded when the
// aggregator is closed or ctx is cancelled before they are applied; a ctx
// deadline counts as a failed refresh.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	if a.isClosed() {
		return ErrClosed
	}

	start := time.Now()
	var src Sources
	err := a.runner.Run(ctx,
		func(ctx context.Context) error {
			v, err := a.source.ListViewings(ctx)
			if err != nil {
				return fmt.Errorf("fetch viewings: %w", err)
			}
			src.Viewings = v
			return nil
		},
		func(ctx context.Context) error {
			p, err := a.source.ListProperties(ctx)
			if err != nil {
				return fmt.Errorf("fetch properties: %w", err)
			}
			src.Properties = p
			return nil
		},
		func(ctx context.Context) error {
			c, err := a.source.ListClients(ctx)
			if err != nil {
				return fmt.Errorf("fetch clients: %w", err)
			}
			src.Clients = c
			return nil
		},
	)
	took := time.Since(start)

	// Cancellation means the owner went away; a deadline is an ordinary failure.
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if err != nil {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		a.lastErr = err
		a.mu.Unlock()
		a.observer.RefreshFailed(a.userID, err, took)
		return err
	}

	now := a.now()
	next := Derive(now, src, a.rules)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	read := make(map[string]struct{}, len(a.items))
	for _, n := range a.items {
		if n.Read {
			read[n.ID] = struct{}{}
		}
	}
	for i := range next {
		if _, ok := read[next[i].ID]; ok {
			next[i].Read = true
		}
	}
	a.items = next
	a.lastRefreshed = now
	a.lastErr = nil
	unread := UnreadCount(next)
	a.mu.Unlock()

	a.observer.RefreshSucceeded(a.userID, len(next), unread, took)
	return nil
}

// MarkAsRead marks one notification read. It reports whether id was present.
func (a *Aggregator) MarkAsRead(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.items {
		if a.items[i].ID == id {
			a.items[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllAsRead marks every current notification read and returns how many
// changed.
func (a *Aggregator) MarkAllAsRead() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	changed := 0
	for i := range a.items {
		if !a.items[i].Read {
			a.items[i].Read = true
			changed++
		}
	}
	return changed
}

// Notifications returns a copy of the current ranked list.
func (a *Aggregator) Notifications() []Notification {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Notification, len(a.items))
	copy(out, a.items)
	return out
}

// Snapshot is a consistent view of the list and its status.
type Snapshot struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
	LastRefreshed time.Time      `json:"last_refreshed"`
	LastError     string         `json:"last_error,omitempty"`
}

// Snapshot returns the list, unread count and refresh status read under one
// lock, so the count always matches the list.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Snapshot{
		Notifications: make([]Notification, len(a.items)),
		UnreadCount:   UnreadCount(a.items),
		LastRefreshed: a.lastRefreshed,
	}
	copy(s.Notifications, a.items)
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	return s
}

// UnreadCount returns the number of unread notifications.
func (a *Aggregator) UnreadCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return UnreadCount(a.items)
}

// LastRefreshed returns the time of the last applied refresh; zero before
// the first one.
func (a *Aggregator) LastRefreshed() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastRefreshed
}

// LastError returns the failure of the most recent refresh, or nil if it
// succeeded.
func (a *Aggregator) LastError() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Close ends the aggregator. Refreshes still in flight are discarded.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.items = []Notification{}
}

func (a *Aggregator) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}
