package notification

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/pkg/logger"
)

// Observer receives the outcome of every refresh. Implementations must be
// safe for concurrent use.
type Observer interface {
	RefreshSucceeded(userID string, count, unread int, took time.Duration)
	RefreshFailed(userID string, err error, took time.Duration)
}

var (
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedesk_notification_refresh_total",
			Help: "Notification refreshes by result",
		},
		[]string{"result"},
	)

	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "estatedesk_notification_refresh_duration_seconds",
			Help:    "Duration of a notification refresh including the three CRM fetches",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	derivedNotifications = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "estatedesk_notification_derived_count",
			Help:    "Number of notifications derived per successful refresh",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)
)

// LogObserver logs refresh outcomes with zap and records Prometheus metrics.
type LogObserver struct {
	log *zap.Logger
}

// NewLogObserver creates the default observer.
func NewLogObserver() *LogObserver {
	return &LogObserver{log: logger.Component("notification")}
}

// RefreshSucceeded implements Observer.
func (o *LogObserver) RefreshSucceeded(userID string, count, unread int, took time.Duration) {
	refreshTotal.WithLabelValues("success").Inc()
	refreshDuration.Observe(took.Seconds())
	derivedNotifications.Observe(float64(count))

	o.log.Debug("Notifications refreshed",
		zap.String("user_id", userID),
		zap.Int("count", count),
		zap.Int("unread", unread),
		zap.Duration("took", took),
	)
}

// RefreshFailed implements Observer. Failures are transient by contract: the
// previous list is kept and the next tick retries.
func (o *LogObserver) RefreshFailed(userID string, err error, took time.Duration) {
	refreshTotal.WithLabelValues("failure").Inc()
	refreshDuration.Observe(took.Seconds())

	o.log.Warn("Notification refresh failed, keeping previous list",
		zap.String("user_id", userID),
		zap.Duration("took", took),
		zap.Error(err),
	)
}

type nopObserver struct{}

func (nopObserver) RefreshSucceeded(string, int, int, time.Duration) {}
func (nopObserver) RefreshFailed(string, error, time.Duration)       {}
