package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/notification"
	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
	"estatedesk.io/dashboard/internal/session"
)

// NotificationFeed is the body of GET /notifications.
type NotificationFeed struct {
	Items         []notification.Notification `json:"items"`
	UnreadCount   int                         `json:"unread_count"`
	LastRefreshed *time.Time                  `json:"last_refreshed,omitempty"`
	// RefreshFailed is true when the latest refresh failed and Items is the
	// previous list.
	RefreshFailed bool `json:"refresh_failed"`
}

// UnreadCountResponse is the body of GET /notifications/unread-count.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// ReadResponse reports the result of a mark-as-read call.
type ReadResponse struct {
	Updated     int `json:"updated"`
	UnreadCount int `json:"unread_count"`
}

func feedOf(snap notification.Snapshot, unreadOnly bool) NotificationFeed {
	feed := NotificationFeed{
		Items:         snap.Notifications,
		UnreadCount:   snap.UnreadCount,
		RefreshFailed: snap.LastError != "",
	}
	if !snap.LastRefreshed.IsZero() {
		t := snap.LastRefreshed
		feed.LastRefreshed = &t
	}
	if unreadOnly {
		unread := make([]notification.Notification, 0, snap.UnreadCount)
		for _, n := range snap.Notifications {
			if !n.Read {
				unread = append(unread, n)
			}
		}
		feed.Items = unread
	}
	return feed
}

// ListNotifications handles GET /notifications.
func (s *Server) ListNotifications(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, feedOf(sess.Notifications.Snapshot(), c.Query("unread_only") == "true"))
}

// GetUnreadCount handles GET /notifications/unread-count.
func (s *Server) GetUnreadCount(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, UnreadCountResponse{Count: sess.Notifications.UnreadCount()})
}

// MarkNotificationRead handles POST /notifications/{notification_id}/read.
// Unknown IDs are a no-op: the notification may have been dropped by a
// refresh since the dashboard last polled.
func (s *Server) MarkNotificationRead(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	updated := 0
	if sess.Notifications.MarkAsRead(c.Param("notification_id")) {
		updated = 1
	}
	c.JSON(http.StatusOK, ReadResponse{Updated: updated, UnreadCount: sess.Notifications.UnreadCount()})
}

// MarkAllNotificationsRead handles POST /notifications/read-all.
func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	changed := sess.Notifications.MarkAllAsRead()
	c.JSON(http.StatusOK, ReadResponse{Updated: changed, UnreadCount: sess.Notifications.UnreadCount()})
}

// RefreshNotifications handles POST /notifications/refresh: an immediate
// refresh outside the polling schedule. On failure the previous list stays.
func (s *Server) RefreshNotifications(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	if err := sess.Notifications.Refresh(c.Request.Context()); err != nil {
		_ = c.Error(refreshError(err))
		return
	}
	c.JSON(http.StatusOK, feedOf(sess.Notifications.Snapshot(), false))
}

func refreshError(err error) error {
	switch {
	case errors.Is(err, notification.ErrClosed),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, crmapi.ErrUnauthorized):
		appErr := apperrors.ErrSessionExpired()
		appErr.Err = err
		return appErr
	case errors.Is(err, crmapi.ErrForbidden):
		appErr := apperrors.ErrAccessDenied("You are not authorized to view some of the records notifications are built from. Please contact your administrator.")
		appErr.Err = err
		return appErr
	default:
		return apperrors.ErrCRMUnavailable(err)
	}
}
