package offlinegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const notificationIcon = "/static/favicon.png"

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Notifier displays notifications to the user.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
}

// Window is an open page controlled by the gateway.
type Window interface {
	Focus(ctx context.Context) error
}

// Clients gives access to the open pages.
type Clients interface {
	Windows(ctx context.Context) ([]Window, error)
	OpenWindow(ctx context.Context, url string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) ShowNotification(ctx context.Context, notification Notification) error {
	n.Logger.Info().
		Str("title", notification.Title).
		Str("body", notification.Body).
		Str("tag", notification.Tag).
		Msg("Notification")
	return nil
}

// Push shows a notification for a received push message.
// The payload is JSON with `title` and `body`; defaults are used for
// whatever is missing or unreadable.
func (g *Gateway) Push(ctx context.Context, payload []byte) error {
	n := g.defaultNotification()
	if len(payload) > 0 {
		var data struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := json.Unmarshal(payload, &data); err != nil {
			g.log.Debug().Err(err).Msg("Push payload is not JSON, using defaults")
		} else {
			if data.Title != "" {
				n.Title = data.Title
			}
			if data.Body != "" {
				n.Body = data.Body
			}
		}
	}
	if err := g.notifier.ShowNotification(ctx, n); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	return nil
}

func (g *Gateway) defaultNotification() Notification {
	return Notification{
		Title: g.appName + " - Notification",
		Body:  "You have a new notification",
		Icon:  notificationIcon,
		Badge: notificationIcon,
		Tag:   strings.ToLower(g.appName) + "-notification",
	}
}

// NotificationClick focuses an open page, or opens one at the root path.
func (g *Gateway) NotificationClick(ctx context.Context) error {
	if g.clients == nil {
		g.log.Debug().Msg("Notification clicked, no clients to focus")
		return nil
	}
	windows, err := g.clients.Windows(ctx)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}
	if len(windows) > 0 {
		return windows[0].Focus(ctx)
	}
	return g.clients.OpenWindow(ctx, "/")
}
