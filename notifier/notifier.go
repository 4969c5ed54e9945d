// Package notifier delivers listing events to subscribers.
package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/ss-monitor/models"
)

// Kind distinguishes notification events.
type Kind string

const (
	KindNewListing  Kind = "new_listing"
	KindPriceChange Kind = "price_change"
)

// Notification is one message for one subscription about one listing.
type Notification struct {
	PassID         string         `json:"pass_id"`
	SubscriberID   string         `json:"subscriber_id"`
	SubscriptionID int64          `json:"subscription_id"`
	Kind           Kind           `json:"kind"`
	Listing        models.Listing `json:"listing"`
	OldPrice       *float64       `json:"old_price,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Notifier delivers a notification. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier logging through logger, or the default logger when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n at info level.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	attrs := []slog.Attr{
		slog.String("pass_id", n.PassID),
		slog.String("subscriber", n.SubscriberID),
		slog.Int64("subscription", n.SubscriptionID),
		slog.String("kind", string(n.Kind)),
		slog.String("external_id", n.Listing.ExternalID),
		slog.String("title", n.Listing.Title),
		slog.String("url", n.Listing.URL),
	}
	if n.Listing.Price != nil {
		attrs = append(attrs, slog.Float64("price", *n.Listing.Price))
	}
	if n.OldPrice != nil {
		attrs = append(attrs, slog.Float64("old_price", *n.OldPrice))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "notification", attrs...)
	return nil
}
