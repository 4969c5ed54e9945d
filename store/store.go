package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aluiziolira/ss-monitor/config"
	"github.com/aluiziolira/ss-monitor/models"
)

// Store is the full persistence surface used by the monitor.
type Store interface {
	Get(ctx context.Context, externalID string) (models.Listing, bool, error)
	Save(ctx context.Context, listing models.Listing, entry *models.PriceHistoryEntry) error
	Touch(ctx context.Context, externalID string, seenAt time.Time) error
	ListStale(ctx context.Context, before time.Time) ([]models.Listing, error)
	History(ctx context.Context, externalID string) ([]models.PriceHistoryEntry, error)
	CountListings(ctx context.Context) (total, active int, err error)

	CreateSubscription(ctx context.Context, s models.Subscription) (models.Subscription, bool, error)
	GetSubscription(ctx context.Context, id int64) (models.Subscription, error)
	ActiveSubscriptions(ctx context.Context) ([]models.Subscription, error)
	SubscriberSubscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error)
	SubscriptionsForURL(ctx context.Context, targetURL string) ([]models.Subscription, error)
	DeactivateSubscription(ctx context.Context, subscriberID string, id int64) error
	SetSubscriptionFrequency(ctx context.Context, subscriberID string, id int64, f models.Frequency) error
	SetSubscriberFrequency(ctx context.Context, subscriberID string, f models.Frequency) (int, error)

	Cursor(ctx context.Context, subscriberID string) (models.ScanCursor, bool, error)
	SaveCursor(ctx context.Context, c models.ScanCursor) error

	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)

// Open returns the store selected by cfg.Store.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}
