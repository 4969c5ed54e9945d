// Package subscription implements the subscriber-facing operations and the chat
// command dispatcher that drives them.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/aluiziolira/ss-monitor/models"
)

// ErrInvalidFilter is returned when a bound's minimum exceeds its maximum.
var ErrInvalidFilter = errors.New("invalid filter")

// Store is the subscription persistence the manager needs.
type Store interface {
	CreateSubscription(ctx context.Context, s models.Subscription) (models.Subscription, bool, error)
	SubscriberSubscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error)
	DeactivateSubscription(ctx context.Context, subscriberID string, id int64) error
	SetSubscriptionFrequency(ctx context.Context, subscriberID string, id int64, f models.Frequency) error
	SetSubscriberFrequency(ctx context.Context, subscriberID string, f models.Frequency) (int, error)
}

// Filters are the optional bounds of a subscription.
type Filters struct {
	MinPrice, MaxPrice *float64
	MinArea, MaxArea   *float64
	MinRooms, MaxRooms *int
}

func (f Filters) validate() error {
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return fmt.Errorf("%w: min price above max price", ErrInvalidFilter)
	}
	if f.MinArea != nil && f.MaxArea != nil && *f.MinArea > *f.MaxArea {
		return fmt.Errorf("%w: min area above max area", ErrInvalidFilter)
	}
	if f.MinRooms != nil && f.MaxRooms != nil && *f.MinRooms > *f.MaxRooms {
		return fmt.Errorf("%w: min rooms above max rooms", ErrInvalidFilter)
	}
	return nil
}

// Stats summarises a subscriber's active subscriptions.
type Stats struct {
	Subscriptions int
	Categories    []string
	Cities        []string
}

// Manager validates and applies subscription changes.
type Manager struct {
	store Store
	host  string
}

// NewManager returns a manager over store that accepts sections hosted on baseURL's
// host. An empty baseURL accepts any host.
func NewManager(store Store, baseURL string) *Manager {
	m := &Manager{store: store}
	if u, err := url.Parse(baseURL); err == nil {
		m.host = strings.ToLower(u.Host)
	}
	return m
}

// Subscribe watches rawURL for subscriberID. An empty frequency means the default.
// Subscribing again to a URL already watched returns the existing subscription
// with created false and changes nothing.
func (m *Manager) Subscribe(ctx context.Context, subscriberID, rawURL string, freq models.Frequency, filters Filters) (models.Subscription, bool, error) {
	targetURL, err := models.NormalizeTargetURL(rawURL)
	if err != nil {
		return models.Subscription{}, false, err
	}
	if host := hostOf(targetURL); m.host != "" && host != m.host {
		return models.Subscription{}, false, fmt.Errorf("%w: %s is not on %s", models.ErrInvalidURL, host, m.host)
	}
	category, location, err := models.ParseTargetURL(targetURL)
	if err != nil {
		return models.Subscription{}, false, err
	}
	if freq == "" {
		freq = models.DefaultFrequency
	}
	if freq.Interval() == 0 {
		return models.Subscription{}, false, fmt.Errorf("%w %q", models.ErrInvalidFrequency, freq)
	}
	if err := filters.validate(); err != nil {
		return models.Subscription{}, false, err
	}

	sub, created, err := m.store.CreateSubscription(ctx, models.Subscription{
		SubscriberID: subscriberID,
		TargetURL:    targetURL,
		Category:     category,
		LocationKey:  location,
		Frequency:    freq,
		MinPrice:     filters.MinPrice,
		MaxPrice:     filters.MaxPrice,
		MinArea:      filters.MinArea,
		MaxArea:      filters.MaxArea,
		MinRooms:     filters.MinRooms,
		MaxRooms:     filters.MaxRooms,
	})
	if err != nil {
		return models.Subscription{}, false, fmt.Errorf("create subscription: %w", err)
	}
	if created {
		slog.Info("subscription created",
			slog.String("subscriber", subscriberID),
			slog.Int64("subscription", sub.ID),
			slog.String("url", targetURL),
			slog.String("frequency", string(freq)),
		)
	}
	return sub, created, nil
}

// Unsubscribe soft-deletes one of the subscriber's subscriptions.
func (m *Manager) Unsubscribe(ctx context.Context, subscriberID string, id int64) error {
	if err := m.store.DeactivateSubscription(ctx, subscriberID, id); err != nil {
		return fmt.Errorf("unsubscribe %d: %w", id, err)
	}
	slog.Info("subscription removed", slog.String("subscriber", subscriberID), slog.Int64("subscription", id))
	return nil
}

// SetFrequency changes one subscription's frequency.
func (m *Manager) SetFrequency(ctx context.Context, subscriberID string, id int64, raw string) error {
	freq, err := models.ParseFrequency(raw)
	if err != nil {
		return err
	}
	if err := m.store.SetSubscriptionFrequency(ctx, subscriberID, id, freq); err != nil {
		return fmt.Errorf("set frequency of %d: %w", id, err)
	}
	return nil
}

// SetSubscriberFrequency changes the frequency of all the subscriber's subscriptions
// and returns how many changed.
func (m *Manager) SetSubscriberFrequency(ctx context.Context, subscriberID, raw string) (int, error) {
	freq, err := models.ParseFrequency(raw)
	if err != nil {
		return 0, err
	}
	n, err := m.store.SetSubscriberFrequency(ctx, subscriberID, freq)
	if err != nil {
		return 0, fmt.Errorf("set subscriber frequency: %w", err)
	}
	return n, nil
}

// List returns the subscriber's active subscriptions.
func (m *Manager) List(ctx context.Context, subscriberID string) ([]models.Subscription, error) {
	subs, err := m.store.SubscriberSubscriptions(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// Stats summarises the subscriber's active subscriptions.
func (m *Manager) Stats(ctx context.Context, subscriberID string) (Stats, error) {
	subs, err := m.List(ctx, subscriberID)
	if err != nil {
		return Stats{}, err
	}

	categories := make(map[string]struct{})
	cities := make(map[string]struct{})
	for _, s := range subs {
		if s.Category != "" {
			categories[s.Category] = struct{}{}
		}
		if s.LocationKey != "" {
			cities[s.LocationKey] = struct{}{}
		}
	}
	return Stats{
		Subscriptions: len(subs),
		Categories:    sortedKeys(categories),
		Cities:        sortedKeys(cities),
	}, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func hostOf(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil {
		return ""
	}
	return u.Host
}
