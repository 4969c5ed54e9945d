// Package store persists listings, price history, subscriptions and scan cursors.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/ss-monitor/models"
)

// ErrNotFound is returned when a requested record does not exist or is not visible
// to the caller.
var ErrNotFound = errors.New("store: not found")

// Memory keeps everything in process. Each method is one critical section, so a
// listing write and its history entry are applied together.
type Memory struct {
	mu sync.RWMutex

	listings  map[string]models.Listing
	history   []models.PriceHistoryEntry
	historyID int64

	subscriptions map[int64]models.Subscription
	subID         int64

	cursors map[string]models.ScanCursor

	now func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		listings:      make(map[string]models.Listing),
		subscriptions: make(map[int64]models.Subscription),
		cursors:       make(map[string]models.ScanCursor),
		now:           time.Now,
	}
}

// Get returns the listing stored under externalID.
func (m *Memory) Get(_ context.Context, externalID string) (models.Listing, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[externalID]
	return l, ok, nil
}

// Save upserts the listing and appends entry when non-nil.
func (m *Memory) Save(_ context.Context, listing models.Listing, entry *models.PriceHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listings[listing.ExternalID] = listing
	if entry != nil {
		m.historyID++
		e := *entry
		e.ID = m.historyID
		m.history = append(m.history, e)
	}
	return nil
}

// Touch bumps LastSeenAt and reactivates the listing.
func (m *Memory) Touch(_ context.Context, externalID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[externalID]
	if !ok {
		return ErrNotFound
	}
	l.LastSeenAt = seenAt
	l.Active = true
	m.listings[externalID] = l
	return nil
}

// ListStale returns active listings last seen before the given time.
func (m *Memory) ListStale(_ context.Context, before time.Time) ([]models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Listing
	for _, l := range m.listings {
		if l.Active && l.LastSeenAt.Before(before) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

// History returns the price timeline of a listing, oldest first.
func (m *Memory) History(_ context.Context, externalID string) ([]models.PriceHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PriceHistoryEntry
	for _, e := range m.history {
		if e.ExternalID == externalID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountListings returns the total and active listing counts.
func (m *Memory) CountListings(_ context.Context) (total, active int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, l := range m.listings {
		total++
		if l.Active {
			active++
		}
	}
	return total, active, nil
}

// CreateSubscription inserts s unless the subscriber already has an active
// subscription on the same URL, in which case the existing row is returned with
// created false.
func (m *Memory) CreateSubscription(_ context.Context, s models.Subscription) (models.Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.subscriptions {
		if existing.Active && existing.SubscriberID == s.SubscriberID && existing.TargetURL == s.TargetURL {
			return existing, false, nil
		}
	}

	now := m.now()
	m.subID++
	s.ID = m.subID
	s.Active = true
	s.CreatedAt = now
	s.UpdatedAt = now
	m.subscriptions[s.ID] = s
	return s, true, nil
}

// GetSubscription returns a subscription by id, active or not.
func (m *Memory) GetSubscription(_ context.Context, id int64) (models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subscriptions[id]
	if !ok {
		return models.Subscription{}, ErrNotFound
	}
	return s, nil
}

// ActiveSubscriptions returns every active subscription ordered by id.
func (m *Memory) ActiveSubscriptions(_ context.Context) ([]models.Subscription, error) {
	return m.filterSubscriptions(func(s models.Subscription) bool { return s.Active }), nil
}

// SubscriberSubscriptions returns the active subscriptions of one subscriber.
func (m *Memory) SubscriberSubscriptions(_ context.Context, subscriberID string) ([]models.Subscription, error) {
	return m.filterSubscriptions(func(s models.Subscription) bool {
		return s.Active && s.SubscriberID == subscriberID
	}), nil
}

// SubscriptionsForURL returns the active subscriptions watching targetURL.
func (m *Memory) SubscriptionsForURL(_ context.Context, targetURL string) ([]models.Subscription, error) {
	return m.filterSubscriptions(func(s models.Subscription) bool {
		return s.Active && s.TargetURL == targetURL
	}), nil
}

func (m *Memory) filterSubscriptions(keep func(models.Subscription) bool) []models.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Subscription
	for _, s := range m.subscriptions {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeactivateSubscription soft-deletes an active subscription owned by subscriberID.
func (m *Memory) DeactivateSubscription(_ context.Context, subscriberID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok || !s.Active || s.SubscriberID != subscriberID {
		return ErrNotFound
	}
	s.Active = false
	s.UpdatedAt = m.now()
	m.subscriptions[id] = s
	return nil
}

// SetSubscriptionFrequency changes the frequency of one active subscription.
func (m *Memory) SetSubscriptionFrequency(_ context.Context, subscriberID string, id int64, f models.Frequency) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok || !s.Active || s.SubscriberID != subscriberID {
		return ErrNotFound
	}
	s.Frequency = f
	s.UpdatedAt = m.now()
	m.subscriptions[id] = s
	return nil
}

// SetSubscriberFrequency changes the frequency of every active subscription of a
// subscriber and returns how many were updated.
func (m *Memory) SetSubscriberFrequency(_ context.Context, subscriberID string, f models.Frequency) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	updated := 0
	for id, s := range m.subscriptions {
		if s.Active && s.SubscriberID == subscriberID {
			s.Frequency = f
			s.UpdatedAt = now
			m.subscriptions[id] = s
			updated++
		}
	}
	return updated, nil
}

// Cursor returns the scan cursor of a subscriber.
func (m *Memory) Cursor(_ context.Context, subscriberID string) (models.ScanCursor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[subscriberID]
	return c, ok, nil
}

// SaveCursor creates or replaces a scan cursor.
func (m *Memory) SaveCursor(_ context.Context, c models.ScanCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[c.SubscriberID] = c
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
