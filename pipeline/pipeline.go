// Package pipeline reconciles scraped listing snapshots against stored state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/ss-monitor/models"
)

// ErrInvalidListing marks an item rejected before it reached the repository.
var ErrInvalidListing = errors.New("pipeline: invalid listing")

// Repository is the listing storage the reconciler reads and writes.
type Repository interface {
	Get(ctx context.Context, externalID string) (models.Listing, bool, error)
	// Save writes the listing and, when entry is non-nil, appends it to the price
	// history in one atomic step.
	Save(ctx context.Context, listing models.Listing, entry *models.PriceHistoryEntry) error
	// Touch bumps LastSeenAt and reactivates the listing.
	Touch(ctx context.Context, externalID string, seenAt time.Time) error
	ListStale(ctx context.Context, before time.Time) ([]models.Listing, error)
}

// Change is a listing whose price moved in this reconciliation.
type Change struct {
	Listing  models.Listing
	OldPrice *float64
}

// ItemError records one listing that could not be reconciled.
type ItemError struct {
	ExternalID string
	Err        error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("listing %s: %v", e.ExternalID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Result classifies every scanned listing.
type Result struct {
	New       []models.Listing
	Changed   []Change
	Unchanged int
	Failed    []ItemError
}

// Reconciler turns a snapshot into change events and persisted state.
type Reconciler struct {
	repo Repository
	now  func() time.Time

	// serialises read-modify-write of a listing across concurrent scans of
	// overlapping sections
	mu sync.Mutex

	metrics metrics
}

// NewReconciler builds a reconciler over repo.
func NewReconciler(repo Repository) *Reconciler {
	return &Reconciler{
		repo:    repo,
		now:     time.Now,
		metrics: newMetrics(),
	}
}

// Reconcile compares scanned against stored state. Per-item failures are collected in
// Result.Failed and never abort the batch. Running the same snapshot twice writes no
// history the second time.
func (r *Reconciler) Reconcile(ctx context.Context, scanned []models.Listing) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result Result
	seen := make(map[string]struct{}, len(scanned))

	for _, listing := range scanned {
		if err := listing.Validate(); err != nil {
			r.metrics.addValidation("invalid_record")
			result.Failed = append(result.Failed, ItemError{
				ExternalID: listing.ExternalID,
				Err:        fmt.Errorf("%w: %w", ErrInvalidListing, err),
			})
			continue
		}
		if _, dup := seen[listing.ExternalID]; dup {
			r.metrics.addValidation("duplicate_id")
			continue
		}
		seen[listing.ExternalID] = struct{}{}

		if err := r.reconcileOne(ctx, listing, &result); err != nil {
			slog.Warn("reconcile listing failed",
				slog.String("external_id", listing.ExternalID),
				slog.Any("error", err),
			)
			r.metrics.addValidation("write_failed")
			result.Failed = append(result.Failed, ItemError{ExternalID: listing.ExternalID, Err: err})
			continue
		}
		r.metrics.incrementProcessed()
	}

	return result
}

func (r *Reconciler) reconcileOne(ctx context.Context, scanned models.Listing, result *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := r.now()
	stored, found, err := r.repo.Get(ctx, scanned.ExternalID)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	if !found {
		scanned.Active = true
		scanned.FirstSeenAt = now
		scanned.LastSeenAt = now

		var entry *models.PriceHistoryEntry
		if scanned.Price != nil {
			entry = &models.PriceHistoryEntry{
				ExternalID: scanned.ExternalID,
				NewPrice:   scanned.Price,
				Currency:   scanned.Currency,
				Kind:       models.ChangeFirstSeen,
				RecordedAt: now,
			}
		}
		if err := r.repo.Save(ctx, scanned, entry); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		r.metrics.add("new")
		result.New = append(result.New, scanned)
		return nil
	}

	if models.PricesEqual(stored.Price, scanned.Price) {
		if err := r.repo.Touch(ctx, scanned.ExternalID, now); err != nil {
			return fmt.Errorf("touch: %w", err)
		}
		r.metrics.add("unchanged")
		result.Unchanged++
		return nil
	}

	updated := mergeListing(stored, scanned, now)
	entry := &models.PriceHistoryEntry{
		ExternalID: scanned.ExternalID,
		OldPrice:   stored.Price,
		NewPrice:   scanned.Price,
		Currency:   scanned.Currency,
		Kind:       models.ChangePriceChanged,
		RecordedAt: now,
	}
	if err := r.repo.Save(ctx, updated, entry); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	r.metrics.add("changed")
	result.Changed = append(result.Changed, Change{Listing: updated, OldPrice: stored.Price})
	return nil
}

// mergeListing overwrites the mutable fields of stored with the scanned values.
func mergeListing(stored, scanned models.Listing, now time.Time) models.Listing {
	stored.Title = scanned.Title
	stored.URL = scanned.URL
	stored.Price = scanned.Price
	stored.Currency = scanned.Currency
	stored.Recurring = scanned.Recurring
	stored.Location = scanned.Location
	stored.Area = scanned.Area
	stored.Rooms = scanned.Rooms
	stored.Floor = scanned.Floor
	stored.TotalFloors = scanned.TotalFloors
	stored.Description = scanned.Description
	stored.ImageURL = scanned.ImageURL
	if scanned.Category != "" {
		stored.Category = scanned.Category
	}
	stored.Active = true
	stored.LastSeenAt = now
	return stored
}

// Sweep deactivates active listings not seen since before and records a removed
// entry for each. When gone is non-nil, only stale listings it approves are
// deactivated. It returns how many listings were deactivated.
func (r *Reconciler) Sweep(ctx context.Context, before time.Time, gone func(models.Listing) bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale, err := r.repo.ListStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("list stale listings: %w", err)
	}

	now := r.now()
	var errs []error
	removed := 0
	for _, listing := range stale {
		if gone != nil && !gone(listing) {
			continue
		}
		listing.Active = false
		entry := &models.PriceHistoryEntry{
			ExternalID: listing.ExternalID,
			OldPrice:   listing.Price,
			NewPrice:   listing.Price,
			Currency:   listing.Currency,
			Kind:       models.ChangeRemoved,
			RecordedAt: now,
		}
		if err := r.repo.Save(ctx, listing, entry); err != nil {
			errs = append(errs, ItemError{ExternalID: listing.ExternalID, Err: err})
			continue
		}
		removed++
	}
	r.metrics.addN("removed", removed)

	return removed, errors.Join(errs...)
}

// GetMetrics returns a snapshot of the internal counters.
func (r *Reconciler) GetMetrics() map[string]interface{} {
	return r.metrics.snapshot()
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	outcomes   map[string]int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		outcomes:   make(map[string]int64),
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) add(outcome string) {
	m.addN(outcome, 1)
}

func (m *metrics) addN(outcome string, n int) {
	m.mu.Lock()
	m.outcomes[outcome] += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}
	copyOutcomes := make(map[string]int64, len(m.outcomes))
	for k, v := range m.outcomes {
		copyOutcomes[k] = v
	}

	return map[string]interface{}{
		"processed_listings": m.processed,
		"outcomes":           copyOutcomes,
		"validation_errors":  copyValidation,
	}
}
