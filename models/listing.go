// Package models defines data structures shared by the monitor's packages.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Currency is the currency of a listing price. The zero value means absent.
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyLVL Currency = "LVL"
)

// Valid reports whether c is absent or one of the supported currencies.
func (c Currency) Valid() bool {
	switch c {
	case "", CurrencyEUR, CurrencyUSD, CurrencyLVL:
		return true
	default:
		return false
	}
}

// Listing categories derived from section URLs or listing titles.
const (
	CategoryApartment = "apartment"
	CategoryHouse     = "house"
)

// Listing represents a single real-estate advertisement tracked by its site id.
type Listing struct {
	ExternalID  string    `csv:"external_id" json:"external_id"`
	Title       string    `csv:"title" json:"title"`
	URL         string    `csv:"url" json:"url"`
	Price       *float64  `csv:"price" json:"price,omitempty"`
	Currency    Currency  `csv:"currency" json:"currency,omitempty"`
	Recurring   bool      `csv:"recurring" json:"recurring"`
	Location    string    `csv:"location" json:"location,omitempty"`
	Area        *float64  `csv:"area" json:"area,omitempty"`
	Rooms       *int      `csv:"rooms" json:"rooms,omitempty"`
	Floor       *int      `csv:"floor" json:"floor,omitempty"`
	TotalFloors *int      `csv:"total_floors" json:"total_floors,omitempty"`
	Category    string    `csv:"category" json:"category,omitempty"`
	ImageURL    string    `csv:"image_url" json:"image_url,omitempty"`
	Description string    `csv:"description" json:"description,omitempty"`
	Active      bool      `csv:"active" json:"active"`
	FirstSeenAt time.Time `csv:"first_seen_at" json:"first_seen_at"`
	LastSeenAt  time.Time `csv:"last_seen_at" json:"last_seen_at"`
}

// Validate ensures the extractor produced a record that can be reconciled.
func (l *Listing) Validate() error {
	if l == nil {
		return fmt.Errorf("listing is nil")
	}
	if strings.TrimSpace(l.ExternalID) == "" {
		return fmt.Errorf("listing missing external id")
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("listing %s missing title", l.ExternalID)
	}
	if strings.TrimSpace(l.URL) == "" {
		return fmt.Errorf("listing %s missing url", l.ExternalID)
	}
	if l.Price != nil && *l.Price < 0 {
		return fmt.Errorf("listing %s has negative price", l.ExternalID)
	}
	if !l.Currency.Valid() {
		return fmt.Errorf("listing %s has unsupported currency %q", l.ExternalID, l.Currency)
	}
	if l.Area != nil && *l.Area <= 0 {
		return fmt.Errorf("listing %s has non-positive area", l.ExternalID)
	}
	if l.Rooms != nil && *l.Rooms <= 0 {
		return fmt.Errorf("listing %s has non-positive room count", l.ExternalID)
	}
	if l.Floor != nil && *l.Floor <= 0 {
		return fmt.Errorf("listing %s has non-positive floor", l.ExternalID)
	}
	if l.TotalFloors != nil && *l.TotalFloors <= 0 {
		return fmt.Errorf("listing %s has non-positive total floors", l.ExternalID)
	}
	return nil
}

// ChangeKind classifies a price history transition.
type ChangeKind string

const (
	ChangeFirstSeen    ChangeKind = "first-seen"
	ChangePriceChanged ChangeKind = "price-changed"
	ChangeRemoved      ChangeKind = "removed"
)

// PriceHistoryEntry is one append-only transition in a listing's price timeline.
type PriceHistoryEntry struct {
	ID         int64      `json:"id"`
	ExternalID string     `json:"external_id"`
	OldPrice   *float64   `json:"old_price"`
	NewPrice   *float64   `json:"new_price"`
	Currency   Currency   `json:"currency,omitempty"`
	Kind       ChangeKind `json:"change_kind"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// PricesEqual treats two absent prices as equal and absent vs present as different.
func PricesEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
