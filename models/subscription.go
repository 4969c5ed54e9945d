package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrInvalidURL is returned for target URLs that do not name a real-estate section.
	ErrInvalidURL = errors.New("invalid target url")
	// ErrInvalidFrequency is returned for frequencies outside the supported set.
	ErrInvalidFrequency = errors.New("invalid frequency")
)

// Frequency is how often a subscriber's sections are scanned.
type Frequency string

const (
	FrequencyHourly      Frequency = "1h"
	FrequencyEvery4Hours Frequency = "4h"
	FrequencyTwiceDaily  Frequency = "12h"
	FrequencyDaily       Frequency = "1d"
)

// DefaultFrequency is used when a subscription is created without one.
const DefaultFrequency = FrequencyHourly

// ParseFrequency converts user input to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if f.Interval() == 0 {
		return "", fmt.Errorf("%w %q (want 1h, 4h, 12h or 1d)", ErrInvalidFrequency, s)
	}
	return f, nil
}

// Interval returns the scan interval, or zero for an unknown frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyEvery4Hours:
		return 4 * time.Hour
	case FrequencyTwiceDaily:
		return 12 * time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Subscription is a subscriber's saved filter for one scraped section.
type Subscription struct {
	ID           int64     `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	TargetURL    string    `json:"target_url"`
	Category     string    `json:"category"`
	LocationKey  string    `json:"location_key"`
	Frequency    Frequency `json:"frequency"`
	MinPrice     *float64  `json:"min_price,omitempty"`
	MaxPrice     *float64  `json:"max_price,omitempty"`
	MinArea      *float64  `json:"min_area,omitempty"`
	MaxArea      *float64  `json:"max_area,omitempty"`
	MinRooms     *int      `json:"min_rooms,omitempty"`
	MaxRooms     *int      `json:"max_rooms,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScanCursor records when a subscriber was last scanned.
type ScanCursor struct {
	SubscriberID string    `json:"subscriber_id"`
	LastScanAt   time.Time `json:"last_scan_at"`
}

var categorySlugs = map[string]string{
	"flats":                   CategoryApartment,
	"homes-summer-residences": CategoryHouse,
}

// ParseTargetURL extracts the category and location key from a section URL such as
// https://www.ss.lv/lv/real-estate/flats/riga/all/.
func ParseTargetURL(raw string) (category, location string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w: %q must include a host", ErrInvalidURL, raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	idx := -1
	for i, p := range parts {
		if p == "real-estate" {
			idx = i
			break
		}
	}
	if idx < 0 || idx+2 >= len(parts) || parts[idx+1] == "" || parts[idx+2] == "" {
		return "", "", fmt.Errorf("%w: %q is not a real-estate section", ErrInvalidURL, raw)
	}

	category = parts[idx+1]
	if mapped, ok := categorySlugs[category]; ok {
		category = mapped
	}
	return category, parts[idx+2], nil
}

// NormalizeTargetURL canonicalises a section URL so equivalent spellings compare
// equal: scheme and host are lower-cased, the fragment is dropped and the path ends
// in a slash.
func NormalizeTargetURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q must include a host", ErrInvalidURL, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		u.RawPath = ""
	}
	return u.String(), nil
}

var dealSegments = map[string]bool{
	"all":       true,
	"sell":      true,
	"buy":       true,
	"hand_over": true,
	"change":    true,
}

// SectionPath returns the section segments below real-estate, so both
// .../real-estate/flats/riga/centre/all/sell/ and
// .../msg/lv/real-estate/flats/riga/centre/abcde.html yield "flats/riga/centre".
// URLs outside the real-estate tree yield "".
func SectionPath(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p != "real-estate" {
			continue
		}
		var section []string
		for _, seg := range parts[i+1:] {
			if seg == "" || dealSegments[seg] || strings.HasSuffix(seg, ".html") {
				break
			}
			section = append(section, seg)
		}
		return strings.Join(section, "/")
	}
	return ""
}

// SectionCovers reports whether the listing at listingURL is published under the
// section at targetURL or one of its sub-sections.
func SectionCovers(targetURL, listingURL string) bool {
	section, listing := SectionPath(targetURL), SectionPath(listingURL)
	if section == "" || listing == "" {
		return false
	}
	return listing == section || strings.HasPrefix(listing, section+"/")
}
