// Package matcher decides whether a listing satisfies a subscription's filters.
package matcher

import (
	"fmt"

	"github.com/aluiziolira/ss-monitor/models"
)

// Matches reports whether l passes every bound of s. Bounds are inclusive. A listing
// that lacks the bounded field is not excluded by that bound.
func Matches(l models.Listing, s models.Subscription) bool {
	return Explain(l, s) == ""
}

// Explain returns the first criterion l fails, or "" when it matches.
func Explain(l models.Listing, s models.Subscription) string {
	if s.Category != "" && l.Category != s.Category {
		return fmt.Sprintf("category %q, want %q", l.Category, s.Category)
	}
	if reason := checkFloat("price", l.Price, s.MinPrice, s.MaxPrice); reason != "" {
		return reason
	}
	if reason := checkFloat("area", l.Area, s.MinArea, s.MaxArea); reason != "" {
		return reason
	}
	if l.Rooms != nil {
		rooms := float64(*l.Rooms)
		if reason := checkFloat("rooms", &rooms, intToFloat(s.MinRooms), intToFloat(s.MaxRooms)); reason != "" {
			return reason
		}
	}
	return ""
}

func checkFloat(field string, value, min, max *float64) string {
	if value == nil {
		return ""
	}
	if min != nil && *value < *min {
		return fmt.Sprintf("%s %g below minimum %g", field, *value, *min)
	}
	if max != nil && *value > *max {
		return fmt.Sprintf("%s %g above maximum %g", field, *value, *max)
	}
	return ""
}

func intToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
