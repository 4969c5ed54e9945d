// Package parser turns raw listing markup and text fragments into typed fields.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/ss-monitor/models"
)

var (
	// strictPriceRegexp matches digits with separators followed by a currency glyph.
	// The first alternative is dot-grouped thousands such as 1.234.567.
	strictPriceRegexp  = regexp.MustCompile(`(-?\d{1,3}(?:\.\d{3})+|-?\d[\d ,]*(?:\.\d+)?)\s*(€|\$|Ls)`)
	dotThousandsRegexp = regexp.MustCompile(`^-?\d{1,3}(?:\.\d{3})+$`)
	digitRunRegexp     = regexp.MustCompile(`\d+`)
	negativeRegexp     = regexp.MustCompile(`(?:^|\s)-\s*\d`)
	areaRegexp         = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)
	floorRegexp        = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
	externalIDRegexp   = regexp.MustCompile(`/([^/]+)\.html$`)

	recurringMarkers = []string{"/mēn.", "/мес.", "/mon.", "/month"}
)

// PriceInfo is the structured result of parsing a price fragment.
type PriceInfo struct {
	Price     *float64
	Currency  models.Currency
	Recurring bool
}

// ParsePrice extracts price, currency and the per-period flag from noisy text.
// It never fails: unparseable input yields an absent price.
func ParsePrice(text string) PriceInfo {
	text = NormalizeText(text)
	if text == "" {
		return PriceInfo{}
	}

	info := PriceInfo{Recurring: isRecurring(text)}

	if m := strictPriceRegexp.FindStringSubmatch(text); m != nil {
		number := strings.NewReplacer(" ", "", ",", "").Replace(m[1])
		if dotThousandsRegexp.MatchString(number) {
			number = strings.ReplaceAll(number, ".", "")
		}
		if strings.HasPrefix(number, "-") {
			return info
		}
		if v, err := strconv.ParseFloat(number, 64); err == nil {
			info.Price = &v
			info.Currency = glyphCurrency(m[2])
			return info
		}
	}

	// Lossy fallback: every digit run concatenated into one integer value.
	runs := digitRunRegexp.FindAllString(text, -1)
	if len(runs) == 0 || negativeRegexp.MatchString(text) {
		return info
	}
	v, err := strconv.ParseFloat(strings.Join(runs, ""), 64)
	if err != nil {
		return info
	}
	info.Price = &v
	info.Currency = detectCurrency(text)
	return info
}

func isRecurring(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range recurringMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func glyphCurrency(glyph string) models.Currency {
	switch glyph {
	case "€":
		return models.CurrencyEUR
	case "$":
		return models.CurrencyUSD
	case "Ls":
		return models.CurrencyLVL
	default:
		return ""
	}
}

func detectCurrency(text string) models.Currency {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(text, "€") || strings.Contains(upper, "EUR"):
		return models.CurrencyEUR
	case strings.Contains(text, "$") || strings.Contains(upper, "USD"):
		return models.CurrencyUSD
	case strings.Contains(upper, "LVL"):
		return models.CurrencyLVL
	default:
		return ""
	}
}

// ParseRooms returns a positive room count or nil.
func ParseRooms(text string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// ParseArea returns the first positive number in text, accepting a decimal comma.
func ParseArea(text string) *float64 {
	m := areaRegexp.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// ParseFloor understands "3/5" (floor 3 of 5) and a bare "3".
func ParseFloor(text string) (floor, total *int) {
	text = strings.TrimSpace(text)
	if m := floorRegexp.FindStringSubmatch(text); m != nil {
		return positiveInt(m[1]), positiveInt(m[2])
	}
	return positiveInt(text), nil
}

func positiveInt(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// ExternalIDFromURL extracts the site id from a detail-page link.
func ExternalIDFromURL(u string) string {
	m := externalIDRegexp.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	return m[1]
}

// CategoryFromTitle guesses the listing category when the section does not say.
func CategoryFromTitle(title string) string {
	lower := strings.ToLower(title)
	if strings.Contains(lower, "kv") || strings.Contains(lower, "dzīvoklis") {
		return models.CategoryApartment
	}
	return models.CategoryHouse
}

// NormalizeText trims and collapses internal whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
