package parser

import (
	"testing"

	"github.com/aluiziolira/ss-monitor/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantPrice     *float64
		wantCurrency  models.Currency
		wantRecurring bool
	}{
		{
			name:         "thousands comma",
			input:        "100,000 €",
			wantPrice:    models.Float(100000),
			wantCurrency: models.CurrencyEUR,
		},
		{
			name:          "monthly rent",
			input:         "850 €/mēn.",
			wantPrice:     models.Float(850),
			wantCurrency:  models.CurrencyEUR,
			wantRecurring: true,
		},
		{
			name:  "not a price",
			input: "not a price",
		},
		{
			name:         "space separated thousands",
			input:        "  85   000 €  ",
			wantPrice:    models.Float(85000),
			wantCurrency: models.CurrencyEUR,
		},
		{
			name:         "dot separated thousands",
			input:        "1.234.567 €",
			wantPrice:    models.Float(1234567),
			wantCurrency: models.CurrencyEUR,
		},
		{
			name:         "single dot group",
			input:        "Cena: 85.000 €",
			wantPrice:    models.Float(85000),
			wantCurrency: models.CurrencyEUR,
		},
		{
			name:         "decimal per square metre",
			input:        "1.25 €/m²",
			wantPrice:    models.Float(1.25),
			wantCurrency: models.CurrencyEUR,
		},
		{
			name:          "russian monthly marker",
			input:         "500 €/мес.",
			wantPrice:     models.Float(500),
			wantCurrency:  models.CurrencyEUR,
			wantRecurring: true,
		},
		{
			name:         "dollar glyph",
			input:        "120 000 $",
			wantPrice:    models.Float(120000),
			wantCurrency: models.CurrencyUSD,
		},
		{
			name:      "fallback digit runs without glyph",
			input:     "cena 45 000",
			wantPrice: models.Float(45000),
		},
		{
			name:         "fallback keeps currency word",
			input:        "EUR 12.500",
			wantPrice:    models.Float(12500),
			wantCurrency: models.CurrencyEUR,
		},
		{
			name:  "negative strict price rejected",
			input: "-500 €",
		},
		{
			name:  "negative fallback price rejected",
			input: "- 500",
		},
		{
			name:  "empty string",
			input: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.input)
			if !models.PricesEqual(got.Price, tt.wantPrice) {
				t.Errorf("ParsePrice(%q) price = %v, want %v", tt.input, deref(got.Price), deref(tt.wantPrice))
			}
			if got.Currency != tt.wantCurrency {
				t.Errorf("ParsePrice(%q) currency = %q, want %q", tt.input, got.Currency, tt.wantCurrency)
			}
			if got.Recurring != tt.wantRecurring {
				t.Errorf("ParsePrice(%q) recurring = %v, want %v", tt.input, got.Recurring, tt.wantRecurring)
			}
		})
	}
}

func TestParseRooms(t *testing.T) {
	tests := []struct {
		input string
		want  *int
	}{
		{input: "3", want: models.Int(3)},
		{input: " 2 ", want: models.Int(2)},
		{input: "0", want: nil},
		{input: "Citi", want: nil},
		{input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseRooms(tt.input)
			if !intsEqual(got, tt.want) {
				t.Errorf("ParseRooms(%q) = %v, want %v", tt.input, derefInt(got), derefInt(tt.want))
			}
		})
	}
}

func TestParseArea(t *testing.T) {
	tests := []struct {
		input string
		want  *float64
	}{
		{input: "75", want: models.Float(75)},
		{input: "54.5 m²", want: models.Float(54.5)},
		{input: "54,5", want: models.Float(54.5)},
		{input: "0", want: nil},
		{input: "-", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseArea(tt.input)
			if !models.PricesEqual(got, tt.want) {
				t.Errorf("ParseArea(%q) = %v, want %v", tt.input, deref(got), deref(tt.want))
			}
		})
	}
}

func TestParseFloor(t *testing.T) {
	tests := []struct {
		input     string
		wantFloor *int
		wantTotal *int
	}{
		{input: "2/5", wantFloor: models.Int(2), wantTotal: models.Int(5)},
		{input: "3 / 9", wantFloor: models.Int(3), wantTotal: models.Int(9)},
		{input: "4", wantFloor: models.Int(4)},
		{input: "0/5", wantTotal: models.Int(5)},
		{input: "pagrabs"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			floor, total := ParseFloor(tt.input)
			if !intsEqual(floor, tt.wantFloor) || !intsEqual(total, tt.wantTotal) {
				t.Errorf("ParseFloor(%q) = (%v, %v), want (%v, %v)", tt.input, derefInt(floor), derefInt(total), derefInt(tt.wantFloor), derefInt(tt.wantTotal))
			}
		})
	}
}

func TestExternalIDFromURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "https://www.ss.lv/msg/lv/real-estate/flats/riga/centre/bxhkc.html", expected: "bxhkc"},
		{input: "https://www.ss.lv/lv/real-estate/flats/riga/", expected: ""},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ExternalIDFromURL(tt.input); got != tt.expected {
				t.Errorf("ExternalIDFromURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCategoryFromTitle(t *testing.T) {
	if got := CategoryFromTitle("Pārdod 2-ist. dzīvoklis centrā"); got != models.CategoryApartment {
		t.Errorf("category = %q, want %q", got, models.CategoryApartment)
	}
	if got := CategoryFromTitle("Māja ar dārzu"); got != models.CategoryHouse {
		t.Errorf("category = %q, want %q", got, models.CategoryHouse)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "  centrs \n Ausekļa  3 ", expected: "centrs Ausekļa 3"},
		{input: "plain", expected: "plain"},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.expected {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func derefInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intsEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
