package notifier

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aluiziolira/ss-monitor/models"
)

// FormatMessage renders the chat text for n.
func FormatMessage(n Notification) string {
	l := n.Listing
	var b strings.Builder

	switch {
	case n.Kind == KindPriceChange && n.OldPrice != nil && l.Price != nil:
		diff := *l.Price - *n.OldPrice
		marker := "📉"
		if diff > 0 {
			marker = "📈"
		}
		fmt.Fprintf(&b, "%s Price change!\n\n", marker)
		fmt.Fprintf(&b, "📝 %s\n", l.Title)
		fmt.Fprintf(&b, "💰 Was: %s\n", formatPrice(n.OldPrice, l.Currency, l.Recurring))
		fmt.Fprintf(&b, "💰 Now: %s\n", formatPrice(l.Price, l.Currency, l.Recurring))
		fmt.Fprintf(&b, "📊 Change: %s\n", formatDelta(*n.OldPrice, *l.Price, l.Currency))
	case n.Kind == KindPriceChange:
		b.WriteString("📈 Price change!\n\n")
		fmt.Fprintf(&b, "📝 %s\n", l.Title)
		fmt.Fprintf(&b, "💰 Was: %s\n", formatPrice(n.OldPrice, l.Currency, l.Recurring))
		fmt.Fprintf(&b, "💰 Now: %s\n", formatPrice(l.Price, l.Currency, l.Recurring))
	default:
		b.WriteString("🏠 New listing!\n\n")
		fmt.Fprintf(&b, "📝 %s\n", l.Title)
		fmt.Fprintf(&b, "💰 Price: %s\n", formatPrice(l.Price, l.Currency, l.Recurring))
	}

	if l.Location != "" {
		fmt.Fprintf(&b, "📍 Location: %s\n", l.Location)
	}
	if l.Area != nil {
		fmt.Fprintf(&b, "📐 Area: %s m²\n", strconv.FormatFloat(*l.Area, 'f', -1, 64))
	}
	if l.Rooms != nil {
		fmt.Fprintf(&b, "🚪 Rooms: %d\n", *l.Rooms)
	}
	if n.Kind != KindPriceChange && l.Floor != nil && l.TotalFloors != nil {
		fmt.Fprintf(&b, "🏢 Floor: %d/%d\n", *l.Floor, *l.TotalFloors)
	}

	fmt.Fprintf(&b, "\n🔗 %s", l.URL)
	return b.String()
}

func formatPrice(price *float64, currency models.Currency, recurring bool) string {
	if price == nil {
		return "not specified"
	}
	out := groupThousands(*price)
	if currency != "" {
		out += " " + string(currency)
	}
	if recurring {
		out += "/month"
	}
	return out
}

func formatDelta(oldPrice, newPrice float64, currency models.Currency) string {
	diff := newPrice - oldPrice
	sign := "-"
	if diff > 0 {
		sign = "+"
	}
	out := sign + groupThousands(math.Abs(diff))
	if currency != "" {
		out += " " + string(currency)
	}
	if oldPrice != 0 {
		out += fmt.Sprintf(" (%s%.1f%%)", sign, math.Abs(diff/oldPrice*100))
	}
	return out
}

// groupThousands rounds v to a whole number and inserts comma separators.
func groupThousands(v float64) string {
	digits := strconv.FormatFloat(math.Round(v), 'f', 0, 64)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
