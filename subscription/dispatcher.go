package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aluiziolira/ss-monitor/models"
	"github.com/aluiziolira/ss-monitor/session"
	"github.com/aluiziolira/ss-monitor/store"
)

const helpText = `SS.lv monitor

/add <url> [1h|4h|12h|1d] - watch a section
/list - your subscriptions
/remove <id> - stop watching a section
/frequency <1h|4h|12h|1d> [id] - change how often sections are scanned
/status - scan status and statistics
/cancel - abort the current step

Section URLs look like:
https://www.ss.lv/lv/real-estate/flats/riga/
https://www.ss.lv/lv/real-estate/homes-summer-residences/riga/`

// ListingCounter reports how many listings are stored.
type ListingCounter interface {
	CountListings(ctx context.Context) (total, active int, err error)
}

// StatusReporter describes a subscriber's scan state.
type StatusReporter interface {
	DescribeSubscriber(subscriberID string) string
}

// Dispatcher turns chat messages into subscription operations and text replies.
type Dispatcher struct {
	manager  *Manager
	sessions *session.Store
	counter  ListingCounter
	status   StatusReporter
}

// NewDispatcher wires a dispatcher. counter and status may be nil.
func NewDispatcher(manager *Manager, sessions *session.Store, counter ListingCounter, status StatusReporter) *Dispatcher {
	return &Dispatcher{manager: manager, sessions: sessions, counter: counter, status: status}
}

// Handle answers one message from subscriberID.
func (d *Dispatcher) Handle(ctx context.Context, subscriberID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		cmd := strings.ToLower(fields[0])
		if at := strings.IndexByte(cmd, '@'); at > 0 {
			cmd = cmd[:at]
		}
		return d.command(ctx, subscriberID, cmd, fields[1:])
	}

	sess := d.sessions.Get(subscriberID)
	switch sess.State {
	case session.StateAwaitingURL:
		return d.addURLs(ctx, subscriberID, strings.Fields(text))
	case session.StateAwaitingFrequency:
		return d.setFrequency(ctx, subscriberID, strings.Fields(text))
	case session.StateAwaitingRemoval:
		return d.remove(ctx, subscriberID, strings.Fields(text))
	default:
		return "Send /help to see what I can do."
	}
}

func (d *Dispatcher) command(ctx context.Context, subscriberID, cmd string, args []string) string {
	switch cmd {
	case "/start", "/help":
		d.sessions.Reset(subscriberID)
		return helpText
	case "/cancel":
		d.sessions.Reset(subscriberID)
		return "Cancelled."
	case "/add":
		if len(args) == 0 {
			d.sessions.Set(session.Session{SubscriberID: subscriberID, State: session.StateAwaitingURL})
			return "Send one or more section URLs, one per line."
		}
		return d.addURLs(ctx, subscriberID, args)
	case "/list":
		return d.list(ctx, subscriberID)
	case "/remove":
		if len(args) == 0 {
			d.sessions.Set(session.Session{SubscriberID: subscriberID, State: session.StateAwaitingRemoval})
			return "Which subscription? Send its id.\n\n" + d.list(ctx, subscriberID)
		}
		return d.remove(ctx, subscriberID, args)
	case "/frequency":
		if len(args) == 0 {
			d.sessions.Set(session.Session{SubscriberID: subscriberID, State: session.StateAwaitingFrequency})
			return "How often should your sections be scanned? Send 1h, 4h, 12h or 1d."
		}
		return d.setFrequency(ctx, subscriberID, args)
	case "/status":
		return d.describe(ctx, subscriberID)
	default:
		return "Unknown command. Send /help."
	}
}

func (d *Dispatcher) addURLs(ctx context.Context, subscriberID string, args []string) string {
	var freq models.Frequency
	urls := args
	if parsed, err := models.ParseFrequency(args[len(args)-1]); err == nil {
		freq = parsed
		urls = args[:len(args)-1]
	}
	if len(urls) == 0 {
		return "Send at least one section URL."
	}

	var b strings.Builder
	failed := false
	for _, raw := range urls {
		sub, created, err := d.manager.Subscribe(ctx, subscriberID, raw, freq, Filters{})
		switch {
		case err != nil:
			failed = true
			fmt.Fprintf(&b, "✗ %s: %s\n", raw, d.render(err))
		case created:
			fmt.Fprintf(&b, "✓ #%d %s %s, every %s\n", sub.ID, sub.Category, sub.LocationKey, sub.Frequency)
		default:
			fmt.Fprintf(&b, "• #%d already watched\n", sub.ID)
		}
	}
	if !failed {
		d.sessions.Reset(subscriberID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) list(ctx context.Context, subscriberID string) string {
	subs, err := d.manager.List(ctx, subscriberID)
	if err != nil {
		return d.render(err)
	}
	if len(subs) == 0 {
		return "You have no subscriptions. Use /add to watch a section."
	}
	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for _, s := range subs {
		fmt.Fprintf(&b, "#%d %s %s, every %s\n%s\n", s.ID, s.Category, s.LocationKey, s.Frequency, s.TargetURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) remove(ctx context.Context, subscriberID string, args []string) string {
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		return "Subscription ids are numbers, see /list."
	}
	if err := d.manager.Unsubscribe(ctx, subscriberID, id); err != nil {
		return d.render(err)
	}
	d.sessions.Reset(subscriberID)
	return fmt.Sprintf("Stopped watching #%d.", id)
}

func (d *Dispatcher) setFrequency(ctx context.Context, subscriberID string, args []string) string {
	if len(args) > 1 {
		id, err := strconv.ParseInt(strings.TrimPrefix(args[1], "#"), 10, 64)
		if err != nil {
			return "Subscription ids are numbers, see /list."
		}
		if err := d.manager.SetFrequency(ctx, subscriberID, id, args[0]); err != nil {
			return d.render(err)
		}
		d.sessions.Reset(subscriberID)
		return fmt.Sprintf("#%d is now scanned every %s.", id, strings.ToLower(args[0]))
	}

	n, err := d.manager.SetSubscriberFrequency(ctx, subscriberID, args[0])
	if err != nil {
		return d.render(err)
	}
	d.sessions.Reset(subscriberID)
	return fmt.Sprintf("Updated %d subscription(s) to every %s.", n, strings.ToLower(args[0]))
}

func (d *Dispatcher) describe(ctx context.Context, subscriberID string) string {
	stats, err := d.manager.Stats(ctx, subscriberID)
	if err != nil {
		return d.render(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subscriptions: %d\n", stats.Subscriptions)
	if len(stats.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(stats.Categories, ", "))
	}
	if len(stats.Cities) > 0 {
		fmt.Fprintf(&b, "Cities: %s\n", strings.Join(stats.Cities, ", "))
	}
	if d.counter != nil {
		if total, active, err := d.counter.CountListings(ctx); err == nil {
			fmt.Fprintf(&b, "Listings tracked: %d (%d active)\n", total, active)
		}
	}
	if d.status != nil {
		b.WriteString(d.status.DescribeSubscriber(subscriberID))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) render(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidURL):
		return "That is not an ss.lv real-estate section URL. Try again or /cancel."
	case errors.Is(err, models.ErrInvalidFrequency):
		return "Frequency must be one of 1h, 4h, 12h or 1d."
	case errors.Is(err, ErrInvalidFilter):
		return "The filter bounds are inconsistent."
	case errors.Is(err, store.ErrNotFound):
		return "No such subscription, see /list."
	default:
		slog.Error("subscription command failed", slog.Any("error", err))
		return "Something went wrong, please try again."
	}
}
