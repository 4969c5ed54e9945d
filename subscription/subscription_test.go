package subscription

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/ss-monitor/models"
	"github.com/aluiziolira/ss-monitor/session"
	"github.com/aluiziolira/ss-monitor/store"
)

const (
	siteURL     = "https://www.ss.lv"
	rigaFlats   = "https://www.ss.lv/lv/real-estate/flats/riga/all/"
	rigaHouses  = "https://www.ss.lv/lv/real-estate/homes-summer-residences/riga/"
	jurmalaFlat = "https://www.ss.lv/lv/real-estate/flats/jurmala/"
)

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), siteURL)

	sub, created, err := m.Subscribe(ctx, "42", "  "+rigaFlats+" ", "", Filters{MinPrice: models.Float(50000)})
	if err != nil || !created {
		t.Fatalf("subscribe: created=%v err=%v", created, err)
	}
	if sub.Category != models.CategoryApartment || sub.LocationKey != "riga" || sub.Frequency != models.DefaultFrequency || sub.TargetURL != rigaFlats {
		t.Fatalf("subscription = %+v", sub)
	}

	for _, spelling := range []string{rigaFlats, "https://WWW.SS.LV/lv/real-estate/flats/riga/all"} {
		again, created, err := m.Subscribe(ctx, "42", spelling, models.FrequencyDaily, Filters{})
		if err != nil || created || again.ID != sub.ID {
			t.Fatalf("re-subscribe %q should be a no-op: %+v created=%v err=%v", spelling, again, created, err)
		}
	}
}

func TestSubscribeErrors(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), siteURL)

	tests := []struct {
		name    string
		url     string
		freq    models.Frequency
		filters Filters
		want    error
	}{
		{name: "not real estate", url: "https://www.ss.lv/lv/transport/cars/", want: models.ErrInvalidURL},
		{name: "no host", url: "real-estate/flats/riga", want: models.ErrInvalidURL},
		{name: "bare domain", url: "https://ss.lv/lv/real-estate/flats/riga/all/", want: models.ErrInvalidURL},
		{name: "foreign host", url: "https://example.com/lv/real-estate/flats/riga/", want: models.ErrInvalidURL},
		{name: "bad frequency", url: rigaFlats, freq: "2h", want: models.ErrInvalidFrequency},
		{name: "inverted bounds", url: rigaFlats, filters: Filters{MinRooms: models.Int(4), MaxRooms: models.Int(2)}, want: ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := m.Subscribe(ctx, "42", tt.url, tt.freq, tt.filters); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestManagerFrequencyAndStats(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), siteURL)

	a, _, _ := m.Subscribe(ctx, "42", rigaFlats, models.FrequencyHourly, Filters{})
	m.Subscribe(ctx, "42", rigaHouses, models.FrequencyHourly, Filters{})
	m.Subscribe(ctx, "42", jurmalaFlat, models.FrequencyHourly, Filters{})

	if err := m.SetFrequency(ctx, "42", a.ID, "12H"); err != nil {
		t.Fatalf("set frequency: %v", err)
	}
	if err := m.SetFrequency(ctx, "7", a.ID, "12h"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign set frequency = %v, want ErrNotFound", err)
	}
	if n, err := m.SetSubscriberFrequency(ctx, "42", "4h"); err != nil || n != 3 {
		t.Fatalf("bulk frequency = %d err=%v", n, err)
	}

	if err := m.Unsubscribe(ctx, "42", a.ID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := m.Unsubscribe(ctx, "42", a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second unsubscribe = %v, want ErrNotFound", err)
	}

	stats, err := m.Stats(ctx, "42")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Subscriptions != 2 {
		t.Fatalf("subscriptions = %d, want 2", stats.Subscriptions)
	}
	if !reflect.DeepEqual(stats.Categories, []string{"apartment", "house"}) || !reflect.DeepEqual(stats.Cities, []string{"jurmala", "riga"}) {
		t.Fatalf("stats = %+v", stats)
	}
}

type fixedStatus string

func (f fixedStatus) DescribeSubscriber(string) string { return string(f) }

func newTestDispatcher() (*Dispatcher, *store.Memory) {
	mem := store.NewMemory()
	return NewDispatcher(NewManager(mem, siteURL), session.NewStore(16, time.Hour), mem, fixedStatus("Last scan: never")), mem
}

func TestDispatcherAddFlow(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDispatcher()

	if reply := d.Handle(ctx, "42", "/add"); !strings.Contains(reply, "Send one or more") {
		t.Fatalf("/add reply = %q", reply)
	}
	if reply := d.Handle(ctx, "42", "https://example.com/nope"); !strings.Contains(reply, "not an ss.lv") {
		t.Fatalf("invalid url reply = %q", reply)
	}
	reply := d.Handle(ctx, "42", rigaFlats+"\n"+rigaHouses)
	if !strings.Contains(reply, "✓ #1 apartment riga") || !strings.Contains(reply, "✓ #2 house riga") {
		t.Fatalf("add reply = %q", reply)
	}
	if reply := d.Handle(ctx, "42", "hello"); !strings.Contains(reply, "/help") {
		t.Fatalf("session should be idle after a successful add, reply = %q", reply)
	}

	if reply := d.Handle(ctx, "42", "/add "+rigaFlats+" 1d"); !strings.Contains(reply, "already watched") {
		t.Fatalf("duplicate add reply = %q", reply)
	}
	subs, _ := mem.SubscriberSubscriptions(ctx, "42")
	if len(subs) != 2 || subs[0].Frequency != models.FrequencyHourly {
		t.Fatalf("subscriptions = %+v", subs)
	}
}

func TestDispatcherCommands(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher()

	if reply := d.Handle(ctx, "42", "/list"); !strings.Contains(reply, "no subscriptions") {
		t.Fatalf("empty list = %q", reply)
	}
	d.Handle(ctx, "42", "/add "+rigaFlats+" 4h")
	d.Handle(ctx, "42", "/add@ssmonitor_bot "+jurmalaFlat)

	if reply := d.Handle(ctx, "42", "/list"); !strings.Contains(reply, "#1 apartment riga, every 4h") || !strings.Contains(reply, jurmalaFlat) {
		t.Fatalf("list = %q", reply)
	}

	if reply := d.Handle(ctx, "42", "/frequency 12h 1"); reply != "#1 is now scanned every 12h." {
		t.Fatalf("single frequency = %q", reply)
	}
	if reply := d.Handle(ctx, "42", "/frequency"); !strings.Contains(reply, "How often") {
		t.Fatalf("frequency prompt = %q", reply)
	}
	if reply := d.Handle(ctx, "42", "2h"); !strings.Contains(reply, "must be one of") {
		t.Fatalf("bad frequency = %q", reply)
	}
	if reply := d.Handle(ctx, "42", "1d"); reply != "Updated 2 subscription(s) to every 1d." {
		t.Fatalf("bulk frequency = %q", reply)
	}

	if reply := d.Handle(ctx, "42", "/remove 99"); !strings.Contains(reply, "No such subscription") {
		t.Fatalf("remove missing = %q", reply)
	}
	if reply := d.Handle(ctx, "42", "/remove"); !strings.Contains(reply, "Which subscription") {
		t.Fatalf("remove prompt = %q", reply)
	}
	if reply := d.Handle(ctx, "42", "#2"); reply != "Stopped watching #2." {
		t.Fatalf("remove = %q", reply)
	}

	status := d.Handle(ctx, "42", "/status")
	for _, want := range []string{"Subscriptions: 1", "Cities: riga", "Listings tracked: 0 (0 active)", "Last scan: never"} {
		if !strings.Contains(status, want) {
			t.Fatalf("status missing %q:\n%s", want, status)
		}
	}

	d.Handle(ctx, "42", "/add")
	if reply := d.Handle(ctx, "42", "/cancel"); reply != "Cancelled." {
		t.Fatalf("cancel = %q", reply)
	}
	if reply := d.Handle(ctx, "42", "/nope"); !strings.Contains(reply, "Unknown command") {
		t.Fatalf("unknown = %q", reply)
	}
}
