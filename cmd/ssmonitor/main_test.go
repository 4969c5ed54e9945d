package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aluiziolira/ss-monitor/config"
	"github.com/aluiziolira/ss-monitor/models"
	"github.com/aluiziolira/ss-monitor/notifier"
	"github.com/aluiziolira/ss-monitor/store"
	"github.com/aluiziolira/ss-monitor/subscription"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("ssmonitor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Int("pages", 0, "")
	fs.Duration("tick", 0, "")
	fs.String("store", "", "")
	fs.String("notifiers", "", "")
	fs.Bool("v", false, "")
	return fs
}

func TestApplyFlagsOverridesOnlySetFlags(t *testing.T) {
	fs := newFlagSet()
	if err := fs.Parse([]string{"-pages", "9", "-store", "POSTGRES", "-v"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.TickInterval = 2 * time.Minute
	if err := applyFlags(fs, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.MaxPages != 9 || cfg.Store != "postgres" || !cfg.Verbose {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.TickInterval != 2*time.Minute {
		t.Fatalf("unset flag overwrote tick: %s", cfg.TickInterval)
	}
	if !reflect.DeepEqual(cfg.Notifiers, []string{"log"}) {
		t.Fatalf("unset notifiers flag changed notifiers: %v", cfg.Notifiers)
	}
}

func TestApplyFlagsRejectsEmptyNotifiers(t *testing.T) {
	fs := newFlagSet()
	if err := fs.Parse([]string{"-notifiers", " , "}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := applyFlags(fs, config.DefaultConfig()); err == nil {
		t.Fatal("expected error for empty notifier list")
	}
}

func TestBuildNotifierWritesAuditTrails(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Notifiers = []string{"log", "jsonl", "csv"}
	cfg.AuditFile = filepath.Join(dir, "notifications.jsonl")

	n, err := buildNotifier(cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := n.(*notifier.Cooldown); !ok {
		t.Fatalf("notifier = %T, want cooldown wrapper", n)
	}

	event := notifier.Notification{
		SubscriberID:   "42",
		SubscriptionID: 1,
		Kind:           notifier.KindNewListing,
		Listing:        models.Listing{ExternalID: "a1", Title: "Flat", URL: "https://www.ss.lv/msg/a1.html", Price: models.Float(90000)},
	}
	for i := 0; i < 2; i++ {
		if err := n.Notify(context.Background(), event); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	if err := n.(io.Closer).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := n.(*notifier.Cooldown).Suppressed(); got != 1 {
		t.Fatalf("suppressed = %d, want 1", got)
	}

	for _, name := range []string{"notifications.jsonl", "notifications.csv"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", name)
		}
	}
}

func TestBuildNotifierNeedsTelegramClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Notifiers = []string{"telegram"}
	if _, err := buildNotifier(cfg, nil); err == nil {
		t.Fatal("expected error without a telegram client")
	}
}

func TestCSVPath(t *testing.T) {
	tests := map[string]string{
		"output/notifications.jsonl": "output/notifications.csv",
		"audit.csv":                  "audit.csv",
		"audit":                      "audit.csv",
	}
	for in, want := range tests {
		if got := csvPath(in); got != want {
			t.Errorf("csvPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSeedSubscriptionsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	manager := subscription.NewManager(mem, config.DefaultConfig().BaseURL)
	seeds := []config.SeedSubscription{
		{Subscriber: "42", URL: "https://www.ss.lv/lv/real-estate/flats/riga/", Frequency: "4H", MaxPrice: models.Float(120000)},
		{Subscriber: "42", URL: "https://www.ss.lv/lv/transport/cars/"},
	}

	seedSubscriptions(ctx, manager, seeds)
	seedSubscriptions(ctx, manager, seeds)

	subs, _ := mem.SubscriberSubscriptions(ctx, "42")
	if len(subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(subs))
	}
	if subs[0].Frequency != models.FrequencyEvery4Hours || subs[0].MaxPrice == nil || *subs[0].MaxPrice != 120000 {
		t.Fatalf("subscription = %+v", subs[0])
	}
}
