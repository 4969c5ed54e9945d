// Package scheduler decides which subscribers are due, scans their sections and turns
// reconciled changes into notifications.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/ss-monitor/config"
	"github.com/aluiziolira/ss-monitor/matcher"
	"github.com/aluiziolira/ss-monitor/models"
	"github.com/aluiziolira/ss-monitor/notifier"
	"github.com/aluiziolira/ss-monitor/pipeline"
	"github.com/google/uuid"
)

const (
	outcomeOK           = "ok"
	outcomeFetchFailed  = "fetch_failed"
	outcomeLookupFailed = "lookup_failed"
	outcomeShared       = "shared"
)

// Store is the subscription and cursor storage the scheduler reads and writes.
type Store interface {
	ActiveSubscriptions(ctx context.Context) ([]models.Subscription, error)
	SubscriptionsForURL(ctx context.Context, targetURL string) ([]models.Subscription, error)
	Cursor(ctx context.Context, subscriberID string) (models.ScanCursor, bool, error)
	SaveCursor(ctx context.Context, c models.ScanCursor) error
}

// SnapshotSource returns the listings currently shown under a section URL.
type SnapshotSource interface {
	Snapshot(ctx context.Context, targetURL string) ([]models.Listing, error)
}

// Reconciler persists a snapshot and reports what changed.
type Reconciler interface {
	Reconcile(ctx context.Context, scanned []models.Listing) pipeline.Result
	Sweep(ctx context.Context, before time.Time, gone func(models.Listing) bool) (int, error)
}

// TargetResult is the outcome of one section URL within a pass.
type TargetResult struct {
	URL       string `json:"url"`
	Outcome   string `json:"outcome"`
	Listings  int    `json:"listings"`
	New       int    `json:"new"`
	Changed   int    `json:"changed"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// PassResult summarises one subscriber's scan pass.
type PassResult struct {
	PassID        string         `json:"pass_id"`
	SubscriberID  string         `json:"subscriber_id"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	Targets       []TargetResult `json:"targets"`
	New           int            `json:"new"`
	Changed       int            `json:"changed"`
	Notified      int            `json:"notified"`
	NotifyFailed  int            `json:"notify_failed"`
	FailedTargets int            `json:"failed_targets"`
}

// Scheduler drives scan passes. Overlapping ticks never scan the same section URL at
// the same time. Status and DescribeSubscriber may be called concurrently with them.
type Scheduler struct {
	cfg        *config.Config
	store      Store
	source     SnapshotSource
	reconciler Reconciler
	notifier   notifier.Notifier
	metrics    *Metrics
	now        func() time.Time

	mu         sync.Mutex
	states     map[string]*subscriberState
	running    bool
	lastTickAt time.Time
	ticks      int64

	locksMu  sync.Mutex
	urlLocks map[string]*sync.Mutex
	lastOK   map[string]time.Time // start of the last successful scan per URL
}

// New wires a scheduler. metrics may be nil.
func New(cfg *config.Config, store Store, source SnapshotSource, reconciler Reconciler, n notifier.Notifier, metrics *Metrics) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		source:     source,
		reconciler: reconciler,
		notifier:   n,
		metrics:    metrics,
		now:        time.Now,
		states:     make(map[string]*subscriberState),
		urlLocks:   make(map[string]*sync.Mutex),
		lastOK:     make(map[string]time.Time),
	}
}

// IsDue reports whether a subscriber scanned at cursor should be scanned again at now.
// A subscriber with no cursor has never been scanned and is always due.
func IsDue(cursor models.ScanCursor, found bool, interval time.Duration, now time.Time) bool {
	if !found || cursor.LastScanAt.IsZero() {
		return true
	}
	return !now.Before(cursor.LastScanAt.Add(interval))
}

// Run ticks immediately and then every TickInterval until ctx is cancelled. A cycle
// already in progress when ctx is cancelled runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", slog.Duration("tick", s.cfg.TickInterval))
	for {
		if ctx.Err() != nil {
			slog.Info("scheduler stopped")
			return nil
		}

		work := context.WithoutCancel(ctx)
		s.Tick(work)
		if s.cfg.ListingTTL > 0 {
			s.Sweep(work)
		}

		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick scans every due subscriber once, at most Parallelism at a time, and returns
// the pass results ordered by subscriber.
func (s *Scheduler) Tick(ctx context.Context) []PassResult {
	now := s.now()
	s.mu.Lock()
	s.lastTickAt = now
	s.ticks++
	s.mu.Unlock()

	subs, err := s.store.ActiveSubscriptions(ctx)
	if err != nil {
		slog.Error("load active subscriptions", slog.Any("error", err))
		return nil
	}

	groups := groupBySubscriber(subs)
	s.forgetInactive(groups)

	var due []string
	for subscriberID, group := range groups {
		interval := shortestInterval(group)
		cursor, found, err := s.store.Cursor(ctx, subscriberID)
		if err != nil {
			slog.Warn("load scan cursor",
				slog.String("subscriber", subscriberID),
				slog.Any("error", err),
			)
			continue
		}

		st := s.track(subscriberID, interval, cursor.LastScanAt)
		if IsDue(cursor, found, interval, now) {
			s.setState(st, StateDue)
			due = append(due, subscriberID)
		}
	}
	sort.Strings(due)
	if len(due) == 0 {
		return nil
	}

	parallelism := s.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	claimed := &sync.Map{}

	results := make([]PassResult, len(due))
	var wg sync.WaitGroup
	for i, subscriberID := range due {
		wg.Add(1)
		go func(i int, subscriberID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.runPass(ctx, subscriberID, groups[subscriberID], claimed)
		}(i, subscriberID)
	}
	wg.Wait()

	return results
}

// Sweep deactivates listings not seen for ListingTTL whose absence was observed by a
// successful scan. Listings of sections that keep failing stay active.
func (s *Scheduler) Sweep(ctx context.Context) int {
	before := s.now().Add(-s.cfg.ListingTTL)
	subs, err := s.store.ActiveSubscriptions(ctx)
	if err != nil {
		slog.Error("load active subscriptions for sweep", slog.Any("error", err))
		return 0
	}
	sections := distinctURLs(subs)
	n, err := s.reconciler.Sweep(ctx, before, func(l models.Listing) bool {
		return s.confirmedGone(sections, l)
	})
	if err != nil {
		slog.Warn("stale listing sweep incomplete", slog.Int("deactivated", n), slog.Any("error", err))
	}
	if n > 0 {
		slog.Info("deactivated stale listings", slog.Int("count", n), slog.Time("unseen_since", before))
	}
	s.metrics.AddSwept(n)
	return n
}

func (s *Scheduler) runPass(ctx context.Context, subscriberID string, subs []models.Subscription, claimed *sync.Map) PassResult {
	start := s.now()
	result := PassResult{
		PassID:       uuid.NewString(),
		SubscriberID: subscriberID,
		StartedAt:    start,
	}
	logger := slog.With(slog.String("pass_id", result.PassID), slog.String("subscriber", subscriberID))

	s.mu.Lock()
	st := s.states[subscriberID]
	s.mu.Unlock()
	s.setState(st, StateScanning)

	logger.Debug("scan pass started", slog.Int("subscriptions", len(subs)))
	for _, targetURL := range distinctURLs(subs) {
		if _, dup := claimed.LoadOrStore(targetURL, struct{}{}); dup {
			result.Targets = append(result.Targets, TargetResult{URL: targetURL, Outcome: outcomeShared})
			s.metrics.IncTarget(outcomeShared)
			continue
		}
		target := s.scanTarget(ctx, logger, &result, targetURL)
		result.Targets = append(result.Targets, target)
		s.metrics.IncTarget(target.Outcome)
	}

	finished := s.now()
	if err := s.store.SaveCursor(ctx, models.ScanCursor{SubscriberID: subscriberID, LastScanAt: finished}); err != nil {
		logger.Error("save scan cursor", slog.Any("error", err))
	}
	result.Duration = finished.Sub(start)
	s.metrics.ObservePass(result.Duration)

	s.mu.Lock()
	st.state = StateIdle
	st.lastScanAt = finished
	passCopy := result
	st.lastPass = &passCopy
	s.mu.Unlock()

	logger.Info("scan pass finished",
		slog.Int("targets", len(result.Targets)),
		slog.Int("failed_targets", result.FailedTargets),
		slog.Int("new", result.New),
		slog.Int("changed", result.Changed),
		slog.Int("notified", result.Notified),
		slog.Int("notify_failed", result.NotifyFailed),
		slog.Duration("duration", result.Duration),
	)
	return result
}

func (s *Scheduler) scanTarget(ctx context.Context, logger *slog.Logger, pass *PassResult, targetURL string) TargetResult {
	lock := s.urlLock(targetURL)
	lock.Lock()
	defer lock.Unlock()

	target := TargetResult{URL: targetURL, Outcome: outcomeOK}
	logger = logger.With(slog.String("url", targetURL))

	started := s.now()
	listings, err := s.source.Snapshot(ctx, targetURL)
	if err != nil {
		// Stored state is left untouched so an unreachable section never reads as removals.
		logger.Warn("section fetch failed", slog.Any("error", err))
		target.Outcome = outcomeFetchFailed
		target.Error = err.Error()
		pass.FailedTargets++
		return target
	}
	target.Listings = len(listings)
	s.markScanned(targetURL, started)

	reconciled := s.reconciler.Reconcile(ctx, listings)
	target.New = len(reconciled.New)
	target.Changed = len(reconciled.Changed)
	target.Unchanged = reconciled.Unchanged
	target.Failed = len(reconciled.Failed)
	pass.New += target.New
	pass.Changed += target.Changed

	s.metrics.AddReconciled("new", target.New)
	s.metrics.AddReconciled("changed", target.Changed)
	s.metrics.AddReconciled("unchanged", target.Unchanged)
	s.metrics.AddReconciled("failed", target.Failed)
	for _, failed := range reconciled.Failed {
		logger.Warn("listing not reconciled",
			slog.String("external_id", failed.ExternalID),
			slog.Any("error", failed.Err),
		)
	}

	if target.New == 0 && target.Changed == 0 {
		return target
	}

	subs, err := s.store.SubscriptionsForURL(ctx, targetURL)
	if err != nil {
		logger.Error("load subscriptions for section", slog.Any("error", err))
		target.Outcome = outcomeLookupFailed
		target.Error = err.Error()
		pass.FailedTargets++
		return target
	}

	overlapping := s.overlapping(ctx, logger, targetURL)

	for _, listing := range reconciled.New {
		s.fanOut(ctx, logger, pass, recipients(subs, overlapping, listing), notifier.KindNewListing, listing, nil)
	}
	for _, change := range reconciled.Changed {
		s.fanOut(ctx, logger, pass, recipients(subs, overlapping, change.Listing), notifier.KindPriceChange, change.Listing, change.OldPrice)
	}
	return target
}

// overlapping returns active subscriptions on other URLs whose section contains, or
// is contained in, the section at targetURL. A listing is reported as new only by the
// first section that reconciles it, so these subscriptions share in the fan-out.
func (s *Scheduler) overlapping(ctx context.Context, logger *slog.Logger, targetURL string) []models.Subscription {
	section := models.SectionPath(targetURL)
	if section == "" {
		return nil
	}
	active, err := s.store.ActiveSubscriptions(ctx)
	if err != nil {
		logger.Warn("load overlapping subscriptions", slog.Any("error", err))
		return nil
	}
	var out []models.Subscription
	for _, sub := range active {
		if sub.TargetURL == targetURL {
			continue
		}
		other := models.SectionPath(sub.TargetURL)
		if other == "" {
			continue
		}
		if other == section || strings.HasPrefix(other, section+"/") || strings.HasPrefix(section, other+"/") {
			out = append(out, sub)
		}
	}
	return out
}

// recipients is subs plus the overlapping subscriptions whose section lists listing.
func recipients(subs, overlapping []models.Subscription, listing models.Listing) []models.Subscription {
	if len(overlapping) == 0 {
		return subs
	}
	out := append([]models.Subscription(nil), subs...)
	for _, sub := range overlapping {
		if models.SectionCovers(sub.TargetURL, listing.URL) {
			out = append(out, sub)
		}
	}
	return out
}

// fanOut sends one notification per matching subscription. Reconcile reports each
// listing at most once, so a pass never notifies a subscription twice for a listing.
func (s *Scheduler) fanOut(ctx context.Context, logger *slog.Logger, pass *PassResult, subs []models.Subscription, kind notifier.Kind, listing models.Listing, oldPrice *float64) {
	for _, sub := range subs {
		if reason := matcher.Explain(listing, sub); reason != "" {
			logger.Debug("listing filtered out",
				slog.Int64("subscription", sub.ID),
				slog.String("external_id", listing.ExternalID),
				slog.String("reason", reason),
			)
			continue
		}

		n := notifier.Notification{
			PassID:         pass.PassID,
			SubscriberID:   sub.SubscriberID,
			SubscriptionID: sub.ID,
			Kind:           kind,
			Listing:        listing,
			OldPrice:       oldPrice,
			CreatedAt:      s.now(),
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			logger.Warn("notification failed",
				slog.String("recipient", sub.SubscriberID),
				slog.Int64("subscription", sub.ID),
				slog.String("external_id", listing.ExternalID),
				slog.Any("error", err),
			)
			pass.NotifyFailed++
			s.metrics.IncNotification("failed")
			continue
		}
		pass.Notified++
		s.metrics.IncNotification("sent")
	}
}

func (s *Scheduler) markScanned(targetURL string, at time.Time) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if at.After(s.lastOK[targetURL]) {
		s.lastOK[targetURL] = at
	}
}

// confirmedGone reports whether a section covering l was scanned successfully after l
// was last seen. Listings under no watched section have nothing left to confirm them.
func (s *Scheduler) confirmedGone(sections []string, l models.Listing) bool {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	covered := false
	for _, u := range sections {
		if !models.SectionCovers(u, l.URL) {
			continue
		}
		covered = true
		if s.lastOK[u].After(l.LastSeenAt) {
			return true
		}
	}
	return !covered
}

func (s *Scheduler) urlLock(targetURL string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.urlLocks[targetURL]
	if !ok {
		lock = &sync.Mutex{}
		s.urlLocks[targetURL] = lock
	}
	return lock
}

func (s *Scheduler) track(subscriberID string, interval time.Duration, lastScanAt time.Time) *subscriberState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[subscriberID]
	if !ok {
		st = &subscriberState{state: StateIdle}
		s.states[subscriberID] = st
	}
	st.interval = interval
	if lastScanAt.After(st.lastScanAt) {
		st.lastScanAt = lastScanAt
	}
	return st
}

func (s *Scheduler) forgetInactive(groups map[string][]models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.states {
		if _, ok := groups[id]; !ok {
			delete(s.states, id)
		}
	}
}

func (s *Scheduler) setState(st *subscriberState, state State) {
	s.mu.Lock()
	st.state = state
	s.mu.Unlock()
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

func groupBySubscriber(subs []models.Subscription) map[string][]models.Subscription {
	groups := make(map[string][]models.Subscription)
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		groups[sub.SubscriberID] = append(groups[sub.SubscriberID], sub)
	}
	return groups
}

func shortestInterval(subs []models.Subscription) time.Duration {
	var shortest time.Duration
	for _, sub := range subs {
		interval := sub.Frequency.Interval()
		if interval == 0 {
			interval = models.DefaultFrequency.Interval()
		}
		if shortest == 0 || interval < shortest {
			shortest = interval
		}
	}
	return shortest
}

func distinctURLs(subs []models.Subscription) []string {
	seen := make(map[string]struct{}, len(subs))
	urls := make([]string, 0, len(subs))
	for _, sub := range subs {
		if _, ok := seen[sub.TargetURL]; ok {
			continue
		}
		seen[sub.TargetURL] = struct{}{}
		urls = append(urls, sub.TargetURL)
	}
	sort.Strings(urls)
	return urls
}
