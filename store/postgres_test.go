package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/aluiziolira/ss-monitor/models"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	p := NewPostgres(sqlx.NewDb(db, "postgres"))
	p.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return p, mock
}

var listingCols = []string{"external_id", "title", "url", "price", "currency", "recurring", "location", "area", "rooms",
	"floor", "total_floors", "category", "image_url", "description", "active", "first_seen_at", "last_seen_at"}

var subscriptionCols = []string{"id", "subscriber_id", "target_url", "category", "location_key", "frequency",
	"min_price", "max_price", "min_area", "max_area", "min_rooms", "max_rooms", "active", "created_at", "updated_at"}

func TestPostgresGet(t *testing.T) {
	p, mock := newMockPostgres(t)
	seen := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM listings WHERE external_id = \$1`).
		WithArgs("51234567").
		WillReturnRows(sqlmock.NewRows(listingCols).AddRow(
			"51234567", "Flat", "https://www.ss.lv/msg/1.html", 85000.0, "EUR", false, "centrs", 54.0, 2,
			3, 5, "apartment", "", "Flat", true, seen, seen))
	mock.ExpectQuery(`SELECT .* FROM listings WHERE external_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(listingCols))

	l, ok, err := p.Get(context.Background(), "51234567")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !models.PricesEqual(l.Price, models.Float(85000)) || l.Currency != models.CurrencyEUR || *l.Rooms != 2 || *l.TotalFloors != 5 {
		t.Fatalf("listing = %+v", l)
	}

	if _, ok, err := p.Get(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("missing: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresSaveIsTransactional(t *testing.T) {
	p, mock := newMockPostgres(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := models.Listing{ExternalID: "1", Title: "Flat", URL: "https://www.ss.lv/msg/1.html", Price: models.Float(100000), Currency: models.CurrencyEUR, Active: true, FirstSeenAt: now, LastSeenAt: now}
	entry := &models.PriceHistoryEntry{ExternalID: "1", NewPrice: l.Price, Currency: models.CurrencyEUR, Kind: models.ChangeFirstSeen, RecordedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO listings .* ON CONFLICT \(external_id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO price_history`).
		WithArgs("1", nil, 100000.0, "EUR", "first-seen", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := p.Save(context.Background(), l, entry); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresSaveRollsBackOnHistoryFailure(t *testing.T) {
	p, mock := newMockPostgres(t)
	now := time.Now()
	l := models.Listing{ExternalID: "1", Title: "Flat", URL: "u", Price: models.Float(90), Active: true, FirstSeenAt: now, LastSeenAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO listings`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO price_history`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := p.Save(context.Background(), l, &models.PriceHistoryEntry{ExternalID: "1", OldPrice: models.Float(100), NewPrice: l.Price, Kind: models.ChangePriceChanged, RecordedAt: now})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresTouchMissing(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(`UPDATE listings SET last_seen_at = \$2, active = TRUE WHERE external_id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := p.Touch(context.Background(), "gone", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("touch = %v, want ErrNotFound", err)
	}
}

func TestPostgresCreateSubscriptionReturnsExisting(t *testing.T) {
	p, mock := newMockPostgres(t)
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	url := "https://www.ss.lv/lv/real-estate/flats/riga/all/"

	mock.ExpectQuery(`INSERT INTO subscriptions .* ON CONFLICT \(subscriber_id, target_url\) WHERE active DO NOTHING RETURNING`).
		WillReturnRows(sqlmock.NewRows(subscriptionCols))
	mock.ExpectQuery(`SELECT .* FROM subscriptions WHERE subscriber_id = \$1 AND target_url = \$2 AND active`).
		WithArgs("42", url).
		WillReturnRows(sqlmock.NewRows(subscriptionCols).AddRow(
			int64(3), "42", url, "apartment", "riga", "4h", 50000.0, nil, nil, nil, 2, nil, true, created, created))

	s, wasCreated, err := p.CreateSubscription(context.Background(), models.Subscription{SubscriberID: "42", TargetURL: url, Frequency: models.FrequencyHourly})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if wasCreated || s.ID != 3 || s.Frequency != models.FrequencyEvery4Hours {
		t.Fatalf("expected existing row, got %+v created=%v", s, wasCreated)
	}
	if !models.PricesEqual(s.MinPrice, models.Float(50000)) || s.MaxPrice != nil || *s.MinRooms != 2 {
		t.Fatalf("bounds = %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresDeactivateSubscription(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(`UPDATE subscriptions SET active = FALSE`).
		WithArgs(int64(3), "42", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE subscriptions SET active = FALSE`).
		WithArgs(int64(3), "42", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := p.DeactivateSubscription(context.Background(), "42", 3); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := p.DeactivateSubscription(context.Background(), "42", 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second deactivate = %v, want ErrNotFound", err)
	}
}

func TestPostgresSetSubscriberFrequency(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(`UPDATE subscriptions SET frequency = \$2`).
		WithArgs("42", "1d", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := p.SetSubscriberFrequency(context.Background(), "42", models.FrequencyDaily)
	if err != nil || n != 3 {
		t.Fatalf("updated = %d err=%v", n, err)
	}
}

func TestPostgresCountListings(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) AS total`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "active"}).AddRow(10, 7))

	total, active, err := p.CountListings(context.Background())
	if err != nil || total != 10 || active != 7 {
		t.Fatalf("counts = %d/%d err=%v", total, active, err)
	}
}

func TestPostgresCursor(t *testing.T) {
	p, mock := newMockPostgres(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT subscriber_id, last_scan_at FROM scan_cursors`).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_id", "last_scan_at"}))
	mock.ExpectExec(`INSERT INTO scan_cursors .* ON CONFLICT \(subscriber_id\) DO UPDATE`).
		WithArgs("42", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, ok, err := p.Cursor(context.Background(), "42"); err != nil || ok {
		t.Fatalf("cursor: ok=%v err=%v", ok, err)
	}
	if err := p.SaveCursor(context.Background(), models.ScanCursor{SubscriberID: "42", LastScanAt: at}); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	p := NewPostgres(sqlx.NewDb(db, "postgres"))

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("first ping: %v", err)
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
