package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/aluiziolira/ss-monitor/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	external_id   TEXT             PRIMARY KEY,
	title         TEXT             NOT NULL,
	url           TEXT             NOT NULL,
	price         DOUBLE PRECISION,
	currency      TEXT             NOT NULL DEFAULT '',
	recurring     BOOLEAN          NOT NULL DEFAULT FALSE,
	location      TEXT             NOT NULL DEFAULT '',
	area          DOUBLE PRECISION,
	rooms         INTEGER,
	floor         INTEGER,
	total_floors  INTEGER,
	category      TEXT             NOT NULL DEFAULT '',
	image_url     TEXT             NOT NULL DEFAULT '',
	description   TEXT             NOT NULL DEFAULT '',
	active        BOOLEAN          NOT NULL DEFAULT TRUE,
	first_seen_at TIMESTAMPTZ      NOT NULL,
	last_seen_at  TIMESTAMPTZ      NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at) WHERE active;

CREATE TABLE IF NOT EXISTS price_history (
	id          BIGSERIAL        PRIMARY KEY,
	external_id TEXT             NOT NULL REFERENCES listings(external_id),
	old_price   DOUBLE PRECISION,
	new_price   DOUBLE PRECISION,
	currency    TEXT             NOT NULL DEFAULT '',
	kind        TEXT             NOT NULL,
	recorded_at TIMESTAMPTZ      NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(external_id, recorded_at);

CREATE TABLE IF NOT EXISTS subscriptions (
	id            BIGSERIAL        PRIMARY KEY,
	subscriber_id TEXT             NOT NULL,
	target_url    TEXT             NOT NULL,
	category      TEXT             NOT NULL DEFAULT '',
	location_key  TEXT             NOT NULL DEFAULT '',
	frequency     TEXT             NOT NULL,
	min_price     DOUBLE PRECISION,
	max_price     DOUBLE PRECISION,
	min_area      DOUBLE PRECISION,
	max_area      DOUBLE PRECISION,
	min_rooms     INTEGER,
	max_rooms     INTEGER,
	active        BOOLEAN          NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ      NOT NULL,
	updated_at    TIMESTAMPTZ      NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_active_target
	ON subscriptions(subscriber_id, target_url) WHERE active;

CREATE TABLE IF NOT EXISTS scan_cursors (
	subscriber_id TEXT        PRIMARY KEY,
	last_scan_at  TIMESTAMPTZ NOT NULL
);
`

const listingColumns = `external_id, title, url, price, currency, recurring, location, area, rooms,
	floor, total_floors, category, image_url, description, active, first_seen_at, last_seen_at`

const subscriptionColumns = `id, subscriber_id, target_url, category, location_key, frequency,
	min_price, max_price, min_area, max_area, min_rooms, max_rooms, active, created_at, updated_at`

type listingRow struct {
	ExternalID  string    `db:"external_id"`
	Title       string    `db:"title"`
	URL         string    `db:"url"`
	Price       *float64  `db:"price"`
	Currency    string    `db:"currency"`
	Recurring   bool      `db:"recurring"`
	Location    string    `db:"location"`
	Area        *float64  `db:"area"`
	Rooms       *int      `db:"rooms"`
	Floor       *int      `db:"floor"`
	TotalFloors *int      `db:"total_floors"`
	Category    string    `db:"category"`
	ImageURL    string    `db:"image_url"`
	Description string    `db:"description"`
	Active      bool      `db:"active"`
	FirstSeenAt time.Time `db:"first_seen_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
}

func toListingRow(l models.Listing) listingRow {
	return listingRow{
		ExternalID:  l.ExternalID,
		Title:       l.Title,
		URL:         l.URL,
		Price:       l.Price,
		Currency:    string(l.Currency),
		Recurring:   l.Recurring,
		Location:    l.Location,
		Area:        l.Area,
		Rooms:       l.Rooms,
		Floor:       l.Floor,
		TotalFloors: l.TotalFloors,
		Category:    l.Category,
		ImageURL:    l.ImageURL,
		Description: l.Description,
		Active:      l.Active,
		FirstSeenAt: l.FirstSeenAt,
		LastSeenAt:  l.LastSeenAt,
	}
}

func (r listingRow) listing() models.Listing {
	return models.Listing{
		ExternalID:  r.ExternalID,
		Title:       r.Title,
		URL:         r.URL,
		Price:       r.Price,
		Currency:    models.Currency(r.Currency),
		Recurring:   r.Recurring,
		Location:    r.Location,
		Area:        r.Area,
		Rooms:       r.Rooms,
		Floor:       r.Floor,
		TotalFloors: r.TotalFloors,
		Category:    r.Category,
		ImageURL:    r.ImageURL,
		Description: r.Description,
		Active:      r.Active,
		FirstSeenAt: r.FirstSeenAt,
		LastSeenAt:  r.LastSeenAt,
	}
}

type historyRow struct {
	ID         int64     `db:"id"`
	ExternalID string    `db:"external_id"`
	OldPrice   *float64  `db:"old_price"`
	NewPrice   *float64  `db:"new_price"`
	Currency   string    `db:"currency"`
	Kind       string    `db:"kind"`
	RecordedAt time.Time `db:"recorded_at"`
}

type subscriptionRow struct {
	ID           int64     `db:"id"`
	SubscriberID string    `db:"subscriber_id"`
	TargetURL    string    `db:"target_url"`
	Category     string    `db:"category"`
	LocationKey  string    `db:"location_key"`
	Frequency    string    `db:"frequency"`
	MinPrice     *float64  `db:"min_price"`
	MaxPrice     *float64  `db:"max_price"`
	MinArea      *float64  `db:"min_area"`
	MaxArea      *float64  `db:"max_area"`
	MinRooms     *int      `db:"min_rooms"`
	MaxRooms     *int      `db:"max_rooms"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r subscriptionRow) subscription() models.Subscription {
	return models.Subscription{
		ID:           r.ID,
		SubscriberID: r.SubscriberID,
		TargetURL:    r.TargetURL,
		Category:     r.Category,
		LocationKey:  r.LocationKey,
		Frequency:    models.Frequency(r.Frequency),
		MinPrice:     r.MinPrice,
		MaxPrice:     r.MaxPrice,
		MinArea:      r.MinArea,
		MaxArea:      r.MaxArea,
		MinRooms:     r.MinRooms,
		MaxRooms:     r.MaxRooms,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// Postgres stores state in PostgreSQL through sqlx.
type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenPostgres connects to dsn, waits for the server and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	p := NewPostgres(db)
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return p, nil
}

// NewPostgres wraps an existing connection without migrating.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// Migrate creates the tables and indexes when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping checks the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Get returns the listing stored under externalID.
func (p *Postgres) Get(ctx context.Context, externalID string) (models.Listing, bool, error) {
	var row listingRow
	err := p.db.GetContext(ctx, &row, `SELECT `+listingColumns+` FROM listings WHERE external_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Listing{}, false, nil
	}
	if err != nil {
		return models.Listing{}, false, fmt.Errorf("postgres: get listing: %w", err)
	}
	return row.listing(), true, nil
}

// Save upserts the listing and appends entry in one transaction.
func (p *Postgres) Save(ctx context.Context, listing models.Listing, entry *models.PriceHistoryEntry) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (:external_id, :title, :url, :price, :currency, :recurring, :location, :area, :rooms,
			:floor, :total_floors, :category, :image_url, :description, :active, :first_seen_at, :last_seen_at)
		ON CONFLICT (external_id) DO UPDATE SET
			title        = EXCLUDED.title,
			url          = EXCLUDED.url,
			price        = EXCLUDED.price,
			currency     = EXCLUDED.currency,
			recurring    = EXCLUDED.recurring,
			location     = EXCLUDED.location,
			area         = EXCLUDED.area,
			rooms        = EXCLUDED.rooms,
			floor        = EXCLUDED.floor,
			total_floors = EXCLUDED.total_floors,
			category     = EXCLUDED.category,
			image_url    = EXCLUDED.image_url,
			description  = EXCLUDED.description,
			active       = EXCLUDED.active,
			last_seen_at = EXCLUDED.last_seen_at
	`, toListingRow(listing))
	if err != nil {
		return fmt.Errorf("postgres: upsert listing: %w", err)
	}

	if entry != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO price_history (external_id, old_price, new_price, currency, kind, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, entry.ExternalID, entry.OldPrice, entry.NewPrice, string(entry.Currency), string(entry.Kind), entry.RecordedAt)
		if err != nil {
			return fmt.Errorf("postgres: append history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Touch bumps LastSeenAt and reactivates the listing.
func (p *Postgres) Touch(ctx context.Context, externalID string, seenAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings SET last_seen_at = $2, active = TRUE WHERE external_id = $1
	`, externalID, seenAt)
	if err != nil {
		return fmt.Errorf("postgres: touch listing: %w", err)
	}
	return expectRow(res)
}

// ListStale returns active listings last seen before the given time.
func (p *Postgres) ListStale(ctx context.Context, before time.Time) ([]models.Listing, error) {
	var rows []listingRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT `+listingColumns+` FROM listings
		WHERE active AND last_seen_at < $1
		ORDER BY external_id
	`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stale: %w", err)
	}
	out := make([]models.Listing, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.listing())
	}
	return out, nil
}

// History returns the price timeline of a listing, oldest first.
func (p *Postgres) History(ctx context.Context, externalID string) ([]models.PriceHistoryEntry, error) {
	var rows []historyRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, external_id, old_price, new_price, currency, kind, recorded_at
		FROM price_history WHERE external_id = $1
		ORDER BY recorded_at, id
	`, externalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: history: %w", err)
	}
	out := make([]models.PriceHistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.PriceHistoryEntry{
			ID:         r.ID,
			ExternalID: r.ExternalID,
			OldPrice:   r.OldPrice,
			NewPrice:   r.NewPrice,
			Currency:   models.Currency(r.Currency),
			Kind:       models.ChangeKind(r.Kind),
			RecordedAt: r.RecordedAt,
		})
	}
	return out, nil
}

// CountListings returns the total and active listing counts.
func (p *Postgres) CountListings(ctx context.Context) (total, active int, err error) {
	var counts struct {
		Total  int `db:"total"`
		Active int `db:"active"`
	}
	err = p.db.GetContext(ctx, &counts, `
		SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE active) AS active FROM listings
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return counts.Total, counts.Active, nil
}

// CreateSubscription inserts s unless an active row for the same subscriber and URL
// exists, in which case that row is returned with created false.
func (p *Postgres) CreateSubscription(ctx context.Context, s models.Subscription) (models.Subscription, bool, error) {
	now := p.now()
	var row subscriptionRow
	err := p.db.GetContext(ctx, &row, `
		INSERT INTO subscriptions (subscriber_id, target_url, category, location_key, frequency,
			min_price, max_price, min_area, max_area, min_rooms, max_rooms, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12, $12)
		ON CONFLICT (subscriber_id, target_url) WHERE active DO NOTHING
		RETURNING `+subscriptionColumns,
		s.SubscriberID, s.TargetURL, s.Category, s.LocationKey, string(s.Frequency),
		s.MinPrice, s.MaxPrice, s.MinArea, s.MaxArea, s.MinRooms, s.MaxRooms, now)
	if err == nil {
		return row.subscription(), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, false, fmt.Errorf("postgres: create subscription: %w", err)
	}

	err = p.db.GetContext(ctx, &row, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE subscriber_id = $1 AND target_url = $2 AND active
	`, s.SubscriberID, s.TargetURL)
	if err != nil {
		return models.Subscription{}, false, fmt.Errorf("postgres: load existing subscription: %w", err)
	}
	return row.subscription(), false, nil
}

// GetSubscription returns a subscription by id, active or not.
func (p *Postgres) GetSubscription(ctx context.Context, id int64) (models.Subscription, error) {
	var row subscriptionRow
	err := p.db.GetContext(ctx, &row, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, ErrNotFound
	}
	if err != nil {
		return models.Subscription{}, fmt.Errorf("postgres: get subscription: %w", err)
	}
	return row.subscription(), nil
}

// ActiveSubscriptions returns every active subscription ordered by id.
func (p *Postgres) ActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	return p.selectSubscriptions(ctx, `WHERE active ORDER BY id`)
}

// SubscriberSubscriptions returns the active subscriptions of one subscriber.
func (p *Postgres) SubscriberSubscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error) {
	return p.selectSubscriptions(ctx, `WHERE active AND subscriber_id = $1 ORDER BY id`, subscriberID)
}

// SubscriptionsForURL returns the active subscriptions watching targetURL.
func (p *Postgres) SubscriptionsForURL(ctx context.Context, targetURL string) ([]models.Subscription, error) {
	return p.selectSubscriptions(ctx, `WHERE active AND target_url = $1 ORDER BY id`, targetURL)
}

func (p *Postgres) selectSubscriptions(ctx context.Context, where string, args ...interface{}) ([]models.Subscription, error) {
	var rows []subscriptionRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+subscriptionColumns+` FROM subscriptions `+where, args...); err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}
	out := make([]models.Subscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.subscription())
	}
	return out, nil
}

// DeactivateSubscription soft-deletes an active subscription owned by subscriberID.
func (p *Postgres) DeactivateSubscription(ctx context.Context, subscriberID string, id int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET active = FALSE, updated_at = $3
		WHERE id = $1 AND subscriber_id = $2 AND active
	`, id, subscriberID, p.now())
	if err != nil {
		return fmt.Errorf("postgres: deactivate subscription: %w", err)
	}
	return expectRow(res)
}

// SetSubscriptionFrequency changes the frequency of one active subscription.
func (p *Postgres) SetSubscriptionFrequency(ctx context.Context, subscriberID string, id int64, f models.Frequency) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET frequency = $3, updated_at = $4
		WHERE id = $1 AND subscriber_id = $2 AND active
	`, id, subscriberID, string(f), p.now())
	if err != nil {
		return fmt.Errorf("postgres: set frequency: %w", err)
	}
	return expectRow(res)
}

// SetSubscriberFrequency changes the frequency of every active subscription of a
// subscriber and returns how many were updated.
func (p *Postgres) SetSubscriberFrequency(ctx context.Context, subscriberID string, f models.Frequency) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET frequency = $2, updated_at = $3
		WHERE subscriber_id = $1 AND active
	`, subscriberID, string(f), p.now())
	if err != nil {
		return 0, fmt.Errorf("postgres: set subscriber frequency: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return int(n), nil
}

// Cursor returns the scan cursor of a subscriber.
func (p *Postgres) Cursor(ctx context.Context, subscriberID string) (models.ScanCursor, bool, error) {
	var c struct {
		SubscriberID string    `db:"subscriber_id"`
		LastScanAt   time.Time `db:"last_scan_at"`
	}
	err := p.db.GetContext(ctx, &c, `SELECT subscriber_id, last_scan_at FROM scan_cursors WHERE subscriber_id = $1`, subscriberID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ScanCursor{}, false, nil
	}
	if err != nil {
		return models.ScanCursor{}, false, fmt.Errorf("postgres: get cursor: %w", err)
	}
	return models.ScanCursor{SubscriberID: c.SubscriberID, LastScanAt: c.LastScanAt}, true, nil
}

// SaveCursor creates or replaces a scan cursor.
func (p *Postgres) SaveCursor(ctx context.Context, c models.ScanCursor) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scan_cursors (subscriber_id, last_scan_at) VALUES ($1, $2)
		ON CONFLICT (subscriber_id) DO UPDATE SET last_scan_at = EXCLUDED.last_scan_at
	`, c.SubscriberID, c.LastScanAt)
	if err != nil {
		return fmt.Errorf("postgres: save cursor: %w", err)
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
