package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// timestamps are stored as fixed-width UTC text so they sort lexically in both dialects
const timeLayout = "2006-01-02 15:04:05.000000"

// Dialect names accepted by NewSQLStore
const (
	DialectSQLite = "sqlite3"
	DialectMySQL  = "mysql"
)

var schemas = map[string][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			service_name TEXT NOT NULL,
			service_slug TEXT NOT NULL,
			description TEXT,
			amount REAL NOT NULL,
			currency TEXT NOT NULL,
			billing_cycle TEXT NOT NULL,
			next_billing_date TEXT,
			cancellation_url TEXT,
			confidence REAL,
			detected_from TEXT,
			confirmed BOOLEAN,
			is_tracked BOOLEAN,
			status TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_slug ON subscriptions(user_id, service_slug)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT,
			status TEXT NOT NULL,
			emails_found INTEGER,
			subs_found INTEGER,
			error TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_user_started ON scans(user_id, started_at)`,
	},
	DialectMySQL: {
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			service_name VARCHAR(255) NOT NULL,
			service_slug VARCHAR(255) NOT NULL,
			description TEXT,
			amount DOUBLE NOT NULL,
			currency VARCHAR(8) NOT NULL,
			billing_cycle VARCHAR(16) NOT NULL,
			next_billing_date VARCHAR(32),
			cancellation_url TEXT,
			confidence DOUBLE,
			detected_from VARCHAR(32),
			confirmed BOOLEAN,
			is_tracked BOOLEAN,
			status VARCHAR(16),
			created_at VARCHAR(32) NOT NULL,
			INDEX idx_subscriptions_user_slug (user_id, service_slug)
		)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			provider VARCHAR(32),
			status VARCHAR(16) NOT NULL,
			emails_found INT,
			subs_found INT,
			error TEXT,
			started_at VARCHAR(32) NOT NULL,
			completed_at VARCHAR(32),
			INDEX idx_scans_user_started (user_id, started_at)
		)`,
	},
}

const subscriptionColumns = `id, user_id, service_name, service_slug, description, amount, currency,
	billing_cycle, next_billing_date, cancellation_url, confidence, detected_from,
	confirmed, is_tracked, status, created_at`

// SQLStore persists subscriptions and scan records in SQLite or MySQL
type SQLStore struct {
	db      *sql.DB
	dialect string
	logger  *zap.Logger
	now     func() time.Time
}

// NewSQLStore opens the database and creates the tables if needed
func NewSQLStore(dialect, dsn string, logger *zap.Logger) (*SQLStore, error) {
	stmts, ok := schemas[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported store dialect: %s", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectMySQL {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// FindExisting returns the user's record with the given dedup key
func (s *SQLStore) FindExisting(ctx context.Context, userID, dedupKey string) (*core.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = ? AND service_slug = ?
		ORDER BY created_at
		LIMIT 1
	`, userID, dedupKey)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	return sub, nil
}

// ListByUser returns the user's records in creation order
func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]core.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = ?
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []core.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// CreateSubscription stores a new record, assigning its ID and creation time
func (s *SQLStore) CreateSubscription(ctx context.Context, sub *core.Subscription) (*core.Subscription, error) {
	created := *sub
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		created.ID, created.UserID, created.ServiceName, created.ServiceSlug, created.Description,
		created.Amount, created.Currency, string(created.BillingCycle), formatNullTime(created.NextBillingDate),
		created.CancellationURL, created.Confidence, created.DetectedFrom,
		created.Confirmed, created.IsTracked, created.Status, formatTime(created.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}

	s.logger.Debug("Stored subscription",
		zap.String("id", created.ID),
		zap.String("user_id", created.UserID),
		zap.String("service_slug", created.ServiceSlug))
	return &created, nil
}

// CreateScan stores a new scan record
func (s *SQLStore) CreateScan(ctx context.Context, rec *core.ScanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (id, user_id, provider, status, emails_found, subs_found, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.Provider, rec.Status, rec.EmailsFound, rec.SubsFound, rec.Error,
		formatTime(rec.StartedAt), formatNullTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert scan record: %w", err)
	}
	return nil
}

// UpdateScan writes the mutable fields of a scan record
func (s *SQLStore) UpdateScan(ctx context.Context, rec *core.ScanRecord) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scans
		SET status = ?, emails_found = ?, subs_found = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, rec.Status, rec.EmailsFound, rec.SubsFound, rec.Error, formatNullTime(rec.CompletedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update scan record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during scan update", zap.Error(err))
		return nil
	}
	if rowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// LatestScan returns the most recently started run of a user
func (s *SQLStore) LatestScan(ctx context.Context, userID string) (*core.ScanRecord, error) {
	var (
		rec                core.ScanRecord
		provider, errText  sql.NullString
		started            string
		completed          sql.NullString
		emailsFound, found sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, status, emails_found, subs_found, error, started_at, completed_at
		FROM scans
		WHERE user_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, userID).Scan(&rec.ID, &rec.UserID, &provider, &rec.Status, &emailsFound, &found, &errText, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan record: %w", err)
	}

	rec.Provider = provider.String
	rec.Error = errText.String
	rec.EmailsFound = int(emailsFound.Int64)
	rec.SubsFound = int(found.Int64)
	if rec.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*core.Subscription, error) {
	var (
		sub                                      core.Subscription
		description, cancelURL, detected, status sql.NullString
		cycle, created                           string
		next                                     sql.NullString
		confidence                               sql.NullFloat64
		confirmed, tracked                       sql.NullBool
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.ServiceName, &sub.ServiceSlug, &description,
		&sub.Amount, &sub.Currency, &cycle, &next, &cancelURL, &confidence, &detected,
		&confirmed, &tracked, &status, &created)
	if err != nil {
		return nil, err
	}

	sub.Description = description.String
	sub.BillingCycle = core.ParseBillingCycle(cycle)
	sub.CancellationURL = cancelURL.String
	sub.Confidence = confidence.Float64
	sub.DetectedFrom = detected.String
	sub.Confirmed = confirmed.Bool
	sub.IsTracked = tracked.Bool
	sub.Status = status.String
	if sub.NextBillingDate, err = parseNullTime(next); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &sub, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
