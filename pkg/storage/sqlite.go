package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements the Storage interface using an SQLite database.
// It holds a single connection, so all writes are serialized.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) IncrementUserActions(ctx context.Context, userID int64, limit int, window time.Duration, now time.Time) (bool, error) {
	nowMs := toMillis(now)
	cutoff := nowMs - window.Milliseconds()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, dbErr("begin quota update", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (user_id, action_count, count_reset_at, last_active_at, created_at)
		 VALUES (?, 0, ?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, nowMs, nowMs, nowMs,
	); err != nil {
		return false, dbErr("create user", err)
	}

	// A window that started at or before cutoff has expired: restart it with this action.
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET
		   action_count   = CASE WHEN count_reset_at <= ? THEN 1 ELSE action_count + 1 END,
		   count_reset_at = CASE WHEN count_reset_at <= ? THEN ? ELSE count_reset_at END,
		   last_active_at = ?
		 WHERE user_id = ? AND (count_reset_at <= ? OR action_count < ?)`,
		cutoff, cutoff, nowMs, nowMs, userID, cutoff, limit,
	)
	if err != nil {
		return false, dbErr("increment user actions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("check rows affected", err)
	}

	allowed := n == 1
	if !allowed {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET last_active_at = ? WHERE user_id = ?`, nowMs, userID); err != nil {
			return false, dbErr("touch user", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, dbErr("commit quota update", err)
	}
	return allowed, nil
}

func (s *SQLite) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var (
		u                         model.User
		resetAt, activeAt, create int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, action_count, count_reset_at, last_active_at, created_at FROM users WHERE user_id = ?`, userID,
	).Scan(&u.ID, &u.ActionCount, &resetAt, &activeAt, &create)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get user", err)
	}
	u.CountResetAt = fromMillis(resetAt)
	u.LastActiveAt = fromMillis(activeAt)
	u.CreatedAt = fromMillis(create)
	return &u, nil
}

func (s *SQLite) CreateAlert(ctx context.Context, alert *model.Alert, maxActive int) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.Guests == 0 {
		alert.Guests = model.DefaultGuests
	}
	alert.Active = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin create alert", err)
	}
	defer func() { _ = tx.Rollback() }()

	if maxActive > 0 {
		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM alerts WHERE user_id = ? AND active = 1`, alert.UserID,
		).Scan(&active); err != nil {
			return dbErr("count active alerts", err)
		}
		if active >= maxActive {
			return fmt.Errorf("%w: you already have %d active alerts (maximum %d)", model.ErrQuotaExceeded, active, maxActive)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO alerts (id, user_id, area, check_in, check_out, max_price, guests, active, fail_streak, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0, ?)`,
		alert.ID, alert.UserID, alert.Area,
		model.FormatDate(alert.CheckIn), model.FormatDate(alert.CheckOut),
		alert.MaxPrice.String(), alert.Guests, toMillis(alert.CreatedAt),
	); err != nil {
		return dbErr("insert alert", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit create alert", err)
	}
	return nil
}

const alertColumns = `id, user_id, area, check_in, check_out, max_price, guests, active, fail_streak,
	created_at, last_checked_at, deactivated_at, deactivation_reason`

func (s *SQLite) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanSQLiteAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get alert", err)
	}
	return a, nil
}

func (s *SQLite) ListAlerts(ctx context.Context, userID int64, includeInactive bool) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE user_id = ?`
	if !includeInactive {
		query += " AND active = 1"
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	return s.queryAlerts(ctx, query, userID)
}

func (s *SQLite) ListActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE active = 1 ORDER BY created_at, rowid`)
}

func (s *SQLite) queryAlerts(ctx context.Context, query string, args ...any) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list alerts", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanSQLiteAlert(rows)
		if err != nil {
			return nil, dbErr("scan alert row", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list alerts", err)
	}
	return alerts, nil
}

func (s *SQLite) DeactivateAlert(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET active = 0, deactivated_at = ?, deactivation_reason = ? WHERE id = ? AND active = 1`,
		toMillis(at), reason, id,
	)
	if err != nil {
		return false, dbErr("deactivate alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("check rows affected", err)
	}
	if n > 0 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return false, dbErr("check alert", err)
	}
	return false, nil
}

func (s *SQLite) IncrementAlertFailures(ctx context.Context, id string) (int, error) {
	var streak int
	err := s.db.QueryRowContext(ctx,
		`UPDATE alerts SET fail_streak = fail_streak + 1 WHERE id = ? AND active = 1 RETURNING fail_streak`, id,
	).Scan(&streak)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return 0, dbErr("increment alert failures", err)
	}
	return streak, nil
}

func (s *SQLite) ResetAlertFailures(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE alerts SET fail_streak = 0 WHERE id = ?`, id); err != nil {
		return dbErr("reset alert failures", err)
	}
	return nil
}

func (s *SQLite) AppendHistory(ctx context.Context, entry *model.PriceHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Quote.RetrievedAt.IsZero() {
		entry.Quote.RetrievedAt = time.Now().UTC()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = entry.Quote.RetrievedAt
	}
	q := entry.Quote

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin append history", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO price_history (id, alert_id, area, hotel_name, check_in, check_out, nightly_price,
		   currency, source, retrieved_at, recorded_at, triggered, notified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AlertID, q.Area, q.HotelName,
		model.FormatDate(q.CheckIn), model.FormatDate(q.CheckOut), q.NightlyPrice.String(),
		q.Currency, string(q.Source), toMillis(q.RetrievedAt), toMillis(entry.RecordedAt),
		entry.Triggered, entry.Notified,
	); err != nil {
		return dbErr("insert history entry", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE alerts SET last_checked_at = ? WHERE id = ?`, toMillis(q.RetrievedAt), entry.AlertID,
	); err != nil {
		return dbErr("stamp alert check time", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit append history", err)
	}
	return nil
}

func (s *SQLite) QueryHistory(ctx context.Context, filter model.HistoryFilter) ([]model.PriceHistoryEntry, error) {
	query := `SELECT id, alert_id, area, hotel_name, check_in, check_out, nightly_price, currency, source,
		retrieved_at, recorded_at, triggered, notified FROM price_history`
	where, args := buildWhereClause(filter, func(int) string { return "?" }, toMillisArg)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY retrieved_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("query history", err)
	}
	defer rows.Close()

	var entries []model.PriceHistoryEntry
	for rows.Next() {
		var (
			e                                model.PriceHistoryEntry
			checkIn, checkOut, price, source string
			retrieved, recorded              int64
		)
		if err := rows.Scan(&e.ID, &e.AlertID, &e.Quote.Area, &e.Quote.HotelName, &checkIn, &checkOut,
			&price, &e.Quote.Currency, &source, &retrieved, &recorded, &e.Triggered, &e.Notified); err != nil {
			return nil, dbErr("scan history row", err)
		}
		if err := decodeQuote(&e.Quote, checkIn, checkOut, price, source); err != nil {
			return nil, dbErr("decode history row", err)
		}
		e.Quote.RetrievedAt = fromMillis(retrieved)
		e.RecordedAt = fromMillis(recorded)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("query history", err)
	}
	return entries, nil
}

func (s *SQLite) LastNotifiedAt(ctx context.Context, alertID string) (time.Time, bool, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(recorded_at) FROM price_history WHERE alert_id = ? AND notified = 1`, alertID,
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, dbErr("last notification", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(last.Int64), true, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAlert(row rowScanner) (*model.Alert, error) {
	var (
		a                           model.Alert
		checkIn, checkOut, maxPrice string
		created, checked, deact     int64
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Area, &checkIn, &checkOut, &maxPrice, &a.Guests, &a.Active, &a.FailStreak,
		&created, &checked, &deact, &a.DeactivationReason); err != nil {
		return nil, err
	}
	if err := decodeAlert(&a, checkIn, checkOut, maxPrice); err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(created)
	a.LastCheckedAt = fromMillis(checked)
	a.DeactivatedAt = fromMillis(deact)
	return &a, nil
}

func decodeAlert(a *model.Alert, checkIn, checkOut, maxPrice string) error {
	var err error
	if a.CheckIn, err = model.ParseDate(checkIn); err != nil {
		return err
	}
	if a.CheckOut, err = model.ParseDate(checkOut); err != nil {
		return err
	}
	if a.MaxPrice, err = decimal.NewFromString(maxPrice); err != nil {
		return fmt.Errorf("max price %q: %w", maxPrice, err)
	}
	return nil
}

func decodeQuote(q *model.PriceQuote, checkIn, checkOut, price, source string) error {
	var err error
	if q.CheckIn, err = model.ParseDate(checkIn); err != nil {
		return err
	}
	if q.CheckOut, err = model.ParseDate(checkOut); err != nil {
		return err
	}
	if q.NightlyPrice, err = decimal.NewFromString(price); err != nil {
		return fmt.Errorf("nightly price %q: %w", price, err)
	}
	q.Source = model.QuoteSource(source)
	return nil
}

// buildWhereClause constructs a SQL WHERE clause from a HistoryFilter.
// placeholder renders the n-th bind parameter and since converts the lower time bound.
func buildWhereClause(filter model.HistoryFilter, placeholder func(n int) string, since func(time.Time) any) (string, []any) {
	var conditions []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, column+placeholder(len(args)))
	}

	if filter.AlertID != "" {
		add("alert_id = ", filter.AlertID)
	}
	if filter.Area != "" {
		add("area = ", filter.Area)
	}
	if !filter.CheckIn.IsZero() {
		add("check_in = ", model.FormatDate(filter.CheckIn))
	}
	if !filter.CheckOut.IsZero() {
		add("check_out = ", model.FormatDate(filter.CheckOut))
	}
	if !filter.Since.IsZero() {
		add("retrieved_at >= ", since(filter.Since))
	}

	return strings.Join(conditions, " AND "), args
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func toMillisArg(t time.Time) any { return toMillis(t) }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
