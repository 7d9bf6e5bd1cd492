package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// Postgres implements the Storage interface on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to url and creates the schema if it does not exist.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres url is empty")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) init(ctx context.Context) error {
	stmts := []string{
		`create table if not exists users (
			user_id bigint primary key,
			action_count integer not null default 0 check (action_count >= 0),
			count_reset_at timestamptz not null,
			last_active_at timestamptz not null,
			created_at timestamptz not null default now()
		)`,
		`create table if not exists alerts (
			seq bigserial unique,
			id text primary key,
			user_id bigint not null,
			area text not null,
			check_in text not null,
			check_out text not null,
			max_price numeric not null,
			guests integer not null default 2,
			active boolean not null default true,
			fail_streak integer not null default 0,
			created_at timestamptz not null default now(),
			last_checked_at timestamptz,
			deactivated_at timestamptz,
			deactivation_reason text not null default '',
			check (check_out > check_in)
		)`,
		`create index if not exists idx_alerts_user on alerts(user_id, active)`,
		`create table if not exists price_history (
			seq bigserial unique,
			id text primary key,
			alert_id text not null references alerts(id),
			area text not null,
			hotel_name text not null default '',
			check_in text not null,
			check_out text not null,
			nightly_price numeric not null,
			currency text not null,
			source text not null check (source in ('live', 'mock')),
			retrieved_at timestamptz not null,
			recorded_at timestamptz,
			triggered boolean not null default false,
			notified boolean not null default false
		)`,
		`create index if not exists idx_history_alert on price_history(alert_id, retrieved_at)`,
		`create index if not exists idx_history_stay on price_history(area, check_in, check_out, retrieved_at)`,
		`alter table alerts add column if not exists guests integer not null default 2`,
		`alter table price_history add column if not exists recorded_at timestamptz`,
		`create index if not exists idx_history_notified on price_history(alert_id, notified, recorded_at)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) IncrementUserActions(ctx context.Context, userID int64, limit int, window time.Duration, now time.Time) (bool, error) {
	cutoff := now.Add(-window)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, dbErr("begin quota update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`insert into users (user_id, action_count, count_reset_at, last_active_at, created_at)
		 values ($1, 0, $2, $2, $2)
		 on conflict (user_id) do nothing`,
		userID, now,
	); err != nil {
		return false, dbErr("create user", err)
	}

	tag, err := tx.Exec(ctx,
		`update users set
		   action_count   = case when count_reset_at <= $2 then 1 else action_count + 1 end,
		   count_reset_at = case when count_reset_at <= $2 then $3 else count_reset_at end,
		   last_active_at = $3
		 where user_id = $1 and (count_reset_at <= $2 or action_count < $4)`,
		userID, cutoff, now, limit,
	)
	if err != nil {
		return false, dbErr("increment user actions", err)
	}

	allowed := tag.RowsAffected() == 1
	if !allowed {
		if _, err := tx.Exec(ctx, `update users set last_active_at = $2 where user_id = $1`, userID, now); err != nil {
			return false, dbErr("touch user", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, dbErr("commit quota update", err)
	}
	return allowed, nil
}

func (s *Postgres) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`select user_id, action_count, count_reset_at, last_active_at, created_at from users where user_id = $1`, userID,
	).Scan(&u.ID, &u.ActionCount, &u.CountResetAt, &u.LastActiveAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get user", err)
	}
	u.CountResetAt = u.CountResetAt.UTC()
	u.LastActiveAt = u.LastActiveAt.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *Postgres) CreateAlert(ctx context.Context, alert *model.Alert, maxActive int) error {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dbErr("begin create alert", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if maxActive > 0 {
		// Serialize alert creation per user so the count below stays accurate.
		if _, err := tx.Exec(ctx, `select pg_advisory_xact_lock($1)`, alert.UserID); err != nil {
			return dbErr("lock user alerts", err)
		}
		var active int
		if err := tx.QueryRow(ctx,
			`select count(*) from alerts where user_id = $1 and active`, alert.UserID,
		).Scan(&active); err != nil {
			return dbErr("count active alerts", err)
		}
		if active >= maxActive {
			return fmt.Errorf("%w: you already have %d active alerts (maximum %d)", model.ErrQuotaExceeded, active, maxActive)
		}
	}

	if _, err := tx.Exec(ctx,
		`insert into alerts (id, user_id, area, check_in, check_out, max_price, guests, active, fail_streak, created_at)
		 values ($1, $2, $3, $4, $5, $6, $7, true, 0, $8)`,
		alert.ID, alert.UserID, alert.Area,
		model.FormatDate(alert.CheckIn), model.FormatDate(alert.CheckOut),
		alert.MaxPrice, alert.Guests, alert.CreatedAt,
	); err != nil {
		return dbErr("insert alert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return dbErr("commit create alert", err)
	}
	return nil
}

const pgAlertColumns = `id, user_id, area, check_in, check_out, max_price::text, guests, active, fail_streak,
	created_at, last_checked_at, deactivated_at, deactivation_reason`

func (s *Postgres) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	a, err := scanPgAlert(s.pool.QueryRow(ctx, `select `+pgAlertColumns+` from alerts where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get alert", err)
	}
	return a, nil
}

func (s *Postgres) ListAlerts(ctx context.Context, userID int64, includeInactive bool) ([]model.Alert, error) {
	query := `select ` + pgAlertColumns + ` from alerts where user_id = $1`
	if !includeInactive {
		query += " and active"
	}
	query += " order by created_at desc, seq desc"
	return s.queryAlerts(ctx, query, userID)
}

func (s *Postgres) ListActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.queryAlerts(ctx, `select `+pgAlertColumns+` from alerts where active order by created_at, seq`)
}

func (s *Postgres) queryAlerts(ctx context.Context, query string, args ...any) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list alerts", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanPgAlert(rows)
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

func (s *Postgres) DeactivateAlert(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`update alerts set active = false, deactivated_at = $2, deactivation_reason = $3 where id = $1 and active`,
		id, at, reason,
	)
	if err != nil {
		return false, dbErr("deactivate alert", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `select exists(select 1 from alerts where id = $1)`, id).Scan(&exists); err != nil {
		return false, dbErr("check alert", err)
	}
	if !exists {
		return false, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	return false, nil
}

func (s *Postgres) IncrementAlertFailures(ctx context.Context, id string) (int, error) {
	var streak int
	err := s.pool.QueryRow(ctx,
		`update alerts set fail_streak = fail_streak + 1 where id = $1 and active returning fail_streak`, id,
	).Scan(&streak)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return 0, dbErr("increment alert failures", err)
	}
	return streak, nil
}

func (s *Postgres) ResetAlertFailures(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `update alerts set fail_streak = 0 where id = $1`, id); err != nil {
		return dbErr("reset alert failures", err)
	}
	return nil
}

func (s *Postgres) AppendHistory(ctx context.Context, entry *model.PriceHistoryEntry) error {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dbErr("begin append history", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`insert into price_history (id, alert_id, area, hotel_name, check_in, check_out, nightly_price,
		   currency, source, retrieved_at, recorded_at, triggered, notified)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.AlertID, q.Area, q.HotelName,
		model.FormatDate(q.CheckIn), model.FormatDate(q.CheckOut), q.NightlyPrice,
		q.Currency, string(q.Source), q.RetrievedAt, entry.RecordedAt, entry.Triggered, entry.Notified,
	); err != nil {
		return dbErr("insert history entry", err)
	}

	if _, err := tx.Exec(ctx, `update alerts set last_checked_at = $2 where id = $1`, entry.AlertID, q.RetrievedAt); err != nil {
		return dbErr("stamp alert check time", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return dbErr("commit append history", err)
	}
	return nil
}

func (s *Postgres) QueryHistory(ctx context.Context, filter model.HistoryFilter) ([]model.PriceHistoryEntry, error) {
	query := `select id, alert_id, area, hotel_name, check_in, check_out, nightly_price::text, currency, source,
		retrieved_at, coalesce(recorded_at, retrieved_at), triggered, notified from price_history`
	where, args := buildWhereClause(filter,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(t time.Time) any { return t },
	)
	if where != "" {
		query += " where " + where
	}
	query += " order by retrieved_at, seq"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, dbErr("query history", err)
	}
	defer rows.Close()

	var entries []model.PriceHistoryEntry
	for rows.Next() {
		var (
			e                                model.PriceHistoryEntry
			checkIn, checkOut, price, source string
		)
		if err := rows.Scan(&e.ID, &e.AlertID, &e.Quote.Area, &e.Quote.HotelName, &checkIn, &checkOut,
			&price, &e.Quote.Currency, &source, &e.Quote.RetrievedAt, &e.RecordedAt, &e.Triggered, &e.Notified); err != nil {
			return nil, dbErr("scan history row", err)
		}
		if err := decodeQuote(&e.Quote, checkIn, checkOut, price, source); err != nil {
			return nil, dbErr("decode history row", err)
		}
		e.Quote.RetrievedAt = e.Quote.RetrievedAt.UTC()
		e.RecordedAt = e.RecordedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("query history", err)
	}
	return entries, nil
}

func (s *Postgres) LastNotifiedAt(ctx context.Context, alertID string) (time.Time, bool, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`select max(coalesce(recorded_at, retrieved_at)) from price_history where alert_id = $1 and notified`, alertID,
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, dbErr("last notification", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func scanPgAlert(row pgx.Row) (*model.Alert, error) {
	var (
		a                           model.Alert
		checkIn, checkOut, maxPrice string
		checked, deact              *time.Time
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Area, &checkIn, &checkOut, &maxPrice, &a.Guests, &a.Active, &a.FailStreak,
		&a.CreatedAt, &checked, &deact, &a.DeactivationReason); err != nil {
		return nil, err
	}
	if err := decodeAlert(&a, checkIn, checkOut, maxPrice); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if checked != nil {
		a.LastCheckedAt = checked.UTC()
	}
	if deact != nil {
		a.DeactivatedAt = deact.UTC()
	}
	return &a, nil
}
