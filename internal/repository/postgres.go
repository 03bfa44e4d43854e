package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/flowguard/internal/database"
	"github.com/telhawk-systems/flowguard/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// RunInTx runs fn inside a single database transaction.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	ctx, cancel := database.BulkContext(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetServiceByName looks a service up by its unique name.
func (r *PostgresRepository) GetServiceByName(ctx context.Context, name string) (*models.Service, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	s := &models.Service{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM services WHERE name = $1`, name,
	).Scan(&s.ID, &s.Name, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return s, nil
}

// ListServices returns all services ordered by name.
func (r *PostgresRepository) ListServices(ctx context.Context) ([]*models.Service, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		s := &models.Service{}
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// ListLogEvents returns log events matching filter, newest first.
func (r *PostgresRepository) ListLogEvents(ctx context.Context, filter LogFilter) ([]*models.LogEvent, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if filter.ServiceID != 0 {
		whereClause += fmt.Sprintf(" AND l.service_id = $%d", argPos)
		args = append(args, filter.ServiceID)
		argPos++
	}
	if filter.Service != "" {
		whereClause += fmt.Sprintf(" AND s.name = $%d", argPos)
		args = append(args, filter.Service)
		argPos++
	}
	if filter.Level != "" {
		whereClause += fmt.Sprintf(" AND l.level = $%d", argPos)
		args = append(args, strings.ToUpper(filter.Level))
		argPos++
	}
	if filter.Query != "" {
		whereClause += fmt.Sprintf(" AND l.message ILIKE $%d", argPos)
		args = append(args, "%"+filter.Query+"%")
		argPos++
	}
	if !filter.Since.IsZero() {
		whereClause += fmt.Sprintf(" AND l.ts >= $%d", argPos)
		args = append(args, filter.Since)
		argPos++
	}
	if !filter.Until.IsZero() {
		whereClause += fmt.Sprintf(" AND l.ts <= $%d", argPos)
		args = append(args, filter.Until)
		argPos++
	}

	query := fmt.Sprintf(`
		SELECT l.id, l.service_id, s.name, l.ts, l.level, l.message,
		       l.latency_ms, l.status_code, l.meta, l.created_at
		FROM log_events l
		JOIN services s ON s.id = l.service_id
		%s
		ORDER BY l.ts DESC, l.id DESC
	`, whereClause)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list log events: %w", err)
	}
	defer rows.Close()

	var events []*models.LogEvent
	for rows.Next() {
		ev := &models.LogEvent{}
		if err := rows.Scan(
			&ev.ID, &ev.ServiceID, &ev.Service, &ev.Timestamp, &ev.Level, &ev.Message,
			&ev.LatencyMs, &ev.StatusCode, &ev.Meta, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan log event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListMetricPoints returns metric points matching filter, oldest first.
func (r *PostgresRepository) ListMetricPoints(ctx context.Context, filter MetricFilter) ([]*models.MetricPoint, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	whereClause := "WHERE service_id = $1"
	args := []interface{}{filter.ServiceID}
	argPos := 2

	if !filter.Since.IsZero() {
		whereClause += fmt.Sprintf(" AND ts >= $%d", argPos)
		args = append(args, filter.Since)
		argPos++
	}
	if !filter.Until.IsZero() {
		whereClause += fmt.Sprintf(" AND ts <= $%d", argPos)
		args = append(args, filter.Until)
		argPos++
	}

	query := fmt.Sprintf(`
		SELECT id, service_id, ts, tps, error_rate, p95_latency_ms
		FROM metric_points
		%s
		ORDER BY ts ASC
	`, whereClause)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric points: %w", err)
	}
	defer rows.Close()

	var points []*models.MetricPoint
	for rows.Next() {
		p := &models.MetricPoint{}
		if err := rows.Scan(&p.ID, &p.ServiceID, &p.Timestamp, &p.TPS, &p.ErrorRate, &p.P95LatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan metric point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// UpsertMetricPoint writes p, replacing any row with the same (service, ts).
func (r *PostgresRepository) UpsertMetricPoint(ctx context.Context, p *models.MetricPoint) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	return upsertMetricPoint(ctx, r.pool, p)
}

// AlertExistsSince reports whether an alert with dedupeKey was recorded for
// the service at or after since.
func (r *PostgresRepository) AlertExistsSince(ctx context.Context, serviceID int64, dedupeKey string, since time.Time) (bool, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alert_events
			WHERE service_id = $1 AND dedupe_key = $2 AND ts >= $3
		)
	`, serviceID, dedupeKey, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check alert existence: %w", err)
	}
	return exists, nil
}

// InsertAlertEvent appends an alert event and fills in its ID.
func (r *PostgresRepository) InsertAlertEvent(ctx context.Context, a *models.AlertEvent) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO alert_events (service_id, ts, channel, severity, message, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, a.ServiceID, a.Timestamp, a.Channel, a.Severity, a.Message, a.DedupeKey).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert alert event: %w", err)
	}
	return nil
}

// ListAlertEvents returns alert events, newest first.
func (r *PostgresRepository) ListAlertEvents(ctx context.Context, filter AlertFilter) ([]*models.AlertEvent, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1
	if filter.Service != "" {
		whereClause += fmt.Sprintf(" AND s.name = $%d", argPos)
		args = append(args, filter.Service)
		argPos++
	}

	query := fmt.Sprintf(`
		SELECT a.id, a.service_id, s.name, a.ts, a.channel, a.severity, a.message, a.dedupe_key
		FROM alert_events a
		JOIN services s ON s.id = a.service_id
		%s
		ORDER BY a.ts DESC, a.id DESC
	`, whereClause)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var alerts []*models.AlertEvent
	for rows.Next() {
		a := &models.AlertEvent{}
		if err := rows.Scan(&a.ID, &a.ServiceID, &a.Service, &a.Timestamp, &a.Channel,
			&a.Severity, &a.Message, &a.DedupeKey); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// pgTx implements Tx over a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) EnsureServices(ctx context.Context, names []string) (map[string]*models.Service, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO services (name)
		SELECT unnest($1::text[])
		ON CONFLICT (name) DO NOTHING
	`, names); err != nil {
		return nil, fmt.Errorf("failed to create services: %w", err)
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id, name, created_at FROM services WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve services: %w", err)
	}
	defer rows.Close()

	resolved := make(map[string]*models.Service, len(names))
	for rows.Next() {
		s := &models.Service{}
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		resolved[s.Name] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve services: %w", err)
	}
	return resolved, nil
}

func (t *pgTx) InsertLogEvents(ctx context.Context, events []*models.LogEvent) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		meta := ev.Meta
		if meta == nil {
			meta = map[string]interface{}{}
		}
		batch.Queue(`
			INSERT INTO log_events (service_id, ts, level, message, latency_ms, status_code, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at
		`, ev.ServiceID, ev.Timestamp, ev.Level, ev.Message, ev.LatencyMs, ev.StatusCode, meta)
	}

	results := t.tx.SendBatch(ctx, batch)
	for _, ev := range events {
		if err := results.QueryRow().Scan(&ev.ID, &ev.CreatedAt); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to insert log event: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to insert log events: %w", err)
	}
	return nil
}

func (t *pgTx) InsertMetricPoint(ctx context.Context, p *models.MetricPoint) error {
	return t.savepoint(ctx, func(sp pgx.Tx) error {
		err := sp.QueryRow(ctx, `
			INSERT INTO metric_points (service_id, ts, tps, error_rate, p95_latency_ms)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, p.ServiceID, p.Timestamp, p.TPS, p.ErrorRate, p.P95LatencyMs).Scan(&p.ID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrMetricConflict
			}
			return fmt.Errorf("failed to insert metric point: %w", err)
		}
		return nil
	})
}

func (t *pgTx) UpsertMetricPoint(ctx context.Context, p *models.MetricPoint) error {
	return t.savepoint(ctx, func(sp pgx.Tx) error {
		return upsertMetricPoint(ctx, sp, p)
	})
}

// savepoint runs fn in a nested transaction so a failed statement does not
// abort the enclosing one.
func (t *pgTx) savepoint(ctx context.Context, fn func(sp pgx.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertMetricPoint(ctx context.Context, q queryRower, p *models.MetricPoint) error {
	err := q.QueryRow(ctx, `
		INSERT INTO metric_points (service_id, ts, tps, error_rate, p95_latency_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (service_id, ts) DO UPDATE
		SET tps = EXCLUDED.tps,
		    error_rate = EXCLUDED.error_rate,
		    p95_latency_ms = EXCLUDED.p95_latency_ms
		RETURNING id
	`, p.ServiceID, p.Timestamp, p.TPS, p.ErrorRate, p.P95LatencyMs).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert metric point: %w", err)
	}
	return nil
}
