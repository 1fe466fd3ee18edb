package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bifrost-gw/bifrost/internal/service"
)

// Postgres persists service definitions in a relational table. It is the
// production Store; the gateway only talks to it through the Store interface.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects with the given DSN and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Init(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS services (
  id UUID PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  display_name TEXT,
  base_url TEXT NOT NULL,
  health_check_path TEXT NOT NULL DEFAULT '/health',
  timeout_seconds INT NOT NULL DEFAULT 30,
  rate_limit_per_minute INT NOT NULL DEFAULT 100,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  description TEXT,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  health_status TEXT NOT NULL DEFAULT 'unknown',
  last_health_check TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS services_is_active_idx ON services (is_active);
`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

const selectCols = `id, name, COALESCE(display_name,''), base_url, health_check_path,
timeout_seconds, rate_limit_per_minute, is_active, COALESCE(description,''),
metadata, health_status, last_health_check, created_at, updated_at`

func scanDefinition(row interface{ Scan(...any) error }) (*service.Definition, error) {
	var d service.Definition
	var meta []byte
	var last sql.NullTime
	err := row.Scan(&d.ID, &d.Name, &d.DisplayName, &d.BaseURL, &d.HealthCheckPath,
		&d.TimeoutSeconds, &d.RateLimitPerMinute, &d.IsActive, &d.Description,
		&meta, &d.HealthStatus, &last, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &d.Metadata)
	}
	if last.Valid {
		t := last.Time
		d.LastHealthCheck = &t
	}
	return &d, nil
}

func (p *Postgres) queryList(ctx context.Context, where string, args ...any) ([]*service.Definition, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+selectCols+` FROM services `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()
	var list []*service.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func (p *Postgres) LoadActive(ctx context.Context) ([]*service.Definition, error) {
	return p.queryList(ctx, `WHERE is_active = TRUE ORDER BY name`)
}

func (p *Postgres) List(ctx context.Context) ([]*service.Definition, error) {
	return p.queryList(ctx, `ORDER BY created_at`)
}

func (p *Postgres) Get(ctx context.Context, id string) (*service.Definition, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM services WHERE id = $1`, id)
	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (p *Postgres) GetByName(ctx context.Context, name string) (*service.Definition, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM services WHERE name = $1`, name)
	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (p *Postgres) Create(ctx context.Context, def *service.Definition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	meta, _ := json.Marshal(def.Metadata)
	_, err := p.db.ExecContext(ctx, `
INSERT INTO services (id, name, display_name, base_url, health_check_path,
  timeout_seconds, rate_limit_per_minute, is_active, description, metadata, health_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		def.ID, def.Name, def.DisplayName, def.BaseURL, def.HealthCheckPath,
		def.TimeoutSeconds, def.RateLimitPerMinute, def.IsActive, def.Description,
		meta, string(def.HealthStatus))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("service %q already exists", def.Name)
	}
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, def *service.Definition) error {
	meta, _ := json.Marshal(def.Metadata)
	res, err := p.db.ExecContext(ctx, `
UPDATE services SET name=$2, display_name=$3, base_url=$4, health_check_path=$5,
  timeout_seconds=$6, rate_limit_per_minute=$7, is_active=$8, description=$9,
  metadata=$10, updated_at=now()
WHERE id=$1`,
		def.ID, def.Name, def.DisplayName, def.BaseURL, def.HealthCheckPath,
		def.TimeoutSeconds, def.RateLimitPerMinute, def.IsActive, def.Description, meta)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateHealth(ctx context.Context, id string, status service.HealthStatus, checkedAt time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE services SET health_status=$2, last_health_check=$3 WHERE id=$1`,
		id, string(status), checkedAt)
	if err != nil {
		return fmt.Errorf("update health: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Stats(ctx context.Context) (service.Stats, error) {
	var st service.Stats
	row := p.db.QueryRowContext(ctx, `
SELECT count(*),
  count(*) FILTER (WHERE is_active),
  count(*) FILTER (WHERE health_status = 'healthy'),
  count(*) FILTER (WHERE health_status = 'unhealthy'),
  count(*) FILTER (WHERE health_status = 'unknown')
FROM services`)
	if err := row.Scan(&st.Total, &st.Active, &st.Healthy, &st.Unhealthy, &st.Unknown); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (p *Postgres) Close() error { return p.db.Close() }
