// Package fleetstore persists fleet topology — host capacity and label
// definitions — to Postgres. Per-pass utilization history is never
// written here: that state stays in-memory only, owned by
// internal/history.
package fleetstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HostRecord is a host's durable topology definition.
type HostRecord struct {
	ID        int64             `json:"id"`
	TotalMips float64           `json:"total_mips"`
	Labels    map[string]string `json:"labels"`
	PowerIdle float64           `json:"power_idle"`
	PowerMax  float64           `json:"power_max"`
}

// Store persists HostRecords in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, pings it, and ensures the fleet_hosts table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("fleetstore: postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("fleetstore: create postgres pool: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("fleetstore: ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fleet_hosts (
			id TEXT PRIMARY KEY,
			total_mips DOUBLE PRECISION NOT NULL,
			labels JSONB NOT NULL DEFAULT '{}',
			power_idle DOUBLE PRECISION NOT NULL DEFAULT 0,
			power_max DOUBLE PRECISION NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("fleetstore: ensure schema: %w", err)
	}
	return nil
}

// UpsertHost inserts or updates a host's topology record.
func (s *Store) UpsertHost(ctx context.Context, h HostRecord) error {
	labels, err := json.Marshal(h.Labels)
	if err != nil {
		return fmt.Errorf("fleetstore: marshal labels: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO fleet_hosts (id, total_mips, labels, power_idle, power_max)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			total_mips = EXCLUDED.total_mips,
			labels = EXCLUDED.labels,
			power_idle = EXCLUDED.power_idle,
			power_max = EXCLUDED.power_max
	`, fmt.Sprintf("%d", h.ID), h.TotalMips, labels, h.PowerIdle, h.PowerMax)
	if err != nil {
		return fmt.Errorf("fleetstore: upsert host: %w", err)
	}
	return nil
}

// ListHosts returns every host's topology record, ordered by id.
func (s *Store) ListHosts(ctx context.Context) ([]HostRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, total_mips, labels, power_idle, power_max
		FROM fleet_hosts ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("fleetstore: list hosts: %w", err)
	}
	defer rows.Close()

	var out []HostRecord
	for rows.Next() {
		var idStr string
		var h HostRecord
		var labels []byte
		if err := rows.Scan(&idStr, &h.TotalMips, &labels, &h.PowerIdle, &h.PowerMax); err != nil {
			return nil, fmt.Errorf("fleetstore: scan host: %w", err)
		}
		if _, err := fmt.Sscanf(idStr, "%d", &h.ID); err != nil {
			return nil, fmt.Errorf("fleetstore: parse host id %q: %w", idStr, err)
		}
		if err := json.Unmarshal(labels, &h.Labels); err != nil {
			return nil, fmt.Errorf("fleetstore: unmarshal labels: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fleetstore: list hosts rows: %w", err)
	}
	return out, nil
}

// DeleteHost removes a host's topology record.
func (s *Store) DeleteHost(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM fleet_hosts WHERE id = $1`, fmt.Sprintf("%d", id))
	if err != nil {
		return fmt.Errorf("fleetstore: delete host: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
