// Package journal persists leases in Postgres so allocations survive restarts.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"leased/internal/lease"
	"leased/pkg/db"
)

// Journal writes lease state changes to the leases table.
type Journal struct {
	pool   *pgxpool.Pool
	server string
	meta   map[string]any
}

type leaseRow struct {
	ID           uuid.UUID  `db:"id"`
	Address      string     `db:"address"`
	Client       string     `db:"client"`
	State        string     `db:"state"`
	LeaseSeconds int64      `db:"lease_seconds"`
	OfferedAt    time.Time  `db:"offered_at"`
	BoundAt      *time.Time `db:"bound_at"`
}

// Open connects to dsn, applies migrations and returns a ready Journal.
// server identifies the issuing server in each row's metadata.
func Open(ctx context.Context, dsn, server string) (*Journal, error) {
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return New(pool, server), nil
}

// New wraps an already migrated pool.
func New(pool *pgxpool.Pool, server string) *Journal {
	return &Journal{pool: pool, server: server, meta: map[string]any{"server": server}}
}

// Close releases the connection pool.
func (j *Journal) Close() {
	if j != nil && j.pool != nil {
		j.pool.Close()
	}
}

// Record upserts l keyed by address.
func (j *Journal) Record(ctx context.Context, l lease.Lease) error {
	if j == nil {
		return errors.New("nil journal")
	}
	meta, err := json.Marshal(j.meta)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, j.pool, `
		INSERT INTO leases (id, address, client, state, lease_seconds, meta, offered_at, bound_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, now())
		ON CONFLICT (address) DO UPDATE SET
			client = EXCLUDED.client,
			state = EXCLUDED.state,
			lease_seconds = EXCLUDED.lease_seconds,
			bound_at = EXCLUDED.bound_at,
			updated_at = now()`,
		l.ID, l.Address.String(), l.Client, string(l.State), int64(l.LeaseTime/time.Second), string(meta), l.OfferedAt, l.BoundAt,
	)
	if err != nil {
		return fmt.Errorf("record lease %s: %w", l.Address, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	if j == nil || j.pool == nil {
		return errors.New("nil journal")
	}
	return db.Ping(ctx, j.pool)
}

// List returns the leases recorded by this journal's server, ordered by
// address. Rows written by other servers sharing the database are excluded.
func (j *Journal) List(ctx context.Context) ([]lease.Lease, error) {
	if j == nil {
		return nil, errors.New("nil journal")
	}
	var rows []leaseRow
	if err := db.Select(ctx, j.pool, &rows, listQuery, j.server); err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}

	out := make([]lease.Lease, 0, len(rows))
	for _, r := range rows {
		l, err := r.toLease()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

const listQuery = `
	SELECT id, address, client, state, lease_seconds, offered_at, bound_at
	FROM leases
	WHERE meta->>'server' = $1
	ORDER BY address::inet`

func (r leaseRow) toLease() (lease.Lease, error) {
	ip := net.ParseIP(r.Address).To4()
	if ip == nil {
		return lease.Lease{}, fmt.Errorf("lease %s has invalid address %q", r.ID, r.Address)
	}
	switch lease.State(r.State) {
	case lease.StateOffered, lease.StateBound:
	default:
		return lease.Lease{}, fmt.Errorf("lease %s has unknown state %q", r.ID, r.State)
	}
	return lease.Lease{
		ID:        r.ID,
		Address:   ip,
		Client:    r.Client,
		State:     lease.State(r.State),
		LeaseTime: time.Duration(r.LeaseSeconds) * time.Second,
		OfferedAt: r.OfferedAt,
		BoundAt:   r.BoundAt,
	}, nil
}
