package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coldwatch/internal/state"
)

// Postgres is a state.Store backed by a single key/value table
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres connects, pings and ensures the table exists
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	p := &Postgres{Pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+kvTable+` (
			namespace  TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			value      BYTEA       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, key)
		)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", kvTable, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	row := p.Pool.QueryRow(ctx, `SELECT value FROM `+kvTable+` WHERE namespace=$1 AND key=$2`, namespace, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, state.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO `+kvTable+` (namespace, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		namespace, key, value)
	return err
}

func (p *Postgres) Close() error {
	if p.Pool != nil {
		p.Pool.Close()
	}
	return nil
}
