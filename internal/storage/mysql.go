package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"coldwatch/internal/state"
)

// MySQL is a state.Store backed by a single key/value table
type MySQL struct {
	DB *sql.DB
}

// NewMySQL parses the DSN, connects and ensures the table exists
func NewMySQL(ctx context.Context, dsn string) (*MySQL, error) {
	if dsn == "" {
		return nil, errors.New("mysql dsn is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	m, err := NewMySQLFromDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// NewMySQLFromDB wraps an open handle and ensures the table exists
func NewMySQLFromDB(ctx context.Context, db *sql.DB) (*MySQL, error) {
	m := &MySQL{DB: db}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+kvTable+` (
			namespace  VARCHAR(64) NOT NULL,
			`+"`key`"+`      VARCHAR(64) NOT NULL,
			value      BLOB        NOT NULL,
			updated_at TIMESTAMP   NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, `+"`key`"+`)
		)`)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kvTable, err)
	}
	return m, nil
}

func (m *MySQL) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	row := m.DB.QueryRowContext(ctx, "SELECT value FROM "+kvTable+" WHERE namespace=? AND `key`=?", namespace, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, state.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (m *MySQL) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := m.DB.ExecContext(ctx,
		"INSERT INTO "+kvTable+" (namespace, `key`, value) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)",
		namespace, key, value)
	return err
}

func (m *MySQL) Close() error {
	if m.DB != nil {
		return m.DB.Close()
	}
	return nil
}
