package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var (
	_ Database    = (*MySQL)(nil)
	_ Transaction = (*MySQLTransaction)(nil)
)

const pingTimeout = 5 * time.Second

// MySQLConfig holds the MySQL DSN and pool limits.
// The DSN must set parseTime=true; times are stored in UTC.
type MySQLConfig struct {
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}

func (c MySQLConfig) withDefaults() MySQLConfig {
	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = 25
	}
	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	return c
}

// sqlRunner is the part of *sql.DB and *sql.Tx the repositories use.
type sqlRunner interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// runner adapts a sqlRunner to Querier, tagging errors with where they happened.
type runner struct {
	r     sqlRunner
	scope string
}

func (q runner) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query failed: %w", q.scope, err)
	}
	return rows, nil
}

func (q runner) QueryRow(ctx context.Context, query string, args ...any) Row {
	return q.r.QueryRowContext(ctx, query, args...)
}

func (q runner) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	result, err := q.r.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s exec failed: %w", q.scope, err)
	}
	return result, nil
}

// MySQL is a pooled MySQL connection.
type MySQL struct {
	runner
	db *sql.DB
}

// NewMySQLWithConfig opens the pool and verifies it with a ping.
func NewMySQLWithConfig(config *MySQLConfig) (*MySQL, error) {
	if config == nil || config.DSN == "" {
		return nil, errors.New("mysql dsn is required")
	}
	cfg := config.withDefaults()

	sqlDB, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql failed: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	m, err := NewMySQLWithDB(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}

// NewMySQLWithDB wraps an open *sql.DB, e.g. one created by sqlmock.
func NewMySQLWithDB(sqlDB *sql.DB) (*MySQL, error) {
	m := &MySQL{runner: runner{r: sqlDB, scope: "mysql"}, db: sqlDB}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := m.Ping(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Transaction runs fn in a transaction. fn's error or panic rolls it back.
func (m *MySQL) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	tx := &MySQLTransaction{runner: runner{r: sqlTx, scope: "transaction"}, tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Ping checks that the database is reachable.
func (m *MySQL) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql failed: %w", err)
	}
	return nil
}

// Close closes the pool.
func (m *MySQL) Close() error {
	return m.db.Close()
}

// MySQLTransaction is an open MySQL transaction.
type MySQLTransaction struct {
	runner
	tx *sql.Tx
}

func (t *MySQLTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (t *MySQLTransaction) Rollback() error {
	return t.tx.Rollback()
}
