package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/apperror"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// PoolConfig bounds the database connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string, pool PoolConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if pool.MaxOpenConns == 0 {
		pool.MaxOpenConns = 25
	}
	if pool.MaxIdleConns == 0 {
		pool.MaxIdleConns = 5
	}
	if pool.ConnMaxLifetime == 0 {
		pool.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db), nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a single transaction. fn's error rolls the transaction back.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.Newf(apperror.KindNotFound, "%s not found", entity)
	}
	return fmt.Errorf("failed to load %s: %w", entity, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
