package db

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("record not found")

//go:embed schema.sql
var schema string

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	Pool Querier
}

// New connects to Postgres, retrying the initial ping with exponential
// backoff so the service can start before the database is ready.
func New(ctx context.Context, conn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 6), ctx)
	err = backoff.RetryNotify(
		func() error { return pool.Ping(ctx) },
		b,
		func(err error, next time.Duration) {
			log.Warn("database not reachable, retrying",
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		},
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return NewWithQuerier(pool), nil
}

func NewWithQuerier(q Querier) *Store {
	return &Store{Pool: q}
}

func (s *Store) Close() {
	if c, ok := s.Pool.(interface{ Close() }); ok {
		c.Close()
	}
}

// Migrate creates the tables used by the mail subsystem if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
