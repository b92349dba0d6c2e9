package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/kerucko/scheduler/internal/config"
)

var (
	ErrNotFound         = errors.New("not found in database")
	ErrOverlap          = errors.New("task overlaps another task of the same user")
	ErrInvalidReference = errors.New("referenced row does not exist")
	ErrDuplicate        = errors.New("duplicate key")
	ErrInvalidRange     = errors.New("start date is after end date")
	ErrNoTx             = errors.New("lock requested outside of a transaction")
)

//go:embed schema.sql
var schema string

type txKey struct{}

// querier is the part of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conn returns the transaction carried by ctx, or the pool.
func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// withinTx runs fn in a READ COMMITTED transaction. Locks taken inside are
// held until commit, and every statement after a lock sees rows committed
// before it was granted. Nested calls join the outer transaction.
func withinTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// no-op once committed
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", translateError(err))
	}
	return nil
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

// translateError maps driver errors onto the package sentinels, keeping the
// driver error in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01":
			return fmt.Errorf("%w: %w", ErrOverlap, err)
		case "23503":
			return fmt.Errorf("%w: %w", ErrInvalidReference, err)
		case "23505":
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case "23514":
			if pgErr.ConstraintName == "tasks_date_range" {
				return fmt.Errorf("%w: %w", ErrInvalidRange, err)
			}
		}
	}
	return err
}

func NewConnection(ctx context.Context, cfg config.PostgresConfig, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	deadline := time.After(cfg.Timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn, err := pgxpool.NewWithConfig(ctx, poolCfg)
			if err != nil {
				log.WithError(err).Debug("postgres pool not ready")
				continue
			}
			if err = conn.Ping(ctx); err != nil {
				conn.Close()
				log.WithError(err).Debug("postgres ping failed")
				continue
			}
			log.WithField("host", cfg.Host).Info("successful database connection")
			return conn, nil

		case <-deadline:
			return nil, fmt.Errorf("unable to connect to database within %s", cfg.Timeout)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Migrate installs the schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Reset empties every table and restarts the id sequences.
func Reset(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "TRUNCATE tasks, users, task_statuses RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
