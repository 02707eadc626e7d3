// Package pgxutil bridges database/sql handles to pgx and runs transactions that retry when
// Postgres aborts them for deadlock or serialization conflicts.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
)

const (
	defaultTxAttempts = 3
	txRetryBase       = 20 * time.Millisecond
)

// SQLTxConfig configures WithSQLTx. Fn may run more than once and must not keep side effects
// outside the transaction.
type SQLTxConfig struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
	// Attempts bounds retries of conflicting transactions; zero means 3, one disables retries.
	Attempts int
}

// TxConfig configures WithPgxTx, with the same retry contract as SQLTxConfig.
type TxConfig struct {
	Opts     *sql.TxOptions
	Fn       func(pgx.Tx) error
	Attempts int
}

// IsRetryable reports whether err is a transaction abort that succeeds when replayed.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

func withRetry(ctx context.Context, attempts int, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = defaultTxAttempts
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.WithJitterPercent(50, retry.NewExponential(txRetryBase)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// WithSQLTx runs cfg.Fn within a database/sql transaction, committing when it returns nil.
func WithSQLTx(ctx context.Context, db *sql.DB, cfg SQLTxConfig) error {
	return withRetry(ctx, cfg.Attempts, func(ctx context.Context) (err error) {
		tx, err := db.BeginTx(ctx, cfg.Opts)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() {
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
			}
		}()
		if err = cfg.Fn(tx); err != nil {
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// WithPgxConn pins one pooled connection and hands its underlying *pgx.Conn to fn.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		return fn(std.Conn())
	})
}

// WithPgxTx runs cfg.Fn within a pgx transaction on a pinned connection.
func WithPgxTx(ctx context.Context, db *sql.DB, cfg TxConfig) error {
	return withRetry(ctx, cfg.Attempts, func(ctx context.Context) error {
		return WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
			tx, err := conn.BeginTx(ctx, txOptions(cfg.Opts))
			if err != nil {
				return fmt.Errorf("begin pgx tx: %w", err)
			}
			defer func() { _ = tx.Rollback(ctx) }()

			if err := cfg.Fn(tx); err != nil {
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit pgx tx: %w", err)
			}
			return nil
		})
	})
}

func txOptions(opts *sql.TxOptions) pgx.TxOptions {
	if opts == nil {
		return pgx.TxOptions{}
	}
	out := pgx.TxOptions{AccessMode: pgx.ReadWrite}
	if opts.ReadOnly {
		out.AccessMode = pgx.ReadOnly
	}
	switch opts.Isolation {
	case sql.LevelSerializable, sql.LevelLinearizable:
		out.IsoLevel = pgx.Serializable
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		out.IsoLevel = pgx.RepeatableRead
	case sql.LevelReadCommitted, sql.LevelWriteCommitted:
		out.IsoLevel = pgx.ReadCommitted
	case sql.LevelReadUncommitted:
		out.IsoLevel = pgx.ReadUncommitted
	}
	return out
}
