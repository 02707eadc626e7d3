package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil},
		{name: "plain error", err: errors.New("boom")},
		{name: "serialization failure", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, want: true},
		{name: "wrapped deadlock", err: fmt.Errorf("upsert: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("replays conflicts until success", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 3, func(context.Context) error {
			calls++
			if calls < 3 {
				return &pgconn.PgError{Code: pgerrcode.DeadlockDetected}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 2, func(context.Context) error {
			calls++
			return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		})
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
		assert.Equal(t, 2, calls)
	})

	t.Run("does not replay other errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := withRetry(ctx, 0, func(context.Context) error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})
}

func TestTxOptions(t *testing.T) {
	assert.Equal(t, pgx.TxOptions{}, txOptions(nil))
	assert.Equal(t,
		pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly},
		txOptions(&sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true}),
	)
	assert.Equal(t,
		pgx.TxOptions{AccessMode: pgx.ReadWrite},
		txOptions(&sql.TxOptions{}),
	)
}
