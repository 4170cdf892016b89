// Package pgxutil runs pgx-native work on connections borrowed from a database/sql pool.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// TxConfig groups the options and body of a WithPgxTx call.
type TxConfig struct {
	Opts *sql.TxOptions
	Fn   func(pgx.Tx) error
}

// ToPgxTxOptions converts sql.TxOptions to pgx.TxOptions.
func ToPgxTxOptions(opts *sql.TxOptions) pgx.TxOptions {
	var pgxOpts pgx.TxOptions
	if opts == nil {
		return pgxOpts
	}
	pgxOpts.IsoLevel = ToPgxIsoLevel(opts.Isolation)
	pgxOpts.AccessMode = ToPgxAccessMode(opts.ReadOnly)
	return pgxOpts
}

func ToPgxIsoLevel(level sql.IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case sql.LevelSerializable, sql.LevelLinearizable:
		return pgx.Serializable
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		return pgx.RepeatableRead
	case sql.LevelReadCommitted, sql.LevelWriteCommitted:
		return pgx.ReadCommitted
	case sql.LevelReadUncommitted:
		return pgx.ReadUncommitted
	default:
		// server default
		return pgx.TxIsoLevel("")
	}
}

func ToPgxAccessMode(readOnly bool) pgx.TxAccessMode {
	if readOnly {
		return pgx.ReadOnly
	}
	return pgx.ReadWrite
}

// WithPgxConn acquires a *pgx.Conn via the stdlib bridge and executes fn with it.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		return fn(std.Conn())
	})
}

// WithPgxTx runs cfg.Fn within a pgx transaction, committing when it returns nil.
// Errors from Fn are returned unwrapped so callers can match them.
func WithPgxTx(ctx context.Context, db *sql.DB, cfg TxConfig) error {
	return WithPgxConn(ctx, db, func(pgxConn *pgx.Conn) error {
		tx, err := pgxConn.BeginTx(ctx, ToPgxTxOptions(cfg.Opts))
		if err != nil {
			return fmt.Errorf("begin pgx tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if fnErr := cfg.Fn(tx); fnErr != nil {
			return fnErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return fmt.Errorf("commit pgx tx: %w", commitErr)
		}
		return nil
	})
}
