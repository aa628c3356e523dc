// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package database wraps a SQL database with transaction helpers that
// retry transient failures. SQLite reports a busy error whenever two
// writers collide, so every transaction runs behind a single-slot
// semaphore and anything that still fails with a transient code is
// retried with backoff.
package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"golang.org/x/sync/semaphore"
)

var logger = loggo.GetLogger("mqueue.database")

const (
	defaultRetryAttempts = 10
	defaultRetryDelay    = 2 * time.Millisecond
)

// TxnRunner runs functions inside database transactions, retrying on
// transient driver errors. Almost all database consumers should go
// through one of these rather than holding a *sql.DB.
type TxnRunner struct {
	db    *sqlair.DB
	sem   *semaphore.Weighted
	clock clock.Clock
}

// NewTxnRunner wraps the given database. The clock drives retry
// backoff; pass clock.WallClock outside of tests.
func NewTxnRunner(db *sql.DB, clk clock.Clock) (*TxnRunner, error) {
	if db == nil {
		return nil, errors.NotValidf("nil db")
	}
	if clk == nil {
		return nil, errors.NotValidf("nil clock")
	}
	return &TxnRunner{
		db:    sqlair.NewDB(db),
		sem:   semaphore.NewWeighted(1),
		clock: clk,
	}, nil
}

// Txn executes fn inside a transaction using sqlair mapped queries.
// The transaction is committed when fn returns nil and rolled back
// otherwise. Transient failures rerun fn from scratch, so it must be
// idempotent up to its final commit.
func (r *TxnRunner) Txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return r.retry(ctx, func() error {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return errors.Trace(err)
		}
		defer r.sem.Release(1)

		tx, err := r.db.Begin(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Warningf("failed to rollback transaction: %v", rbErr)
			}
			return errors.Trace(err)
		}
		return errors.Trace(tx.Commit())
	})
}

// StdTxn is Txn for plain database/sql statements. It exists for the
// few statements sqlair cannot express, such as reading the last
// inserted row ID.
func (r *TxnRunner) StdTxn(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return r.retry(ctx, func() error {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return errors.Trace(err)
		}
		defer r.sem.Release(1)

		tx, err := r.db.PlainDB().BeginTx(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Warningf("failed to rollback transaction: %v", rbErr)
			}
			return errors.Trace(err)
		}
		return errors.Trace(tx.Commit())
	})
}

// PlainDB returns the underlying database handle for the rare callers
// that manage their own statements, such as health pings.
func (r *TxnRunner) PlainDB() *sql.DB {
	return r.db.PlainDB()
}

// Retry reruns fn until it succeeds, fails with a non-transient error
// or runs out of attempts. Exposed for callers composing their own
// transaction shapes on PlainDB.
func (r *TxnRunner) Retry(ctx context.Context, fn func() error) error {
	return r.retry(ctx, fn)
}

func (r *TxnRunner) retry(ctx context.Context, fn func() error) error {
	err := retry.Call(retry.CallArgs{
		Func:     fn,
		Attempts: defaultRetryAttempts,
		Delay:    defaultRetryDelay,
		MaxDelay: time.Second,
		BackoffFunc: func(delay time.Duration, attempt int) time.Duration {
			return retry.DoubleDelay(delay, attempt)
		},
		IsFatalError: func(err error) bool {
			return !IsErrRetryable(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Tracef("retrying transaction (attempt %d): %v", attempt, lastError)
		},
		Clock: r.clock,
		Stop:  ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
		return errors.Trace(retry.LastError(err))
	}
	return errors.Trace(err)
}
