// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database_test

import (
	"context"
	"database/sql"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	_ "github.com/mattn/go-sqlite3"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/internal/database"
)

type runnerSuite struct {
	testing.IsolationSuite

	db     *sql.DB
	runner *database.TxnRunner
}

var _ = gc.Suite(&runnerSuite{})

func (s *runnerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	db, err := sql.Open("sqlite3", ":memory:")
	c.Assert(err, jc.ErrorIsNil)
	db.SetMaxOpenConns(1)
	s.db = db
	s.AddCleanup(func(c *gc.C) {
		c.Assert(db.Close(), jc.ErrorIsNil)
	})

	s.runner, err = database.NewTxnRunner(db, clock.WallClock)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *runnerSuite) createTable(c *gc.C) {
	_, err := s.db.Exec("CREATE TABLE foo (id INT PRIMARY KEY, name VARCHAR(255))")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *runnerSuite) TestNewTxnRunnerValidates(c *gc.C) {
	_, err := database.NewTxnRunner(nil, clock.WallClock)
	c.Check(err, gc.ErrorMatches, "nil db not valid")

	_, err = database.NewTxnRunner(s.db, nil)
	c.Check(err, gc.ErrorMatches, "nil clock not valid")
}

func (s *runnerSuite) TestStdTxn(c *gc.C) {
	err := s.runner.StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT 1")
		if err != nil {
			return errors.Trace(err)
		}
		defer rows.Close()
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *runnerSuite) TestStdTxnInserts(c *gc.C) {
	s.createTable(c)

	err := s.runner.StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO foo (id, name) VALUES (1, 'test')")
		return errors.Trace(err)
	})
	c.Assert(err, jc.ErrorIsNil)

	var n int
	err = s.db.QueryRow("SELECT COUNT(*) FROM foo").Scan(&n)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 1)
}

func (s *runnerSuite) TestStdTxnRollsBackOnError(c *gc.C) {
	s.createTable(c)

	err := s.runner.StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO foo (id, name) VALUES (1, 'test')")
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Errorf("fail")
	})
	c.Assert(err, gc.ErrorMatches, "fail")

	var n int
	err = s.db.QueryRow("SELECT COUNT(*) FROM foo").Scan(&n)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 0)
}

func (s *runnerSuite) TestTxnWithCancelledContext(c *gc.C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.runner.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		c.Fatal("should not be called")
		return nil
	})
	c.Assert(err, gc.ErrorMatches, "context canceled")
}

func (s *runnerSuite) TestSqlairTxn(c *gc.C) {
	s.createTable(c)

	type foo struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}

	insert, err := sqlair.Prepare("INSERT INTO foo (id, name) VALUES ($foo.id, $foo.name)", foo{})
	c.Assert(err, jc.ErrorIsNil)
	get, err := sqlair.Prepare("SELECT &foo.* FROM foo WHERE id = $foo.id", foo{})
	c.Assert(err, jc.ErrorIsNil)

	err = s.runner.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, insert, foo{ID: 7, Name: "seven"}).Run())
	})
	c.Assert(err, jc.ErrorIsNil)

	var got foo
	err = s.runner.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, get, foo{ID: 7}).Get(&got))
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, gc.DeepEquals, foo{ID: 7, Name: "seven"})
}

func (s *runnerSuite) TestRetryForNonRetryableError(c *gc.C) {
	var count int
	err := s.runner.Retry(context.Background(), func() error {
		count++
		return errors.Errorf("fail")
	})
	c.Assert(err, gc.ErrorMatches, "fail")
	c.Assert(count, gc.Equals, 1)
}

func (s *runnerSuite) TestRetryForRetryableError(c *gc.C) {
	var count int
	err := s.runner.Retry(context.Background(), func() error {
		count++
		return errors.Errorf("database is locked")
	})
	c.Assert(err, gc.ErrorMatches, "database is locked")
	c.Assert(count, gc.Equals, 10)
}

func (s *runnerSuite) TestRetryStopsWhenContextCancelled(c *gc.C) {
	ctx, cancel := context.WithCancel(context.Background())

	var count int
	err := s.runner.Retry(ctx, func() error {
		defer cancel()
		count++
		return errors.Errorf("database is locked")
	})
	c.Assert(err, gc.NotNil)
	c.Assert(count, gc.Equals, 1)
}
