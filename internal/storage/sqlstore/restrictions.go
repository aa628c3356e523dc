// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlstore

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/mqueue/internal/database"
)

// Restrictions implements storage.RestrictionStore over the same
// database as the message store.
type Restrictions struct {
	runner *database.TxnRunner
}

// NewRestrictions returns a restriction store using the given
// transaction runner.
func NewRestrictions(runner *database.TxnRunner) (*Restrictions, error) {
	if runner == nil {
		return nil, errors.NotValidf("nil runner")
	}
	return &Restrictions{runner: runner}, nil
}

// Add is part of storage.RestrictionStore.
func (r *Restrictions) Add(ctx context.Context, name string) error {
	stmt, err := sqlair.Prepare(`
INSERT INTO restrictions (name) VALUES ($restrictionRow.name)
ON CONFLICT (name) DO NOTHING`, restrictionRow{})
	if err != nil {
		return errors.Trace(err)
	}

	err = r.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, restrictionRow{Name: name}).Run())
	})
	return errors.Annotatef(err, "restricting sub-queue %q", name)
}

// Remove is part of storage.RestrictionStore.
func (r *Restrictions) Remove(ctx context.Context, name string) (bool, error) {
	stmt, err := sqlair.Prepare(`
DELETE FROM restrictions WHERE name = $restrictionRow.name`, restrictionRow{})
	if err != nil {
		return false, errors.Trace(err)
	}

	var removed bool
	err = r.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, restrictionRow{Name: name}).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		removed = affected > 0
		return nil
	})
	return removed, errors.Annotatef(err, "unrestricting sub-queue %q", name)
}

// Contains is part of storage.RestrictionStore.
func (r *Restrictions) Contains(ctx context.Context, name string) (bool, error) {
	stmt, err := sqlair.Prepare(`
SELECT COUNT(*) AS &count.num FROM restrictions WHERE name = $restrictionRow.name`,
		count{}, restrictionRow{})
	if err != nil {
		return false, errors.Trace(err)
	}

	var n count
	err = r.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, restrictionRow{Name: name}).Get(&n))
	})
	return n.Num > 0, errors.Trace(err)
}

// All is part of storage.RestrictionStore.
func (r *Restrictions) All(ctx context.Context) (set.Strings, error) {
	stmt, err := sqlair.Prepare(`SELECT &restrictionRow.* FROM restrictions`, restrictionRow{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []restrictionRow
	err = r.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	names := set.NewStrings()
	for _, row := range rows {
		names.Add(row.Name)
	}
	return names, nil
}

// Clear is part of storage.RestrictionStore.
func (r *Restrictions) Clear(ctx context.Context) (int, error) {
	stmt, err := sqlair.Prepare(`DELETE FROM restrictions`)
	if err != nil {
		return 0, errors.Trace(err)
	}

	var removed int
	err = r.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		removed = int(affected)
		return nil
	})
	return removed, errors.Annotate(err, "clearing restrictions")
}

// Reserved is part of storage.RestrictionStore. Restrictions live in
// their own table, outside the message namespace, so nothing is
// reserved.
func (r *Restrictions) Reserved() set.Strings {
	return set.NewStrings()
}

// Ping is part of storage.RestrictionStore.
func (r *Restrictions) Ping(ctx context.Context) error {
	return errors.Trace(r.runner.PlainDB().PingContext(ctx))
}
