// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sqlstore keeps the queue in a relational database. The
// ordinal column is the table's AUTOINCREMENT key, so the database
// itself hands out ordering and the store reports intrinsic
// ordinality.
package sqlstore

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/core/queue"
	"github.com/juju/mqueue/internal/database"
)

// Store implements storage.Store over a SQL database.
type Store struct {
	runner *database.TxnRunner
}

// New returns a store using the given transaction runner. The schema
// must already be in place; see EnsureSchema.
func New(runner *database.TxnRunner) (*Store, error) {
	if runner == nil {
		return nil, errors.NotValidf("nil runner")
	}
	return &Store{runner: runner}, nil
}

// Ordinality is part of storage.Store.
func (s *Store) Ordinality() queue.Ordinality {
	return queue.OrdinalityIntrinsic
}

// Append is part of storage.Store. The incoming ordinal is ignored;
// the database assigns the next one.
func (s *Store) Append(ctx context.Context, m message.Message) (message.Message, error) {
	row := rowFromMessage(m)

	stmt, err := sqlair.Prepare(`
INSERT INTO messages (uuid, sub_queue, assigned_to, assigned_at, content_type, payload)
VALUES ($messageRow.uuid, $messageRow.sub_queue, $messageRow.assigned_to,
        $messageRow.assigned_at, $messageRow.content_type, $messageRow.payload)`, messageRow{})
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}

	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, row).Get(&outcome); err != nil {
			if database.IsErrConstraintUnique(err) {
				return errors.AlreadyExistsf("message %q", m.UUID)
			}
			return errors.Trace(err)
		}
		ordinal, err := outcome.Result().LastInsertId()
		if err != nil {
			return errors.Trace(err)
		}
		m.Ordinal = ordinal
		return nil
	})
	if err != nil {
		return message.Message{}, errors.Annotatef(err, "appending message %q", m.UUID)
	}
	return m, nil
}

// RemoveByUUID is part of storage.Store.
func (s *Store) RemoveByUUID(ctx context.Context, uuid string) (int, error) {
	stmt, err := sqlair.Prepare(`
DELETE FROM messages WHERE uuid = $M.uuid`, sqlair.M{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	var removed int
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, sqlair.M{"uuid": uuid}).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		removed = int(affected)
		return nil
	})
	return removed, errors.Annotatef(err, "removing message %q", uuid)
}

// UpdateByUUID is part of storage.Store. The sub-queue and ordinal
// columns are never written, so stored identity and position survive
// whatever the caller passes in.
func (s *Store) UpdateByUUID(ctx context.Context, uuid string, m message.Message) (bool, error) {
	row := rowFromMessage(m)
	row.UUID = uuid

	stmt, err := sqlair.Prepare(`
UPDATE messages
SET    assigned_to = $messageRow.assigned_to,
       assigned_at = $messageRow.assigned_at,
       content_type = $messageRow.content_type,
       payload = $messageRow.payload
WHERE  uuid = $messageRow.uuid`, messageRow{})
	if err != nil {
		return false, errors.Trace(err)
	}

	var updated bool
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, row).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		updated = affected > 0
		return nil
	})
	return updated, errors.Annotatef(err, "updating message %q", uuid)
}

// FindByUUID is part of storage.Store.
func (s *Store) FindByUUID(ctx context.Context, uuid string) (message.Message, error) {
	stmt, err := sqlair.Prepare(`
SELECT &messageRow.* FROM messages WHERE uuid = $M.uuid`, messageRow{}, sqlair.M{})
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}

	var row messageRow
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, sqlair.M{"uuid": uuid}).Get(&row)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("message %q", uuid)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	return row.toMessage(), nil
}

// FindSubQueueOf is part of storage.Store.
func (s *Store) FindSubQueueOf(ctx context.Context, uuid string) (string, error) {
	stmt, err := sqlair.Prepare(`
SELECT sub_queue AS &subQueueName.sub_queue FROM messages WHERE uuid = $M.uuid`,
		subQueueName{}, sqlair.M{})
	if err != nil {
		return "", errors.Trace(err)
	}

	var name subQueueName
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, sqlair.M{"uuid": uuid}).Get(&name)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("message %q", uuid)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return name.Name, nil
}

// SubQueue is part of storage.Store.
func (s *Store) SubQueue(ctx context.Context, name string, f message.Filter) ([]message.Message, error) {
	q := `
SELECT &messageRow.* FROM messages WHERE sub_queue = $M.sub_queue`
	args := sqlair.M{"sub_queue": name}
	switch {
	case f.AssignedTo != "":
		q += ` AND assigned_to = $M.assigned_to`
		args["assigned_to"] = f.AssignedTo
	case f.UnassignedOnly:
		q += ` AND assigned_to = ''`
	}
	q += ` ORDER BY ordinal`

	stmt, err := sqlair.Prepare(q, messageRow{}, sqlair.M{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []messageRow
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, args).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "listing sub-queue %q", name)
	}

	out := make([]message.Message, len(rows))
	for i, row := range rows {
		out[i] = row.toMessage()
	}
	return out, nil
}

// MaxOrdinalOf is part of storage.Store.
func (s *Store) MaxOrdinalOf(ctx context.Context, name string) (int64, error) {
	stmt, err := sqlair.Prepare(`
SELECT COALESCE(MAX(ordinal), 0) AS &maxOrdinal.max
FROM   messages WHERE sub_queue = $M.sub_queue`, maxOrdinal{}, sqlair.M{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	var max maxOrdinal
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, sqlair.M{"sub_queue": name}).Get(&max))
	})
	return max.Max, errors.Trace(err)
}

// SizeOf is part of storage.Store.
func (s *Store) SizeOf(ctx context.Context, name string) (int, error) {
	stmt, err := sqlair.Prepare(`
SELECT COUNT(*) AS &count.num FROM messages WHERE sub_queue = $M.sub_queue`,
		count{}, sqlair.M{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	var n count
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, sqlair.M{"sub_queue": name}).Get(&n))
	})
	return n.Num, errors.Trace(err)
}

// SubQueues is part of storage.Store.
func (s *Store) SubQueues(ctx context.Context) (set.Strings, error) {
	stmt, err := sqlair.Prepare(`
SELECT DISTINCT sub_queue AS &subQueueName.sub_queue FROM messages`, subQueueName{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []subQueueName
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
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

// DeleteSubQueue is part of storage.Store.
func (s *Store) DeleteSubQueue(ctx context.Context, name string) (int, error) {
	stmt, err := sqlair.Prepare(`
DELETE FROM messages WHERE sub_queue = $M.sub_queue`, sqlair.M{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	var removed int
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, sqlair.M{"sub_queue": name}).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		removed = int(affected)
		return nil
	})
	return removed, errors.Annotatef(err, "clearing sub-queue %q", name)
}

// DeleteAll is part of storage.Store.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	stmt, err := sqlair.Prepare(`DELETE FROM messages`)
	if err != nil {
		return 0, errors.Trace(err)
	}

	var removed int
	err = s.runner.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
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
	return removed, errors.Annotate(err, "clearing all sub-queues")
}

// Ping is part of storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Trace(s.runner.PlainDB().PingContext(ctx))
}
