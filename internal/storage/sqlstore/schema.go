// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlstore

import (
	"context"
	"database/sql"

	"github.com/juju/errors"

	"github.com/juju/mqueue/internal/database"
)

// The ordinal is the table's rowid alias. AUTOINCREMENT keeps it
// strictly ascending even after deletions, so a message appended after
// a poll can never slip in front of one already consumed.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS messages (
    ordinal      INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid         TEXT NOT NULL,
    sub_queue    TEXT NOT NULL,
    assigned_to  TEXT NOT NULL DEFAULT '',
    assigned_at  INTEGER NOT NULL DEFAULT 0,
    content_type TEXT NOT NULL DEFAULT '',
    payload      BLOB,
    CONSTRAINT   chk_sub_queue_not_empty CHECK (sub_queue != ''),
    CONSTRAINT   uuid_unique UNIQUE (uuid)
);

CREATE INDEX IF NOT EXISTS idx_messages_sub_queue
ON messages (sub_queue, ordinal);

CREATE INDEX IF NOT EXISTS idx_messages_assignment
ON messages (sub_queue, assigned_to);

CREATE TABLE IF NOT EXISTS restrictions (
    name TEXT PRIMARY KEY
);
`

// EnsureSchema creates the message and restriction tables if this is
// the first run against the database. It is safe to call repeatedly.
func EnsureSchema(ctx context.Context, runner *database.TxnRunner) error {
	err := runner.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schemaDDL)
		return errors.Trace(err)
	})
	return errors.Annotate(err, "ensuring schema")
}
