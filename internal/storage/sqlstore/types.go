// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlstore

import (
	"time"

	"github.com/juju/mqueue/core/message"
)

// messageRow is the database shape of one message. The assignment
// time is stored as UTC nanoseconds with zero meaning unassigned,
// which keeps the column NOT NULL.
type messageRow struct {
	Ordinal     int64  `db:"ordinal"`
	UUID        string `db:"uuid"`
	SubQueue    string `db:"sub_queue"`
	AssignedTo  string `db:"assigned_to"`
	AssignedAt  int64  `db:"assigned_at"`
	ContentType string `db:"content_type"`
	Payload     []byte `db:"payload"`
}

func rowFromMessage(m message.Message) messageRow {
	row := messageRow{
		Ordinal:     m.Ordinal,
		UUID:        m.UUID,
		SubQueue:    m.SubQueue,
		AssignedTo:  m.AssignedTo,
		ContentType: m.Payload.ContentType,
		Payload:     m.Payload.Data,
	}
	if m.AssignedAt != nil {
		row.AssignedAt = m.AssignedAt.UTC().UnixNano()
	}
	return row
}

func (r messageRow) toMessage() message.Message {
	m := message.Message{
		UUID:       r.UUID,
		SubQueue:   r.SubQueue,
		Ordinal:    r.Ordinal,
		AssignedTo: r.AssignedTo,
		Payload: message.Payload{
			Data:        r.Payload,
			ContentType: r.ContentType,
		},
	}
	if r.AssignedAt != 0 {
		at := time.Unix(0, r.AssignedAt).UTC()
		m.AssignedAt = &at
	}
	return m
}

// count carries aggregate results out of sqlair queries.
type count struct {
	Num int `db:"num"`
}

// maxOrdinal carries the coalesced MAX(ordinal) of a sub-queue.
type maxOrdinal struct {
	Max int64 `db:"max"`
}

// subQueueName carries bare sub-queue name results.
type subQueueName struct {
	Name string `db:"sub_queue"`
}

// restrictionRow is the database shape of one restriction.
type restrictionRow struct {
	Name string `db:"name"`
}
