// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mongostore

import (
	"time"

	"github.com/juju/mqueue/core/message"
)

// messageDoc is the document shape of one message. The UUID doubles
// as the document id, which makes Mongo enforce service-wide UUID
// uniqueness through the primary index. The assignment time is stored
// as UTC nanoseconds with zero meaning unassigned, so the field is
// always present and filterable.
type messageDoc struct {
	UUID        string `bson:"_id"`
	SubQueue    string `bson:"sub-queue"`
	Ordinal     int64  `bson:"ordinal"`
	AssignedTo  string `bson:"assigned-to"`
	AssignedAt  int64  `bson:"assigned-at"`
	ContentType string `bson:"content-type,omitempty"`
	Payload     []byte `bson:"payload,omitempty"`
}

func docFromMessage(m message.Message) messageDoc {
	doc := messageDoc{
		UUID:        m.UUID,
		SubQueue:    m.SubQueue,
		Ordinal:     m.Ordinal,
		AssignedTo:  m.AssignedTo,
		ContentType: m.Payload.ContentType,
		Payload:     m.Payload.Data,
	}
	if m.AssignedAt != nil {
		doc.AssignedAt = m.AssignedAt.UTC().UnixNano()
	}
	return doc
}

func (d messageDoc) toMessage() message.Message {
	m := message.Message{
		UUID:       d.UUID,
		SubQueue:   d.SubQueue,
		Ordinal:    d.Ordinal,
		AssignedTo: d.AssignedTo,
		Payload: message.Payload{
			Data:        d.Payload,
			ContentType: d.ContentType,
		},
	}
	if d.AssignedAt != 0 {
		at := time.Unix(0, d.AssignedAt).UTC()
		m.AssignedAt = &at
	}
	return m
}

// restrictionDoc is the document shape of one restriction; the name
// is the id, so restricting twice upserts into the same document.
type restrictionDoc struct {
	Name string `bson:"_id"`
}
