// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package redisstore

import (
	"time"

	"github.com/juju/mqueue/core/message"
)

// record is the JSON shape of one set member. Payload bytes travel
// base64-encoded, which is what encoding/json does with []byte.
type record struct {
	UUID        string     `json:"uuid"`
	SubQueue    string     `json:"sub-queue"`
	Ordinal     int64      `json:"ordinal"`
	AssignedTo  string     `json:"assigned-to,omitempty"`
	AssignedAt  *time.Time `json:"assigned-at,omitempty"`
	ContentType string     `json:"content-type,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
}

func recordFromMessage(m message.Message) record {
	return record{
		UUID:        m.UUID,
		SubQueue:    m.SubQueue,
		Ordinal:     m.Ordinal,
		AssignedTo:  m.AssignedTo,
		AssignedAt:  m.AssignedAt,
		ContentType: m.Payload.ContentType,
		Payload:     m.Payload.Data,
	}
}

func (r record) toMessage() message.Message {
	return message.Message{
		UUID:       r.UUID,
		SubQueue:   r.SubQueue,
		Ordinal:    r.Ordinal,
		AssignedTo: r.AssignedTo,
		AssignedAt: r.AssignedAt,
		Payload: message.Payload{
			Data:        r.Payload,
			ContentType: r.ContentType,
		},
	}
}
