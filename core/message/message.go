// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package message

import (
	"time"

	"github.com/juju/errors"
)

// Message is a single queued record. A message belongs to exactly one
// sub-queue for its whole life; its UUID is unique across the entire
// service, while its Ordinal orders it relative to the other messages
// of the same sub-queue.
type Message struct {
	// UUID identifies the message uniquely across all sub-queues.
	UUID string

	// SubQueue names the sub-queue the message belongs to. It is set
	// when the message is added and never changes afterwards.
	SubQueue string

	// Ordinal is the message's position key within its sub-queue.
	// Sub-queue traversal is in ascending ordinal order. A zero
	// ordinal means the value has not been assigned yet.
	Ordinal int64

	// AssignedTo is the identifier of the current owner of the
	// message, or empty when the message is unassigned.
	AssignedTo string

	// AssignedAt records when the message last went from unassigned
	// to assigned. It is nil for messages that are unassigned and is
	// not refreshed by repeated assignment to the same owner.
	AssignedAt *time.Time

	// Payload is the opaque message body.
	Payload Payload
}

// Validate returns an error satisfying errors.NotValid if the message
// is not well formed enough to be stored.
func (m Message) Validate() error {
	if m.SubQueue == "" {
		return errors.NotValidf("message without a sub-queue")
	}
	if m.AssignedAt != nil && m.AssignedTo == "" {
		return errors.NotValidf("assignment timestamp on unassigned message")
	}
	return nil
}

// Assigned reports whether the message currently has an owner.
func (m Message) Assigned() bool {
	return m.AssignedTo != ""
}
