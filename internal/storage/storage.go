// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storage defines the contract every message store backend
// satisfies. The queue core is written against these interfaces only;
// the memory, relational, cache and document implementations live in
// the sub-packages.
package storage

import (
	"context"

	"github.com/juju/collections/set"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/core/queue"
)

// Store holds message records grouped into sub-queues. Implementations
// must be safe for concurrent use; cross-record invariants such as
// service-wide UUID uniqueness are enforced above this interface by
// the queue core.
type Store interface {
	// Ordinality reports who assigns message ordinals for this store.
	Ordinality() queue.Ordinality

	// Append stores a new message and returns it with its ordinal
	// populated. Stores with intrinsic ordinality ignore the incoming
	// ordinal; core-assigned stores persist it verbatim and return an
	// error satisfying ErrOrdinalConflict if another message of the
	// same sub-queue already holds it. A message whose UUID is
	// already present anywhere yields errors.AlreadyExists.
	Append(ctx context.Context, m message.Message) (message.Message, error)

	// RemoveByUUID deletes the message with the given UUID wherever
	// it lives and returns the number of records removed (0 or 1).
	RemoveByUUID(ctx context.Context, uuid string) (int, error)

	// UpdateByUUID overwrites the stored assignment state and payload
	// of the message with the given UUID, keeping its sub-queue and
	// ordinal. It returns false if no such message exists.
	UpdateByUUID(ctx context.Context, uuid string, m message.Message) (bool, error)

	// FindByUUID returns the message with the given UUID, or an error
	// satisfying errors.NotFound.
	FindByUUID(ctx context.Context, uuid string) (message.Message, error)

	// FindSubQueueOf returns the name of the sub-queue holding the
	// given UUID, or an error satisfying errors.NotFound.
	FindSubQueueOf(ctx context.Context, uuid string) (string, error)

	// SubQueue returns the messages of one sub-queue that match the
	// filter, in ascending ordinal order. A missing sub-queue is an
	// empty result, not an error.
	SubQueue(ctx context.Context, name string, f message.Filter) ([]message.Message, error)

	// MaxOrdinalOf returns the highest ordinal present in the named
	// sub-queue, or 0 when the sub-queue is empty.
	MaxOrdinalOf(ctx context.Context, name string) (int64, error)

	// SizeOf returns the number of messages in the named sub-queue.
	SizeOf(ctx context.Context, name string) (int, error)

	// SubQueues returns the names of all sub-queues currently holding
	// at least one message.
	SubQueues(ctx context.Context) (set.Strings, error)

	// DeleteSubQueue removes every message of the named sub-queue and
	// returns how many were removed.
	DeleteSubQueue(ctx context.Context, name string) (int, error)

	// DeleteAll removes every message in the store and returns how
	// many were removed.
	DeleteAll(ctx context.Context) (int, error)

	// Ping verifies that the store is reachable.
	Ping(ctx context.Context) error
}

// CompareAndSwapper is satisfied by stores that can update a message's
// assignment against its current assignee in one step. The queue core
// uses it when present to close the window between reading a message
// and claiming it.
type CompareAndSwapper interface {
	// CompareAndSwapOwner overwrites the stored message only if its
	// assignee still equals expect, reporting whether the swap took
	// place. A missing message reports false as well.
	CompareAndSwapOwner(ctx context.Context, uuid, expect string, m message.Message) (bool, error)
}

// RestrictionStore records which sub-queue names are restricted. It is
// deliberately a separate contract so a deployment can keep messages
// in one backend and restrictions in another.
type RestrictionStore interface {
	// Add marks the named sub-queue restricted. Adding a name twice
	// is not an error.
	Add(ctx context.Context, name string) error

	// Remove clears the restriction on the named sub-queue and
	// reports whether it was present.
	Remove(ctx context.Context, name string) (bool, error)

	// Contains reports whether the named sub-queue is restricted.
	Contains(ctx context.Context, name string) (bool, error)

	// All returns every restricted sub-queue name.
	All(ctx context.Context) (set.Strings, error)

	// Clear removes every restriction and returns how many there
	// were.
	Clear(ctx context.Context) (int, error)

	// Reserved returns sub-queue names this store claims for its own
	// bookkeeping. The service refuses to let clients use them.
	Reserved() set.Strings

	// Ping verifies that the store is reachable.
	Ping(ctx context.Context) error
}
