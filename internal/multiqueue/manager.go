// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package multiqueue holds the backend-agnostic queue core. A Manager
// owns every rule that spans records: service-wide UUID uniqueness,
// ordinal hand-out for stores that cannot mint their own, assignment
// hand-over and the poll-removes-head contract. The storage backends
// stay a narrow record CRUD surface underneath it.
package multiqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/core/queue"
	"github.com/juju/mqueue/internal/storage"
)

var logger = loggo.GetLogger("mqueue.multiqueue")

const (
	// ordinalAttempts bounds how often an append that collided on its
	// ordinal is recomputed and retried before the conflict surfaces
	// to the caller.
	ordinalAttempts   = 5
	ordinalRetryDelay = 2 * time.Millisecond

	// pollRetries is how often a poll that lost the removal race
	// re-reads the head before reporting the sub-queue empty.
	pollRetries = 1
)

// Config holds the manager's dependencies.
type Config struct {
	Store storage.Store
	Clock clock.Clock
}

// Validate returns an error if the config is not usable.
func (c Config) Validate() error {
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Manager is the queue core. It is safe for concurrent use; mutating
// operations on one sub-queue serialize on a per-sub-queue lock, and
// races with other processes sharing the store resolve through the
// store's own conflict reporting.
type Manager struct {
	store storage.Store
	clock clock.Clock
	locks *kmutex.Kmutex
}

// NewManager returns a manager over the configured store.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Manager{
		store: config.Store,
		clock: config.Clock,
		locks: kmutex.New(),
	}, nil
}

// Add stores a new message, minting a UUID when the caller supplied
// none. The message's sub-queue comes into existence with its first
// message. A UUID already present anywhere is rejected with a
// DuplicateUUIDError naming the sub-queue that holds it.
func (m *Manager) Add(ctx context.Context, msg message.Message) (message.Message, error) {
	if msg.UUID == "" {
		msg.UUID = uuid.NewString()
	}
	if err := msg.Validate(); err != nil {
		return message.Message{}, errors.Trace(err)
	}

	unlock := m.lock(msg.SubQueue)
	defer unlock()

	if name, err := m.store.FindSubQueueOf(ctx, msg.UUID); err == nil {
		return message.Message{}, &DuplicateUUIDError{UUID: msg.UUID, SubQueue: name}
	} else if !errors.Is(err, errors.NotFound) {
		return message.Message{}, errors.Trace(err)
	}

	var stored message.Message
	var err error
	if m.store.Ordinality() == queue.OrdinalityIntrinsic {
		stored, err = m.store.Append(ctx, msg)
	} else {
		stored, err = m.appendWithOrdinal(ctx, msg)
	}
	if errors.Is(err, errors.AlreadyExists) {
		// Another process slipped the same UUID in after our check.
		return message.Message{}, m.duplicateOf(ctx, msg.UUID)
	} else if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	return stored, nil
}

// appendWithOrdinal computes max+1 and appends, retrying with a fresh
// ordinal while other writers of the same sub-queue win the slot
// first. Call it with the sub-queue lock held.
func (m *Manager) appendWithOrdinal(ctx context.Context, msg message.Message) (message.Message, error) {
	var stored message.Message
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			max, err := m.store.MaxOrdinalOf(ctx, msg.SubQueue)
			if err != nil {
				return errors.Trace(err)
			}
			next := msg
			next.Ordinal = max + 1
			stored, err = m.store.Append(ctx, next)
			return errors.Trace(err)
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, storage.ErrOrdinalConflict)
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("ordinal conflict on %q (attempt %d): %v", msg.SubQueue, attempt, lastError)
		},
		Attempts: ordinalAttempts,
		Delay:    ordinalRetryDelay,
		Clock:    m.clock,
		Stop:     ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		err = retry.LastError(err)
	}
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	return stored, nil
}

// duplicateOf builds the duplicate error for a UUID, looking up which
// sub-queue holds it. The holder may have vanished again by the time
// we look; the error then simply omits it.
func (m *Manager) duplicateOf(ctx context.Context, id string) error {
	name, err := m.store.FindSubQueueOf(ctx, id)
	if err != nil {
		name = ""
	}
	return &DuplicateUUIDError{UUID: id, SubQueue: name}
}

// Remove deletes the message with the given UUID wherever it lives,
// reporting whether anything was removed.
func (m *Manager) Remove(ctx context.Context, id string) (bool, error) {
	n, err := m.store.RemoveByUUID(ctx, id)
	if err != nil {
		return false, errors.Trace(err)
	}
	return n > 0, nil
}

// Poll returns and removes the head of the sub-queue. Concurrent
// polls race on the removal; a loser re-reads the head once more and
// then reports the sub-queue empty rather than spinning.
func (m *Manager) Poll(ctx context.Context, subQueue string) (message.Message, bool, error) {
	for attempt := 0; ; attempt++ {
		head, ok, err := m.Peek(ctx, subQueue)
		if err != nil || !ok {
			return message.Message{}, false, errors.Trace(err)
		}
		n, err := m.store.RemoveByUUID(ctx, head.UUID)
		if err != nil {
			return message.Message{}, false, errors.Trace(err)
		}
		if n > 0 {
			return head, true, nil
		}
		if attempt >= pollRetries {
			logger.Debugf("poll on %q lost the head twice, reporting empty", subQueue)
			return message.Message{}, false, nil
		}
	}
}

// Peek returns the head of the sub-queue without removing it. An
// empty or unknown sub-queue reports ok false.
func (m *Manager) Peek(ctx context.Context, subQueue string) (message.Message, bool, error) {
	list, err := m.store.SubQueue(ctx, subQueue, message.Filter{})
	if err != nil {
		return message.Message{}, false, errors.Trace(err)
	}
	if len(list) == 0 {
		return message.Message{}, false, nil
	}
	return list[0], true, nil
}

// GetMessageByUUID returns the message with the given UUID, or an
// error satisfying errors.NotFound.
func (m *Manager) GetMessageByUUID(ctx context.Context, id string) (message.Message, error) {
	msg, err := m.store.FindByUUID(ctx, id)
	return msg, errors.Trace(err)
}

// ContainsUUID reports whether any sub-queue holds the UUID and, if
// so, which one.
func (m *Manager) ContainsUUID(ctx context.Context, id string) (string, bool, error) {
	name, err := m.store.FindSubQueueOf(ctx, id)
	if errors.Is(err, errors.NotFound) {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.Trace(err)
	}
	return name, true, nil
}

// GetForSubQueue returns the messages of one sub-queue matching the
// filter, ascending by ordinal.
func (m *Manager) GetForSubQueue(ctx context.Context, subQueue string, f message.Filter) ([]message.Message, error) {
	list, err := m.store.SubQueue(ctx, subQueue, f)
	return list, errors.Trace(err)
}

// Keys returns the known sub-queue identifiers. Every store forgets a
// sub-queue the moment its last message goes, so includeEmpty cannot
// widen the answer; the parameter is kept for wire compatibility.
func (m *Manager) Keys(ctx context.Context, includeEmpty bool) (set.Strings, error) {
	names, err := m.store.SubQueues(ctx)
	return names, errors.Trace(err)
}

// SizeOf returns the number of messages in the sub-queue, counted by
// the store rather than any cached figure.
func (m *Manager) SizeOf(ctx context.Context, subQueue string) (int, error) {
	n, err := m.store.SizeOf(ctx, subQueue)
	return n, errors.Trace(err)
}

// Size returns the total number of messages across all sub-queues.
func (m *Manager) Size(ctx context.Context) (int, error) {
	names, err := m.store.SubQueues(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	var total int
	for _, name := range names.Values() {
		n, err := m.store.SizeOf(ctx, name)
		if err != nil {
			return 0, errors.Trace(err)
		}
		total += n
	}
	return total, nil
}

// IsEmpty reports whether the service holds no messages at all. A
// store only reports sub-queues holding at least one message, so an
// empty name set is an empty service.
func (m *Manager) IsEmpty(ctx context.Context) (bool, error) {
	names, err := m.store.SubQueues(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	return names.IsEmpty(), nil
}

// IsEmptyFor reports whether the sub-queue holds no messages.
func (m *Manager) IsEmptyFor(ctx context.Context, subQueue string) (bool, error) {
	n, err := m.store.SizeOf(ctx, subQueue)
	if err != nil {
		return false, errors.Trace(err)
	}
	return n == 0, nil
}

// ClearFor removes every message of the sub-queue, returning the
// count removed.
func (m *Manager) ClearFor(ctx context.Context, subQueue string) (int, error) {
	n, err := m.store.DeleteSubQueue(ctx, subQueue)
	return n, errors.Trace(err)
}

// ClearAll removes every message in the service, returning the count
// removed.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	n, err := m.store.DeleteAll(ctx)
	return n, errors.Trace(err)
}

// Assign hands the message to the owner. Assigning a message the
// owner already holds succeeds without touching the assignment time;
// a message held by someone else is refused with an
// AlreadyAssignedError. The first assignment stamps AssignedAt.
func (m *Manager) Assign(ctx context.Context, id, owner string) (message.Message, error) {
	if owner == "" {
		return message.Message{}, errors.NotValidf("empty owner")
	}
	name, err := m.store.FindSubQueueOf(ctx, id)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	unlock := m.lock(name)
	defer unlock()

	msg, err := m.store.FindByUUID(ctx, id)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	switch {
	case msg.AssignedTo == owner:
		return msg, nil
	case msg.AssignedTo != "":
		return message.Message{}, &AlreadyAssignedError{UUID: id, Owner: msg.AssignedTo}
	}

	now := m.clock.Now().UTC()
	claimed := msg
	claimed.AssignedTo = owner
	claimed.AssignedAt = &now

	if cas, ok := m.store.(storage.CompareAndSwapper); ok {
		swapped, err := cas.CompareAndSwapOwner(ctx, id, "", claimed)
		if err != nil {
			return message.Message{}, errors.Trace(err)
		}
		if !swapped {
			// Another process claimed it between our read and the
			// swap; report whoever holds it now.
			current, err := m.store.FindByUUID(ctx, id)
			if err != nil {
				return message.Message{}, errors.Trace(err)
			}
			if current.AssignedTo == owner {
				return current, nil
			}
			return message.Message{}, &AlreadyAssignedError{UUID: id, Owner: current.AssignedTo}
		}
		return claimed, nil
	}

	ok, err := m.store.UpdateByUUID(ctx, id, claimed)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	if !ok {
		return message.Message{}, errors.NotFoundf("message %q", id)
	}
	return claimed, nil
}

// Release clears the message's assignment. Only the current owner may
// release; anyone else, including a release of an unassigned message,
// is refused with an AssignmentMismatchError.
func (m *Manager) Release(ctx context.Context, id, owner string) (message.Message, error) {
	if owner == "" {
		return message.Message{}, errors.NotValidf("empty owner")
	}
	name, err := m.store.FindSubQueueOf(ctx, id)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	unlock := m.lock(name)
	defer unlock()

	msg, err := m.store.FindByUUID(ctx, id)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	if msg.AssignedTo != owner {
		return message.Message{}, &AssignmentMismatchError{UUID: id, Owner: owner, Held: msg.AssignedTo}
	}

	released := msg
	released.AssignedTo = ""
	released.AssignedAt = nil

	if cas, ok := m.store.(storage.CompareAndSwapper); ok {
		swapped, err := cas.CompareAndSwapOwner(ctx, id, owner, released)
		if err != nil {
			return message.Message{}, errors.Trace(err)
		}
		if !swapped {
			current, err := m.store.FindByUUID(ctx, id)
			if err != nil {
				return message.Message{}, errors.Trace(err)
			}
			return message.Message{}, &AssignmentMismatchError{UUID: id, Owner: owner, Held: current.AssignedTo}
		}
		return released, nil
	}

	ok, err := m.store.UpdateByUUID(ctx, id, released)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	if !ok {
		return message.Message{}, errors.NotFoundf("message %q", id)
	}
	return released, nil
}

// Persist replaces the mutable state of the stored message with the
// same UUID: assignment and payload. The stored sub-queue and ordinal
// survive whatever the incoming record carries. The canonical record
// is re-read and returned.
func (m *Manager) Persist(ctx context.Context, msg message.Message) (message.Message, error) {
	if msg.UUID == "" {
		return message.Message{}, errors.NotValidf("message without a uuid")
	}
	if msg.AssignedAt != nil && msg.AssignedTo == "" {
		return message.Message{}, errors.NotValidf("assignment timestamp on unassigned message")
	}
	name, err := m.store.FindSubQueueOf(ctx, msg.UUID)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	unlock := m.lock(name)
	defer unlock()

	ok, err := m.store.UpdateByUUID(ctx, msg.UUID, msg)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	if !ok {
		return message.Message{}, errors.NotFoundf("message %q", msg.UUID)
	}
	stored, err := m.store.FindByUUID(ctx, msg.UUID)
	return stored, errors.Trace(err)
}

// OwnersMap reports, for one sub-queue or all of them, which owners
// hold assigned messages where. Pass an empty subQueue for the whole
// service.
func (m *Manager) OwnersMap(ctx context.Context, subQueue string) (queue.OwnersMap, error) {
	names := []string{subQueue}
	if subQueue == "" {
		all, err := m.store.SubQueues(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		names = all.Values()
	}

	owners := queue.OwnersMap{}
	for _, name := range names {
		list, err := m.store.SubQueue(ctx, name, message.Filter{})
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, msg := range list {
			if msg.Assigned() {
				owners.Add(msg.AssignedTo, name)
			}
		}
	}
	return owners, nil
}

// RetainAll removes every message whose UUID is not in keep, across
// all sub-queues, reporting whether anything was removed.
func (m *Manager) RetainAll(ctx context.Context, keep set.Strings) (bool, error) {
	names, err := m.store.SubQueues(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}

	var removed bool
	for _, name := range names.Values() {
		list, err := m.store.SubQueue(ctx, name, message.Filter{})
		if err != nil {
			return removed, errors.Trace(err)
		}
		for _, msg := range list {
			if keep.Contains(msg.UUID) {
				continue
			}
			n, err := m.store.RemoveByUUID(ctx, msg.UUID)
			if err != nil {
				return removed, errors.Trace(err)
			}
			removed = removed || n > 0
		}
	}
	return removed, nil
}

// HealthCheck verifies the backend is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return errors.Trace(m.store.Ping(ctx))
}

// lock serializes mutating operations per sub-queue within this
// process. Cross-process writers are handled by each store's own
// conflict detection, not by this lock.
func (m *Manager) lock(subQueue string) func() {
	m.locks.Lock(subQueue)
	return func() { m.locks.Unlock(subQueue) }
}
