// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package memstore keeps the whole queue in process memory. It is the
// default backend, suitable for tests and single-node deployments that
// can afford to lose state on restart.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/core/queue"
	"github.com/juju/mqueue/internal/storage"
)

// Store implements storage.Store with plain maps. Each sub-queue slice
// is kept sorted by ordinal so traversal order falls out of the data
// structure.
type Store struct {
	mu     sync.RWMutex
	queues map[string][]message.Message
	index  map[string]string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		queues: make(map[string][]message.Message),
		index:  make(map[string]string),
	}
}

// Ordinality is part of storage.Store.
func (s *Store) Ordinality() queue.Ordinality {
	return queue.OrdinalityCoreAssigned
}

// Append is part of storage.Store.
func (s *Store) Append(_ context.Context, m message.Message) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[m.UUID]; ok {
		return message.Message{}, errors.AlreadyExistsf("message %q in sub-queue %q", m.UUID, existing)
	}
	m = clone(m)

	q := s.queues[m.SubQueue]
	i := sort.Search(len(q), func(i int) bool { return q[i].Ordinal >= m.Ordinal })
	if i < len(q) && q[i].Ordinal == m.Ordinal {
		return message.Message{}, errors.Annotatef(storage.ErrOrdinalConflict,
			"ordinal %d in sub-queue %q", m.Ordinal, m.SubQueue)
	}
	q = append(q, message.Message{})
	copy(q[i+1:], q[i:])
	q[i] = m
	s.queues[m.SubQueue] = q
	s.index[m.UUID] = m.SubQueue
	return clone(m), nil
}

// RemoveByUUID is part of storage.Store.
func (s *Store) RemoveByUUID(_ context.Context, uuid string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.index[uuid]
	if !ok {
		return 0, nil
	}
	q := s.queues[name]
	for i, m := range q {
		if m.UUID != uuid {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		if len(q) == 0 {
			delete(s.queues, name)
		} else {
			s.queues[name] = q
		}
		delete(s.index, uuid)
		return 1, nil
	}
	return 0, nil
}

// UpdateByUUID is part of storage.Store.
func (s *Store) UpdateByUUID(_ context.Context, uuid string, m message.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.index[uuid]
	if !ok {
		return false, nil
	}
	q := s.queues[name]
	for i := range q {
		if q[i].UUID != uuid {
			continue
		}
		updated := clone(m)
		updated.UUID = uuid
		updated.SubQueue = q[i].SubQueue
		updated.Ordinal = q[i].Ordinal
		q[i] = updated
		return true, nil
	}
	return false, nil
}

// FindByUUID is part of storage.Store.
func (s *Store) FindByUUID(_ context.Context, uuid string) (message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.index[uuid]
	if !ok {
		return message.Message{}, errors.NotFoundf("message %q", uuid)
	}
	for _, m := range s.queues[name] {
		if m.UUID == uuid {
			return clone(m), nil
		}
	}
	return message.Message{}, errors.NotFoundf("message %q", uuid)
}

// FindSubQueueOf is part of storage.Store.
func (s *Store) FindSubQueueOf(_ context.Context, uuid string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.index[uuid]
	if !ok {
		return "", errors.NotFoundf("message %q", uuid)
	}
	return name, nil
}

// SubQueue is part of storage.Store.
func (s *Store) SubQueue(_ context.Context, name string, f message.Filter) ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []message.Message
	for _, m := range s.queues[name] {
		if f.Match(m) {
			out = append(out, clone(m))
		}
	}
	return out, nil
}

// MaxOrdinalOf is part of storage.Store.
func (s *Store) MaxOrdinalOf(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := s.queues[name]
	if len(q) == 0 {
		return 0, nil
	}
	return q[len(q)-1].Ordinal, nil
}

// SizeOf is part of storage.Store.
func (s *Store) SizeOf(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queues[name]), nil
}

// SubQueues is part of storage.Store.
func (s *Store) SubQueues(_ context.Context) (set.Strings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := set.NewStrings()
	for name := range s.queues {
		names.Add(name)
	}
	return names, nil
}

// DeleteSubQueue is part of storage.Store.
func (s *Store) DeleteSubQueue(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[name]
	for _, m := range q {
		delete(s.index, m.UUID)
	}
	delete(s.queues, name)
	return len(q), nil
}

// DeleteAll is part of storage.Store.
func (s *Store) DeleteAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.index)
	s.queues = make(map[string][]message.Message)
	s.index = make(map[string]string)
	return n, nil
}

// Ping is part of storage.Store.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// clone deep-copies a message so callers and the store never share
// payload bytes or the assignment timestamp.
func clone(m message.Message) message.Message {
	if m.AssignedAt != nil {
		at := *m.AssignedAt
		m.AssignedAt = &at
	}
	if m.Payload.Data != nil {
		m.Payload.Data = append([]byte(nil), m.Payload.Data...)
	}
	return m
}
