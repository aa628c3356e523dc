// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package redisstore keeps the queue in Redis. Each sub-queue is one
// set whose members are whole JSON-encoded messages, keyed by a
// configured prefix so several services can share a server. Redis
// drops a set when its last member goes, so a sub-queue disappears
// the moment it is emptied and enumerating with or without empty
// sub-queues yields the same answer.
//
// Listing order is ascending ordinal with ties broken by UUID. Set
// membership does not remember insertion order, so two messages that
// somehow share an ordinal have no stable relative order beyond that
// tie-break.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/core/queue"
	"github.com/juju/mqueue/internal/storage"
)

// restrictedSetName is the sub-queue identifier claimed by the
// restriction store for its own set. Messages must never be appended
// under it; the restriction registry reports it as reserved.
const restrictedSetName = "restricted"

// scanBatchSize bounds how many keys one SCAN round trip returns.
const scanBatchSize = 64

// Store implements storage.Store on a Redis server, reached directly
// or through sentinels; any go-redis client shape works.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New returns a store holding its sets under the given key prefix.
func New(client redis.UniversalClient, prefix string) (*Store, error) {
	if client == nil {
		return nil, errors.NotValidf("nil client")
	}
	if prefix == "" {
		return nil, errors.NotValidf("empty key prefix")
	}
	return &Store{client: client, prefix: prefix}, nil
}

// Ordinality is part of storage.Store.
func (s *Store) Ordinality() queue.Ordinality {
	return queue.OrdinalityCoreAssigned
}

// Append is part of storage.Store. Redis sets cannot reject a
// conflicting ordinal up front, so the store adds the member and then
// looks for another holder of the same ordinal; if it finds one it
// withdraws its own member and reports the conflict. Two exactly
// simultaneous appends may both withdraw, in which case both callers
// recompute their ordinal and try again.
func (s *Store) Append(ctx context.Context, m message.Message) (message.Message, error) {
	if _, err := s.FindSubQueueOf(ctx, m.UUID); err == nil {
		return message.Message{}, errors.AlreadyExistsf("message %q", m.UUID)
	} else if !errors.Is(err, errors.NotFound) {
		return message.Message{}, errors.Trace(err)
	}

	raw, err := json.Marshal(recordFromMessage(m))
	if err != nil {
		return message.Message{}, errors.Annotatef(err, "encoding message %q", m.UUID)
	}
	key := s.keyOf(m.SubQueue)
	if err := s.client.SAdd(ctx, key, raw).Err(); err != nil {
		return message.Message{}, coerceError(err, "appending message %q", m.UUID)
	}

	members, err := s.members(ctx, m.SubQueue)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	for _, member := range members {
		if member.rec.Ordinal != m.Ordinal || member.rec.UUID == m.UUID {
			continue
		}
		if err := s.client.SRem(ctx, key, raw).Err(); err != nil {
			return message.Message{}, coerceError(err, "withdrawing conflicting message %q", m.UUID)
		}
		return message.Message{}, errors.Annotatef(storage.ErrOrdinalConflict,
			"ordinal %d in sub-queue %q", m.Ordinal, m.SubQueue)
	}
	return m, nil
}

// RemoveByUUID is part of storage.Store.
func (s *Store) RemoveByUUID(ctx context.Context, uuid string) (int, error) {
	name, member, err := s.findMember(ctx, uuid)
	if errors.Is(err, errors.NotFound) {
		return 0, nil
	} else if err != nil {
		return 0, errors.Trace(err)
	}

	n, err := s.client.SRem(ctx, s.keyOf(name), member.raw).Result()
	if err != nil {
		return 0, coerceError(err, "removing message %q", uuid)
	}
	return int(n), nil
}

// UpdateByUUID is part of storage.Store. A set member is immutable,
// so the update swaps the old member for the re-encoded one in a
// MULTI/EXEC pipeline, keeping the stored sub-queue and ordinal.
func (s *Store) UpdateByUUID(ctx context.Context, uuid string, m message.Message) (bool, error) {
	name, member, err := s.findMember(ctx, uuid)
	if errors.Is(err, errors.NotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}

	updated := recordFromMessage(m)
	updated.UUID = uuid
	updated.SubQueue = member.rec.SubQueue
	updated.Ordinal = member.rec.Ordinal
	raw, err := json.Marshal(updated)
	if err != nil {
		return false, errors.Annotatef(err, "encoding message %q", uuid)
	}
	if string(raw) == member.raw {
		return true, nil
	}

	key := s.keyOf(name)
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, key, member.raw)
	pipe.SAdd(ctx, key, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, coerceError(err, "updating message %q", uuid)
	}
	return true, nil
}

// FindByUUID is part of storage.Store.
func (s *Store) FindByUUID(ctx context.Context, uuid string) (message.Message, error) {
	_, member, err := s.findMember(ctx, uuid)
	if err != nil {
		return message.Message{}, errors.Trace(err)
	}
	return member.rec.toMessage(), nil
}

// FindSubQueueOf is part of storage.Store.
func (s *Store) FindSubQueueOf(ctx context.Context, uuid string) (string, error) {
	name, _, err := s.findMember(ctx, uuid)
	if err != nil {
		return "", errors.Trace(err)
	}
	return name, nil
}

// SubQueue is part of storage.Store.
func (s *Store) SubQueue(ctx context.Context, name string, f message.Filter) ([]message.Message, error) {
	members, err := s.members(ctx, name)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var out []message.Message
	for _, member := range members {
		if m := member.rec.toMessage(); f.Match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].UUID < out[j].UUID
	})
	return out, nil
}

// MaxOrdinalOf is part of storage.Store.
func (s *Store) MaxOrdinalOf(ctx context.Context, name string) (int64, error) {
	members, err := s.members(ctx, name)
	if err != nil {
		return 0, errors.Trace(err)
	}

	var max int64
	for _, member := range members {
		if member.rec.Ordinal > max {
			max = member.rec.Ordinal
		}
	}
	return max, nil
}

// SizeOf is part of storage.Store.
func (s *Store) SizeOf(ctx context.Context, name string) (int, error) {
	n, err := s.client.SCard(ctx, s.keyOf(name)).Result()
	if err != nil {
		return 0, coerceError(err, "sizing sub-queue %q", name)
	}
	return int(n), nil
}

// SubQueues is part of storage.Store.
func (s *Store) SubQueues(ctx context.Context) (set.Strings, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	names := set.NewStrings()
	for _, key := range keys {
		names.Add(s.nameOf(key))
	}
	return names, nil
}

// DeleteSubQueue is part of storage.Store.
func (s *Store) DeleteSubQueue(ctx context.Context, name string) (int, error) {
	key := s.keyOf(name)
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, coerceError(err, "sizing sub-queue %q", name)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return 0, coerceError(err, "clearing sub-queue %q", name)
	}
	return int(n), nil
}

// DeleteAll is part of storage.Store. The restriction set shares the
// prefix but is never counted or touched.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}

	var removed int
	for _, key := range keys {
		n, err := s.client.SCard(ctx, key).Result()
		if err != nil {
			return removed, coerceError(err, "sizing %q", key)
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return removed, coerceError(err, "deleting %q", key)
		}
		removed += int(n)
	}
	return removed, nil
}

// Ping is part of storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	return coerceError(s.client.Ping(ctx).Err(), "pinging redis")
}

func (s *Store) keyOf(name string) string {
	return s.prefix + name
}

func (s *Store) nameOf(key string) string {
	return key[len(s.prefix):]
}

// member pairs a decoded record with the raw bytes it came from, as
// SREM only matches the exact stored member.
type member struct {
	raw string
	rec record
}

// members returns every member of one sub-queue set, decoded.
func (s *Store) members(ctx context.Context, name string) ([]member, error) {
	raws, err := s.client.SMembers(ctx, s.keyOf(name)).Result()
	if err != nil {
		return nil, coerceError(err, "reading sub-queue %q", name)
	}

	out := make([]member, 0, len(raws))
	for _, raw := range raws {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, errors.Annotatef(err, "decoding member of sub-queue %q", name)
		}
		out = append(out, member{raw: raw, rec: rec})
	}
	return out, nil
}

// findMember locates the message with the given UUID, whichever
// sub-queue holds it, returning the sub-queue name and the member.
func (s *Store) findMember(ctx context.Context, uuid string) (string, member, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return "", member{}, errors.Trace(err)
	}
	for _, key := range keys {
		name := s.nameOf(key)
		members, err := s.members(ctx, name)
		if err != nil {
			return "", member{}, errors.Trace(err)
		}
		for _, m := range members {
			if m.rec.UUID == uuid {
				return name, m, nil
			}
		}
	}
	return "", member{}, errors.NotFoundf("message %q", uuid)
}

// scanKeys enumerates the message set keys under the prefix, leaving
// out the restriction set.
func (s *Store) scanKeys(ctx context.Context) ([]string, error) {
	restricted := s.keyOf(restrictedSetName)

	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatchSize).Result()
		if err != nil {
			return nil, coerceError(err, "scanning keys under %q", s.prefix)
		}
		for _, key := range batch {
			if key != restricted {
				keys = append(keys, key)
			}
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// coerceError maps driver failures onto the storage error kinds:
// deadline expiry becomes a timeout, unreachable servers become
// ErrUnavailable, everything else is annotated and passed through.
func coerceError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeout(err, msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Annotate(fmt.Errorf("%v%w", err, errors.Hide(storage.ErrUnavailable)), msg)
	}
	return errors.Annotate(err, msg)
}
