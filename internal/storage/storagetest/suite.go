// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storagetest holds conformance suites run against every
// backend. A backend test package embeds StoreSuite (and, if it ships
// a restriction store, RestrictionSuite) and points the Store and
// Restrictions fields at a fresh instance in SetUpTest.
package storagetest

import (
	"context"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/core/queue"
	"github.com/juju/mqueue/internal/storage"
)

// StoreSuite exercises the storage.Store contract.
type StoreSuite struct {
	Store storage.Store
}

// Append stores m, computing the next ordinal first when the store
// expects the caller to assign it. Backend tests use it wherever the
// test is not about ordinal handling itself.
func (s *StoreSuite) Append(c *gc.C, m message.Message) message.Message {
	ctx := context.Background()
	if s.Store.Ordinality() == queue.OrdinalityCoreAssigned && m.Ordinal == 0 {
		max, err := s.Store.MaxOrdinalOf(ctx, m.SubQueue)
		c.Assert(err, jc.ErrorIsNil)
		m.Ordinal = max + 1
	}
	stored, err := s.Store.Append(ctx, m)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(stored.Ordinal > 0, jc.IsTrue)
	return stored
}

func (s *StoreSuite) TestAppendAndFind(c *gc.C) {
	in := message.Message{
		UUID:     "5f6d0ac1-3983-4b0e-b1b6-9dbd6e1a17b6",
		SubQueue: "alerts",
		Payload:  message.Payload{Data: []byte("fire"), ContentType: "text/plain"},
	}
	stored := s.Append(c, in)

	got, err := s.Store.FindByUUID(context.Background(), in.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.UUID, gc.Equals, in.UUID)
	c.Check(got.SubQueue, gc.Equals, "alerts")
	c.Check(got.Ordinal, gc.Equals, stored.Ordinal)
	c.Check(got.AssignedTo, gc.Equals, "")
	c.Check(got.AssignedAt, gc.IsNil)
	c.Check(got.Payload.Equal(in.Payload), jc.IsTrue)
}

func (s *StoreSuite) TestAppendPreservesAssignment(c *gc.C) {
	at := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	in := message.Message{
		UUID:       "c5b0b0ee-98b1-4ad6-8f0e-72ac21d041d2",
		SubQueue:   "alerts",
		AssignedTo: "worker-0",
		AssignedAt: &at,
	}
	s.Append(c, in)

	got, err := s.Store.FindByUUID(context.Background(), in.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.AssignedTo, gc.Equals, "worker-0")
	c.Assert(got.AssignedAt, gc.NotNil)
	c.Check(got.AssignedAt.Equal(at), jc.IsTrue)
}

func (s *StoreSuite) TestAppendDuplicateUUID(c *gc.C) {
	in := message.Message{UUID: "d0660257-2761-4ad6-ae4c-59ecf4d71a04", SubQueue: "alerts"}
	s.Append(c, in)

	dup := in
	dup.SubQueue = "other"
	if s.Store.Ordinality() == queue.OrdinalityCoreAssigned {
		dup.Ordinal = 1
	}
	_, err := s.Store.Append(context.Background(), dup)
	c.Check(err, jc.ErrorIs, errors.AlreadyExists)
}

func (s *StoreSuite) TestSubQueueAscendingOrder(c *gc.C) {
	for _, uuid := range []string{
		"0be1ede6-3c1c-4b41-bc22-61db4e085a93",
		"39023ede-a433-4e3c-83ff-8ee1a4ee0d20",
		"a0413e34-4ba1-4f09-96c8-d240eb0d58ac",
	} {
		s.Append(c, message.Message{UUID: uuid, SubQueue: "jobs"})
	}

	list, err := s.Store.SubQueue(context.Background(), "jobs", message.Filter{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(list, gc.HasLen, 3)
	c.Check(list[0].Ordinal < list[1].Ordinal, jc.IsTrue)
	c.Check(list[1].Ordinal < list[2].Ordinal, jc.IsTrue)
}

func (s *StoreSuite) TestSubQueueMissingIsEmpty(c *gc.C) {
	list, err := s.Store.SubQueue(context.Background(), "nowhere", message.Filter{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(list, gc.HasLen, 0)
}

func (s *StoreSuite) TestSubQueueFilter(c *gc.C) {
	s.Append(c, message.Message{UUID: "11111111-1111-4111-8111-111111111111", SubQueue: "jobs"})
	s.Append(c, message.Message{
		UUID: "22222222-2222-4222-8222-222222222222", SubQueue: "jobs", AssignedTo: "worker-0",
	})

	ctx := context.Background()
	mine, err := s.Store.SubQueue(ctx, "jobs", message.Filter{AssignedTo: "worker-0"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(mine, gc.HasLen, 1)
	c.Check(mine[0].UUID, gc.Equals, "22222222-2222-4222-8222-222222222222")

	free, err := s.Store.SubQueue(ctx, "jobs", message.Filter{UnassignedOnly: true})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(free, gc.HasLen, 1)
	c.Check(free[0].UUID, gc.Equals, "11111111-1111-4111-8111-111111111111")
}

func (s *StoreSuite) TestFindMissing(c *gc.C) {
	_, err := s.Store.FindByUUID(context.Background(), "b5e46341-ee21-4b3c-9c6c-e3226d5e4d71")
	c.Check(err, jc.ErrorIs, errors.NotFound)

	_, err = s.Store.FindSubQueueOf(context.Background(), "b5e46341-ee21-4b3c-9c6c-e3226d5e4d71")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *StoreSuite) TestFindSubQueueOf(c *gc.C) {
	s.Append(c, message.Message{UUID: "8d4f2c57-6f54-4df5-9e86-6c89a414b6f1", SubQueue: "beta"})

	name, err := s.Store.FindSubQueueOf(context.Background(), "8d4f2c57-6f54-4df5-9e86-6c89a414b6f1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(name, gc.Equals, "beta")
}

func (s *StoreSuite) TestRemoveByUUID(c *gc.C) {
	s.Append(c, message.Message{UUID: "93b56b30-9c23-44f0-b6b3-8c46e77fbc59", SubQueue: "jobs"})

	ctx := context.Background()
	n, err := s.Store.RemoveByUUID(ctx, "93b56b30-9c23-44f0-b6b3-8c46e77fbc59")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 1)

	n, err = s.Store.RemoveByUUID(ctx, "93b56b30-9c23-44f0-b6b3-8c46e77fbc59")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 0)

	size, err := s.Store.SizeOf(ctx, "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(size, gc.Equals, 0)
}

func (s *StoreSuite) TestUpdatePreservesIdentity(c *gc.C) {
	stored := s.Append(c, message.Message{
		UUID:     "2f5f3a97-9f2e-48e5-a9a5-37a6f4bda95b",
		SubQueue: "jobs",
		Payload:  message.Payload{Data: []byte("v1"), ContentType: "text/plain"},
	})

	at := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	ok, err := s.Store.UpdateByUUID(context.Background(), stored.UUID, message.Message{
		UUID:       stored.UUID,
		SubQueue:   "hijacked",
		Ordinal:    9999,
		AssignedTo: "worker-1",
		AssignedAt: &at,
		Payload:    message.Payload{Data: []byte("v2"), ContentType: "text/plain"},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)

	got, err := s.Store.FindByUUID(context.Background(), stored.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.SubQueue, gc.Equals, "jobs")
	c.Check(got.Ordinal, gc.Equals, stored.Ordinal)
	c.Check(got.AssignedTo, gc.Equals, "worker-1")
	c.Assert(got.AssignedAt, gc.NotNil)
	c.Check(got.AssignedAt.Equal(at), jc.IsTrue)
	c.Check(string(got.Payload.Data), gc.Equals, "v2")
}

func (s *StoreSuite) TestUpdateMissing(c *gc.C) {
	ok, err := s.Store.UpdateByUUID(context.Background(), "51a837ea-973c-4f4b-a62e-89bfc0f697c4",
		message.Message{UUID: "51a837ea-973c-4f4b-a62e-89bfc0f697c4", SubQueue: "jobs"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)
}

func (s *StoreSuite) TestMaxOrdinalOf(c *gc.C) {
	ctx := context.Background()
	max, err := s.Store.MaxOrdinalOf(ctx, "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(max, gc.Equals, int64(0))

	first := s.Append(c, message.Message{UUID: "41414141-4141-4141-8141-414141414141", SubQueue: "jobs"})
	second := s.Append(c, message.Message{UUID: "42424242-4242-4242-8242-424242424242", SubQueue: "jobs"})
	c.Check(second.Ordinal > first.Ordinal, jc.IsTrue)

	max, err = s.Store.MaxOrdinalOf(ctx, "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(max, gc.Equals, second.Ordinal)
}

func (s *StoreSuite) TestSubQueuesAndSizes(c *gc.C) {
	s.Append(c, message.Message{UUID: "51515151-5151-4151-8151-515151515151", SubQueue: "a"})
	s.Append(c, message.Message{UUID: "52525252-5252-4252-8252-525252525252", SubQueue: "a"})
	s.Append(c, message.Message{UUID: "53535353-5353-4353-8353-535353535353", SubQueue: "b"})

	ctx := context.Background()
	names, err := s.Store.SubQueues(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(names.SortedValues(), gc.DeepEquals, []string{"a", "b"})

	size, err := s.Store.SizeOf(ctx, "a")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(size, gc.Equals, 2)
}

func (s *StoreSuite) TestDeleteSubQueue(c *gc.C) {
	s.Append(c, message.Message{UUID: "61616161-6161-4161-8161-616161616161", SubQueue: "a"})
	s.Append(c, message.Message{UUID: "62626262-6262-4262-8262-626262626262", SubQueue: "a"})
	s.Append(c, message.Message{UUID: "63636363-6363-4363-8363-636363636363", SubQueue: "b"})

	ctx := context.Background()
	n, err := s.Store.DeleteSubQueue(ctx, "a")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 2)

	names, err := s.Store.SubQueues(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(names.SortedValues(), gc.DeepEquals, []string{"b"})

	// The removed messages are gone service-wide.
	_, err = s.Store.FindByUUID(ctx, "61616161-6161-4161-8161-616161616161")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *StoreSuite) TestDeleteAll(c *gc.C) {
	s.Append(c, message.Message{UUID: "71717171-7171-4171-8171-717171717171", SubQueue: "a"})
	s.Append(c, message.Message{UUID: "72727272-7272-4272-8272-727272727272", SubQueue: "b"})

	ctx := context.Background()
	n, err := s.Store.DeleteAll(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 2)

	names, err := s.Store.SubQueues(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(names.IsEmpty(), jc.IsTrue)
}

func (s *StoreSuite) TestOrdinalConflict(c *gc.C) {
	if s.Store.Ordinality() != queue.OrdinalityCoreAssigned {
		c.Skip("store assigns its own ordinals")
	}
	s.Append(c, message.Message{UUID: "81818181-8181-4181-8181-818181818181", SubQueue: "a", Ordinal: 7})

	_, err := s.Store.Append(context.Background(), message.Message{
		UUID: "82828282-8282-4282-8282-828282828282", SubQueue: "a", Ordinal: 7,
	})
	c.Check(err, jc.ErrorIs, storage.ErrOrdinalConflict)

	// The conflicting append must leave no trace behind.
	size, err := s.Store.SizeOf(context.Background(), "a")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(size, gc.Equals, 1)
}

func (s *StoreSuite) TestPing(c *gc.C) {
	c.Check(s.Store.Ping(context.Background()), jc.ErrorIsNil)
}

// RestrictionSuite exercises the storage.RestrictionStore contract.
type RestrictionSuite struct {
	Restrictions storage.RestrictionStore
}

func (s *RestrictionSuite) TestAddContainsRemove(c *gc.C) {
	ctx := context.Background()
	ok, err := s.Restrictions.Contains(ctx, "secret")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)

	c.Assert(s.Restrictions.Add(ctx, "secret"), jc.ErrorIsNil)
	c.Assert(s.Restrictions.Add(ctx, "secret"), jc.ErrorIsNil)

	ok, err = s.Restrictions.Contains(ctx, "secret")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)

	removed, err := s.Restrictions.Remove(ctx, "secret")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(removed, jc.IsTrue)

	removed, err = s.Restrictions.Remove(ctx, "secret")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(removed, jc.IsFalse)
}

func (s *RestrictionSuite) TestAllAndClear(c *gc.C) {
	ctx := context.Background()
	c.Assert(s.Restrictions.Add(ctx, "a"), jc.ErrorIsNil)
	c.Assert(s.Restrictions.Add(ctx, "b"), jc.ErrorIsNil)

	all, err := s.Restrictions.All(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(all.SortedValues(), gc.DeepEquals, []string{"a", "b"})

	n, err := s.Restrictions.Clear(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 2)

	all, err = s.Restrictions.All(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(all.IsEmpty(), jc.IsTrue)
}

func (s *RestrictionSuite) TestPingRestrictions(c *gc.C) {
	c.Check(s.Restrictions.Ping(context.Background()), jc.ErrorIsNil)
}
