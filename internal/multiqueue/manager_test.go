// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package multiqueue_test

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"golang.org/x/sync/errgroup"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/internal/multiqueue"
	"github.com/juju/mqueue/internal/storage"
	"github.com/juju/mqueue/internal/storage/memstore"
)

type managerSuite struct {
	testing.IsolationSuite
	store *memstore.Store
}

var _ = gc.Suite(&managerSuite{})

func (s *managerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.store = memstore.New()
}

// manager builds a Manager over the given store and clock, falling
// back to the suite's memstore and the wall clock.
func (s *managerSuite) manager(c *gc.C, store storage.Store, clk clock.Clock) *multiqueue.Manager {
	if store == nil {
		store = s.store
	}
	if clk == nil {
		clk = clock.WallClock
	}
	mgr, err := multiqueue.NewManager(multiqueue.Config{Store: store, Clock: clk})
	c.Assert(err, jc.ErrorIsNil)
	return mgr
}

func (s *managerSuite) add(c *gc.C, mgr *multiqueue.Manager, id, subQueue string) message.Message {
	stored, err := mgr.Add(context.Background(), message.Message{UUID: id, SubQueue: subQueue})
	c.Assert(err, jc.ErrorIsNil)
	return stored
}

func (s *managerSuite) TestConfigValidate(c *gc.C) {
	_, err := multiqueue.NewManager(multiqueue.Config{Clock: clock.WallClock})
	c.Check(err, gc.ErrorMatches, "nil Store not valid")

	_, err = multiqueue.NewManager(multiqueue.Config{Store: s.store})
	c.Check(err, gc.ErrorMatches, "nil Clock not valid")
}

func (s *managerSuite) TestAddGeneratesUUID(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	stored, err := mgr.Add(context.Background(), message.Message{SubQueue: "jobs"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(stored.UUID, gc.Not(gc.Equals), "")
	c.Check(stored.Ordinal, gc.Equals, int64(1))

	got, err := mgr.GetMessageByUUID(context.Background(), stored.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.SubQueue, gc.Equals, "jobs")
}

func (s *managerSuite) TestAddValidates(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	_, err := mgr.Add(context.Background(), message.Message{})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *managerSuite) TestAddDuplicateUUID(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	s.add(c, mgr, "11111111-1111-4111-8111-111111111111", "alpha")

	_, err := mgr.Add(context.Background(), message.Message{
		UUID: "11111111-1111-4111-8111-111111111111", SubQueue: "beta",
	})
	c.Check(err, jc.ErrorIs, multiqueue.ErrDuplicateUUID)
	c.Check(err, jc.ErrorIs, errors.AlreadyExists)
	c.Check(err, gc.ErrorMatches,
		`message "11111111-1111-4111-8111-111111111111" already exists in sub-queue "alpha"`)
}

func (s *managerSuite) TestAddAssignsAscendingOrdinals(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	for i := 1; i <= 3; i++ {
		stored := s.add(c, mgr, fmt.Sprintf("%08d-0000-4000-8000-000000000000", i), "jobs")
		c.Check(stored.Ordinal, gc.Equals, int64(i))
	}
}

func (s *managerSuite) TestAddRetriesOrdinalConflict(c *gc.C) {
	store := &conflictingStore{Store: s.store, failures: 2}
	mgr := s.manager(c, store, nil)

	stored, err := mgr.Add(context.Background(), message.Message{SubQueue: "jobs"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(stored.Ordinal, gc.Equals, int64(1))
	c.Check(store.appends, gc.Equals, 3)
}

func (s *managerSuite) TestAddSurfacesPersistentConflict(c *gc.C) {
	store := &conflictingStore{Store: s.store, failures: -1}
	mgr := s.manager(c, store, nil)

	_, err := mgr.Add(context.Background(), message.Message{SubQueue: "jobs"})
	c.Check(err, jc.ErrorIs, storage.ErrOrdinalConflict)
	c.Check(store.appends, gc.Equals, 5)
}

func (s *managerSuite) TestRemove(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	stored := s.add(c, mgr, "", "jobs")

	removed, err := mgr.Remove(context.Background(), stored.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(removed, jc.IsTrue)

	removed, err = mgr.Remove(context.Background(), stored.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(removed, jc.IsFalse)
}

func (s *managerSuite) TestPollRemovesHeadInOrder(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	first := s.add(c, mgr, "", "jobs")
	second := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	head, ok, err := mgr.Poll(ctx, "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	c.Check(head.UUID, gc.Equals, first.UUID)

	head, ok, err = mgr.Poll(ctx, "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	c.Check(head.UUID, gc.Equals, second.UUID)

	_, ok, err = mgr.Poll(ctx, "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)
}

func (s *managerSuite) TestPollEmptySubQueue(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	_, ok, err := mgr.Poll(context.Background(), "nowhere")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)
}

func (s *managerSuite) TestPollRetriesLostHead(c *gc.C) {
	store := &lossyStore{Store: s.store, drops: 1}
	mgr := s.manager(c, store, nil)
	stored := s.add(c, mgr, "", "jobs")

	head, ok, err := mgr.Poll(context.Background(), "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	c.Check(head.UUID, gc.Equals, stored.UUID)
	c.Check(store.removes, gc.Equals, 2)
}

func (s *managerSuite) TestPollGivesUpAfterRetry(c *gc.C) {
	store := &lossyStore{Store: s.store, drops: -1}
	mgr := s.manager(c, store, nil)
	s.add(c, mgr, "", "jobs")

	_, ok, err := mgr.Poll(context.Background(), "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)
	c.Check(store.removes, gc.Equals, 2)
}

func (s *managerSuite) TestPeekDoesNotRemove(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	stored := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	head, ok, err := mgr.Peek(ctx, "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	c.Check(head.UUID, gc.Equals, stored.UUID)

	size, err := mgr.SizeOf(ctx, "jobs")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(size, gc.Equals, 1)
}

func (s *managerSuite) TestGetMessageByUUIDMissing(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	_, err := mgr.GetMessageByUUID(context.Background(), "220b7802-77cd-4a0e-8bc2-b4b289b025b7")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *managerSuite) TestContainsUUID(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	stored := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	name, ok, err := mgr.ContainsUUID(ctx, stored.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)
	c.Check(name, gc.Equals, "jobs")

	_, ok, err = mgr.ContainsUUID(ctx, "220b7802-77cd-4a0e-8bc2-b4b289b025b7")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)
}

func (s *managerSuite) TestGetForSubQueueFilters(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	mine := s.add(c, mgr, "", "jobs")
	s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	_, err := mgr.Assign(ctx, mine.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)

	assigned, err := mgr.GetForSubQueue(ctx, "jobs", message.Filter{AssignedTo: "worker-0"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(assigned, gc.HasLen, 1)
	c.Check(assigned[0].UUID, gc.Equals, mine.UUID)

	free, err := mgr.GetForSubQueue(ctx, "jobs", message.Filter{UnassignedOnly: true})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(free, gc.HasLen, 1)
}

func (s *managerSuite) TestKeysIgnoresIncludeEmpty(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	s.add(c, mgr, "", "a")
	s.add(c, mgr, "", "b")

	ctx := context.Background()
	withEmpty, err := mgr.Keys(ctx, true)
	c.Assert(err, jc.ErrorIsNil)
	withoutEmpty, err := mgr.Keys(ctx, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(withEmpty.SortedValues(), gc.DeepEquals, []string{"a", "b"})
	c.Check(withoutEmpty.SortedValues(), gc.DeepEquals, withEmpty.SortedValues())
}

func (s *managerSuite) TestSizeAndEmptiness(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	ctx := context.Background()

	empty, err := mgr.IsEmpty(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(empty, jc.IsTrue)

	s.add(c, mgr, "", "a")
	s.add(c, mgr, "", "a")
	s.add(c, mgr, "", "b")

	total, err := mgr.Size(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(total, gc.Equals, 3)

	empty, err = mgr.IsEmpty(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(empty, jc.IsFalse)

	emptyFor, err := mgr.IsEmptyFor(ctx, "b")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(emptyFor, jc.IsFalse)

	emptyFor, err = mgr.IsEmptyFor(ctx, "nowhere")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(emptyFor, jc.IsTrue)
}

func (s *managerSuite) TestClear(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	s.add(c, mgr, "", "a")
	s.add(c, mgr, "", "a")
	s.add(c, mgr, "", "b")

	ctx := context.Background()
	n, err := mgr.ClearFor(ctx, "a")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 2)

	n, err = mgr.ClearAll(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 1)

	empty, err := mgr.IsEmpty(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(empty, jc.IsTrue)
}

func (s *managerSuite) TestAssignStampsFirstAssignment(c *gc.C) {
	now := time.Date(2025, 8, 4, 16, 0, 0, 0, time.UTC)
	mgr := s.manager(c, nil, testclock.NewClock(now))
	stored := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	claimed, err := mgr.Assign(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(claimed.AssignedTo, gc.Equals, "worker-0")
	c.Assert(claimed.AssignedAt, gc.NotNil)
	c.Check(claimed.AssignedAt.Equal(now), jc.IsTrue)

	// Re-assigning to the same owner succeeds without refreshing the
	// assignment time.
	again, err := mgr.Assign(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(again.AssignedAt, gc.NotNil)
	c.Check(again.AssignedAt.Equal(now), jc.IsTrue)
}

func (s *managerSuite) TestAssignConflict(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	stored := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	_, err := mgr.Assign(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)

	_, err = mgr.Assign(ctx, stored.UUID, "worker-1")
	c.Check(err, jc.ErrorIs, multiqueue.ErrAlreadyAssigned)
	c.Check(err, gc.ErrorMatches, `message ".*" is already assigned to "worker-0"`)
}

func (s *managerSuite) TestAssignValidation(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	_, err := mgr.Assign(context.Background(), "some-uuid", "")
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = mgr.Assign(context.Background(), "220b7802-77cd-4a0e-8bc2-b4b289b025b7", "worker-0")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *managerSuite) TestRelease(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	stored := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	_, err := mgr.Assign(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)

	released, err := mgr.Release(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(released.AssignedTo, gc.Equals, "")
	c.Check(released.AssignedAt, gc.IsNil)
}

func (s *managerSuite) TestReleaseMismatch(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	stored := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	// Releasing an unassigned message is a mismatch too.
	_, err := mgr.Release(ctx, stored.UUID, "worker-0")
	c.Check(err, jc.ErrorIs, multiqueue.ErrAssignmentMismatch)

	_, err = mgr.Assign(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)
	_, err = mgr.Release(ctx, stored.UUID, "worker-1")
	c.Check(err, jc.ErrorIs, multiqueue.ErrAssignmentMismatch)
	c.Check(err, gc.ErrorMatches, `message ".*" is held by "worker-0", cannot release as "worker-1"`)
}

func (s *managerSuite) TestPersistPreservesIdentity(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	stored := s.add(c, mgr, "", "jobs")

	at := time.Date(2025, 8, 4, 17, 0, 0, 0, time.UTC)
	got, err := mgr.Persist(context.Background(), message.Message{
		UUID:       stored.UUID,
		SubQueue:   "hijacked",
		Ordinal:    999,
		AssignedTo: "worker-0",
		AssignedAt: &at,
		Payload:    message.Payload{Data: []byte("v2"), ContentType: "text/plain"},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.SubQueue, gc.Equals, "jobs")
	c.Check(got.Ordinal, gc.Equals, stored.Ordinal)
	c.Check(got.AssignedTo, gc.Equals, "worker-0")
	c.Check(string(got.Payload.Data), gc.Equals, "v2")
}

func (s *managerSuite) TestPersistValidation(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	ctx := context.Background()

	_, err := mgr.Persist(ctx, message.Message{})
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = mgr.Persist(ctx, message.Message{UUID: "220b7802-77cd-4a0e-8bc2-b4b289b025b7"})
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *managerSuite) TestOwnersMap(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	ctx := context.Background()

	inA := s.add(c, mgr, "", "a")
	s.add(c, mgr, "", "a")
	inB1 := s.add(c, mgr, "", "b")
	inB2 := s.add(c, mgr, "", "b")

	for id, owner := range map[string]string{
		inA.UUID:  "worker-0",
		inB1.UUID: "worker-0",
		inB2.UUID: "worker-1",
	} {
		_, err := mgr.Assign(ctx, id, owner)
		c.Assert(err, jc.ErrorIsNil)
	}

	owners, err := mgr.OwnersMap(ctx, "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(owners.Lists(), gc.DeepEquals, map[string][]string{
		"worker-0": {"a", "b"},
		"worker-1": {"b"},
	})

	owners, err = mgr.OwnersMap(ctx, "a")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(owners.Lists(), gc.DeepEquals, map[string][]string{
		"worker-0": {"a"},
	})
}

func (s *managerSuite) TestRetainAll(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	keepA := s.add(c, mgr, "", "a")
	s.add(c, mgr, "", "a")
	keepB := s.add(c, mgr, "", "b")

	ctx := context.Background()
	removed, err := mgr.RetainAll(ctx, set.NewStrings(keepA.UUID, keepB.UUID))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(removed, jc.IsTrue)

	total, err := mgr.Size(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(total, gc.Equals, 2)

	// A second pass with the same set has nothing left to do.
	removed, err = mgr.RetainAll(ctx, set.NewStrings(keepA.UUID, keepB.UUID))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(removed, jc.IsFalse)
}

func (s *managerSuite) TestHealthCheck(c *gc.C) {
	mgr := s.manager(c, nil, nil)
	c.Check(mgr.HealthCheck(context.Background()), jc.ErrorIsNil)
}

func (s *managerSuite) TestConcurrentAddsKeepOrdinalsUnique(c *gc.C) {
	mgr := s.manager(c, nil, nil)

	var group errgroup.Group
	for i := 0; i < 10; i++ {
		group.Go(func() error {
			for j := 0; j < 5; j++ {
				if _, err := mgr.Add(context.Background(), message.Message{SubQueue: "jobs"}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	c.Assert(group.Wait(), jc.ErrorIsNil)

	list, err := mgr.GetForSubQueue(context.Background(), "jobs", message.Filter{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(list, gc.HasLen, 50)
	seen := set.NewInts()
	for _, msg := range list {
		seen.Add(int(msg.Ordinal))
	}
	c.Check(seen.Size(), gc.Equals, 50)
}

func (s *managerSuite) TestAssignUsesCompareAndSwap(c *gc.C) {
	store := &casTrackingStore{Store: s.store}
	mgr := s.manager(c, store, nil)
	stored := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	claimed, err := mgr.Assign(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(claimed.AssignedTo, gc.Equals, "worker-0")
	store.stub.CheckCalls(c, []testing.StubCall{
		{FuncName: "CompareAndSwapOwner", Args: []interface{}{stored.UUID, ""}},
	})

	// A rival that raced the swap sees the current holder reported.
	_, err = mgr.Assign(ctx, stored.UUID, "worker-1")
	c.Check(err, jc.ErrorIs, multiqueue.ErrAlreadyAssigned)
}

func (s *managerSuite) TestReleaseUsesCompareAndSwap(c *gc.C) {
	store := &casTrackingStore{Store: s.store}
	mgr := s.manager(c, store, nil)
	stored := s.add(c, mgr, "", "jobs")

	ctx := context.Background()
	_, err := mgr.Assign(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)

	released, err := mgr.Release(ctx, stored.UUID, "worker-0")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(released.AssignedTo, gc.Equals, "")
	store.stub.CheckCalls(c, []testing.StubCall{
		{FuncName: "CompareAndSwapOwner", Args: []interface{}{stored.UUID, ""}},
		{FuncName: "CompareAndSwapOwner", Args: []interface{}{stored.UUID, "worker-0"}},
	})
}

// conflictingStore fails Append with an ordinal conflict a set number
// of times, or forever when failures is negative.
type conflictingStore struct {
	*memstore.Store
	failures int
	appends  int
}

func (s *conflictingStore) Append(ctx context.Context, m message.Message) (message.Message, error) {
	s.appends++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return message.Message{}, errors.Annotatef(storage.ErrOrdinalConflict,
			"ordinal %d in sub-queue %q", m.Ordinal, m.SubQueue)
	}
	return s.Store.Append(ctx, m)
}

// lossyStore pretends another poller removed the head first, a set
// number of times or forever when drops is negative.
type lossyStore struct {
	*memstore.Store
	drops   int
	removes int
}

func (s *lossyStore) RemoveByUUID(ctx context.Context, uuid string) (int, error) {
	s.removes++
	if s.drops != 0 {
		if s.drops > 0 {
			s.drops--
		}
		return 0, nil
	}
	return s.Store.RemoveByUUID(ctx, uuid)
}

// casTrackingStore adds a conditional assignment path on top of the
// memstore, recording each swap it is asked for.
type casTrackingStore struct {
	*memstore.Store
	stub testing.Stub
}

func (s *casTrackingStore) CompareAndSwapOwner(ctx context.Context, uuid, expect string, m message.Message) (bool, error) {
	s.stub.AddCall("CompareAndSwapOwner", uuid, expect)
	current, err := s.Store.FindByUUID(ctx, uuid)
	if errors.Is(err, errors.NotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	if current.AssignedTo != expect {
		return false, nil
	}
	return s.Store.UpdateByUUID(ctx, uuid, m)
}
