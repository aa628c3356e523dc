// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue_test

import (
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/core/queue"
)

type ownersSuite struct{}

var _ = gc.Suite(&ownersSuite{})

func (s *ownersSuite) TestAddDeduplicates(c *gc.C) {
	m := queue.OwnersMap{}
	m.Add("worker-0", "beta")
	m.Add("worker-0", "alpha")
	m.Add("worker-0", "beta")
	m.Add("worker-1", "alpha")

	c.Assert(m.Lists(), gc.DeepEquals, map[string][]string{
		"worker-0": {"alpha", "beta"},
		"worker-1": {"alpha"},
	})
}

func (s *ownersSuite) TestListsEmpty(c *gc.C) {
	c.Assert(queue.OwnersMap{}.Lists(), gc.DeepEquals, map[string][]string{})
}
