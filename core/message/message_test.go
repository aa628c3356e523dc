// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package message_test

import (
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/core/message"
)

type messageSuite struct{}

var _ = gc.Suite(&messageSuite{})

func (s *messageSuite) TestValidate(c *gc.C) {
	m := message.Message{
		UUID:     "0634dcb1-3aee-485b-bd8a-848e4b55f9e7",
		SubQueue: "alerts",
		Payload:  message.Payload{Data: []byte("ping"), ContentType: "text/plain"},
	}
	c.Check(m.Validate(), jc.ErrorIsNil)
}

func (s *messageSuite) TestValidateMissingSubQueue(c *gc.C) {
	m := message.Message{UUID: "0634dcb1-3aee-485b-bd8a-848e4b55f9e7"}
	err := m.Validate()
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, "message without a sub-queue not valid")
}

func (s *messageSuite) TestValidateOrphanAssignmentTime(c *gc.C) {
	now := time.Now()
	m := message.Message{
		SubQueue:   "alerts",
		AssignedAt: &now,
	}
	c.Check(m.Validate(), gc.ErrorMatches, "assignment timestamp on unassigned message not valid")
}

func (s *messageSuite) TestAssigned(c *gc.C) {
	m := message.Message{SubQueue: "alerts"}
	c.Check(m.Assigned(), jc.IsFalse)
	m.AssignedTo = "worker-0"
	c.Check(m.Assigned(), jc.IsTrue)
}

func (s *messageSuite) TestFilterZeroMatchesAll(c *gc.C) {
	var f message.Filter
	c.Check(f.Match(message.Message{SubQueue: "a"}), jc.IsTrue)
	c.Check(f.Match(message.Message{SubQueue: "a", AssignedTo: "w"}), jc.IsTrue)
}

func (s *messageSuite) TestFilterAssignedTo(c *gc.C) {
	f := message.Filter{AssignedTo: "worker-0"}
	c.Check(f.Match(message.Message{SubQueue: "a", AssignedTo: "worker-0"}), jc.IsTrue)
	c.Check(f.Match(message.Message{SubQueue: "a", AssignedTo: "worker-1"}), jc.IsFalse)
	c.Check(f.Match(message.Message{SubQueue: "a"}), jc.IsFalse)
}

func (s *messageSuite) TestFilterUnassignedOnly(c *gc.C) {
	f := message.Filter{UnassignedOnly: true}
	c.Check(f.Match(message.Message{SubQueue: "a"}), jc.IsTrue)
	c.Check(f.Match(message.Message{SubQueue: "a", AssignedTo: "w"}), jc.IsFalse)
}

func (s *messageSuite) TestFilterAssignedToWinsOverUnassignedOnly(c *gc.C) {
	f := message.Filter{AssignedTo: "worker-0", UnassignedOnly: true}
	c.Check(f.Match(message.Message{SubQueue: "a", AssignedTo: "worker-0"}), jc.IsTrue)
	c.Check(f.Match(message.Message{SubQueue: "a"}), jc.IsFalse)
}

func (s *messageSuite) TestPayloadEqual(c *gc.C) {
	a := message.Payload{Data: []byte{1, 2}, ContentType: "application/octet-stream"}
	b := message.Payload{Data: []byte{1, 2}, ContentType: "application/octet-stream"}
	c.Check(a.Equal(b), jc.IsTrue)
	b.Data = []byte{1, 2, 3}
	c.Check(a.Equal(b), jc.IsFalse)
	c.Check(message.Payload{}.IsZero(), jc.IsTrue)
	c.Check(a.IsZero(), jc.IsFalse)
}
