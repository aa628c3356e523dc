// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package authmode_test

import (
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/core/authmode"
)

type modeSuite struct{}

var _ = gc.Suite(&modeSuite{})

func (s *modeSuite) TestParse(c *gc.C) {
	for _, name := range []string{"none", "hybrid", "restricted"} {
		mode, err := authmode.Parse(name)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(string(mode), gc.Equals, name)
	}
}

func (s *modeSuite) TestParseUnknown(c *gc.C) {
	_, err := authmode.Parse("open-sesame")
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, `access control mode "open-sesame" not valid`)
}

func (s *modeSuite) TestRequiresToken(c *gc.C) {
	c.Check(authmode.None.RequiresToken(), jc.IsFalse)
	c.Check(authmode.Hybrid.RequiresToken(), jc.IsTrue)
	c.Check(authmode.Restricted.RequiresToken(), jc.IsTrue)
}
