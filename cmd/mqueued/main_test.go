// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"
	"path/filepath"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type mainSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&mainSuite{})

func (s *mainSuite) TestHelp(c *gc.C) {
	c.Check(Main([]string{"mqueued", "--help"}), gc.Equals, exitOK)
}

func (s *mainSuite) TestUnknownFlag(c *gc.C) {
	c.Check(Main([]string{"mqueued", "--sideways"}), gc.Equals, exitUsage)
}

func (s *mainSuite) TestUnrecognizedArgs(c *gc.C) {
	c.Check(Main([]string{"mqueued", "extra"}), gc.Equals, exitUsage)
}

func (s *mainSuite) TestMissingConfigFile(c *gc.C) {
	path := filepath.Join(c.MkDir(), "absent.yaml")
	c.Check(Main([]string{"mqueued", "--config", path}), gc.Equals, exitErr)
}

func (s *mainSuite) TestBadSettings(c *gc.C) {
	path := filepath.Join(c.MkDir(), "mqueued.yaml")
	err := os.WriteFile(path, []byte("backend: filesystem\n"), 0o644)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(Main([]string{"mqueued", "--config", path}), gc.Equals, exitErr)
}

func (s *mainSuite) TestConfigureLogging(c *gc.C) {
	err := configureLogging(nil, "<root>=DEBUG;mqueue=TRACE")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(configureLogging(nil, "no-such-syntax=="), gc.NotNil)
}
