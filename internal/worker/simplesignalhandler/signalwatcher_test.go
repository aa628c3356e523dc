// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package simplesignalhandler_test

import (
	"os"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/internal/worker/simplesignalhandler"
)

type signalSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&signalSuite{})

var errShutdown = errors.New("shutdown requested")

func (s *signalSuite) TestValidate(c *gc.C) {
	_, err := simplesignalhandler.NewSignalWatcher(nil, simplesignalhandler.SignalHandler(errShutdown, nil))
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = simplesignalhandler.NewSignalWatcher(make(chan os.Signal), nil)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *signalSuite) TestSignalTranslatesToError(c *gc.C) {
	sigCh := make(chan os.Signal, 1)
	w, err := simplesignalhandler.NewSignalWatcher(sigCh,
		simplesignalhandler.SignalHandler(errShutdown, nil))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, w)
	workertest.CheckAlive(c, w)

	sigCh <- syscall.SIGTERM
	err = workertest.CheckKilled(c, w)
	c.Check(err, jc.ErrorIs, errShutdown)
}

func (s *signalSuite) TestSignalMapOverridesDefault(c *gc.C) {
	errInterrupt := errors.New("interrupted")
	sigCh := make(chan os.Signal, 1)
	w, err := simplesignalhandler.NewSignalWatcher(sigCh,
		simplesignalhandler.SignalHandler(errShutdown, map[os.Signal]error{
			syscall.SIGINT: errInterrupt,
		}))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, w)

	sigCh <- syscall.SIGINT
	err = workertest.CheckKilled(c, w)
	c.Check(err, jc.ErrorIs, errInterrupt)
}

func (s *signalSuite) TestUnmappedSignalFallsThrough(c *gc.C) {
	sigCh := make(chan os.Signal, 1)
	w, err := simplesignalhandler.NewSignalWatcher(sigCh,
		simplesignalhandler.SignalHandler(errShutdown, map[os.Signal]error{
			syscall.SIGINT: errors.New("interrupted"),
		}))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, w)

	sigCh <- syscall.SIGHUP
	err = workertest.CheckKilled(c, w)
	c.Check(err, jc.ErrorIs, errShutdown)
}

func (s *signalSuite) TestCleanKill(c *gc.C) {
	sigCh := make(chan os.Signal, 1)
	w, err := simplesignalhandler.NewSignalWatcher(sigCh,
		simplesignalhandler.SignalHandler(errShutdown, nil))
	c.Assert(err, jc.ErrorIsNil)
	workertest.CleanKill(c, w)
}

func (s *signalSuite) TestClosedChannelIsAnError(c *gc.C) {
	sigCh := make(chan os.Signal)
	w, err := simplesignalhandler.NewSignalWatcher(sigCh,
		simplesignalhandler.SignalHandler(errShutdown, nil))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, w)

	close(sigCh)
	err = workertest.CheckKilled(c, w)
	c.Check(err, gc.ErrorMatches, "signal channel closed unexpectedly")
}
