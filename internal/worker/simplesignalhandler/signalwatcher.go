// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package simplesignalhandler converts process signals into worker
// death: when a watched signal arrives, the worker dies with the error
// the handler maps it to, and whatever supervises the worker decides
// what that means for the process.
package simplesignalhandler

import (
	"os"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4/catacomb"
)

var logger = loggo.GetLogger("mqueue.worker.signalhandler")

// SignalHandlerFunc returns the error a received signal translates to.
type SignalHandlerFunc func(os.Signal) error

// SignalWatcher waits for one signal and dies with the handler's
// verdict on it.
type SignalWatcher struct {
	catacomb catacomb.Catacomb
	handler  SignalHandlerFunc
	sigCh    <-chan os.Signal
}

// NewSignalWatcher constructs a signal watcher worker reading the
// given channel. The caller owns the channel and its signal.Notify
// registration.
func NewSignalWatcher(sig <-chan os.Signal, handler SignalHandlerFunc) (*SignalWatcher, error) {
	if sig == nil {
		return nil, errors.NotValidf("nil signal channel")
	}
	if handler == nil {
		return nil, errors.NotValidf("nil handler")
	}
	s := &SignalWatcher{
		handler: handler,
		sigCh:   sig,
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &s.catacomb,
		Work: s.watch,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// SignalHandler maps specific signals to specific errors, with a
// default for any signal not in the map.
func SignalHandler(defaultErr error, signalMap map[os.Signal]error) SignalHandlerFunc {
	return func(sig os.Signal) error {
		if signalMap == nil {
			return defaultErr
		}
		if err, ok := signalMap[sig]; ok {
			return err
		}
		return defaultErr
	}
}

// Kill is part of the worker.Worker interface.
func (s *SignalWatcher) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *SignalWatcher) Wait() error {
	return s.catacomb.Wait()
}

// watch blocks until a signal arrives or the worker is killed.
func (s *SignalWatcher) watch() error {
	select {
	case sig, ok := <-s.sigCh:
		if !ok {
			return errors.New("signal channel closed unexpectedly")
		}
		logger.Infof("received signal %s", sig)
		return s.handler(sig)
	case <-s.catacomb.Dying():
		return s.catacomb.ErrDying()
	}
}
