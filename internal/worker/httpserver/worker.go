// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package httpserver runs the service's HTTP front end as a worker:
// it serves a handler on a listener it is given and drains in-flight
// requests when killed.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/tomb.v2"
)

var logger = loggo.GetLogger("mqueue.worker.httpserver")

// Config holds the dependencies and parameters of the server worker.
type Config struct {
	// Listener is the listener to serve on. The worker takes
	// ownership and closes it on the way down.
	Listener net.Listener

	// Handler handles every request.
	Handler http.Handler

	// ShutdownTimeout bounds how long a dying worker waits for
	// in-flight requests before dropping their connections. Zero
	// waits indefinitely.
	ShutdownTimeout time.Duration
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Listener == nil {
		return errors.NotValidf("nil Listener")
	}
	if c.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if c.ShutdownTimeout < 0 {
		return errors.NotValidf("negative ShutdownTimeout")
	}
	return nil
}

// Worker serves HTTP until killed.
type Worker struct {
	tomb   tomb.Tomb
	config Config
}

// NewWorker returns a worker serving the configured handler.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{config: config}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.tomb.Wait()
}

// Addr returns the address the worker is serving on.
func (w *Worker) Addr() string {
	return w.config.Listener.Addr().String()
}

func (w *Worker) loop() error {
	server := &http.Server{Handler: w.config.Handler}
	logger.Infof("serving on %s", w.Addr())

	serveErr := make(chan error, 1)
	go func() {
		err := server.Serve(w.config.Listener)
		if err == http.ErrServerClosed {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		// Serve only returns before a shutdown when the listener
		// broke underneath it.
		if err == nil {
			err = errors.New("server stopped unexpectedly")
		}
		return errors.Trace(err)
	case <-w.tomb.Dying():
	}

	ctx := context.Background()
	if w.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.ShutdownTimeout)
		defer cancel()
	}
	logger.Infof("shutting down, draining requests")
	if err := server.Shutdown(ctx); err != nil {
		// The grace period ran out; drop whatever is still open.
		_ = server.Close()
		return errors.Annotate(err, "shutting down server")
	}
	return tomb.ErrDying
}
