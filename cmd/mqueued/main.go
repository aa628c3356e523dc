// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// mqueued is the message queue daemon. It loads its settings, builds
// the configured storage backend and serves the REST API until a
// termination signal arrives.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/mqueue/internal/apiserver"
	"github.com/juju/mqueue/internal/multiqueue"
	"github.com/juju/mqueue/internal/restriction"
	"github.com/juju/mqueue/internal/servicefactory"
	"github.com/juju/mqueue/internal/settings"
	"github.com/juju/mqueue/internal/token"
	"github.com/juju/mqueue/internal/worker/httpserver"
	"github.com/juju/mqueue/internal/worker/simplesignalhandler"
)

var logger = loggo.GetLogger("mqueue.cmd.mqueued")

const (
	exitOK  = 0
	exitErr = 1
	// exitUsage is returned when the command line cannot be parsed.
	exitUsage = 2
	// exitPanic is returned when we exit due to an unhandled panic.
	exitPanic = 3
)

// errShutdown marks the worker death that follows a termination
// signal, telling the run loop the exit is deliberate.
var errShutdown = errors.New("shutdown requested")

func main() {
	os.Exit(Main(os.Args))
}

// Main is not redundant with main(), because it provides an entry
// point for testing with arbitrary command line arguments.
func Main(args []string) int {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			logger.Criticalf("unhandled panic: \n%v\n%s", r, buf)
			os.Exit(exitPanic)
		}
	}()

	f := gnuflag.NewFlagSet("mqueued", gnuflag.ContinueOnError)
	var configPath, loggingOverride string
	f.StringVar(&configPath, "config", "", "path to the settings file")
	f.StringVar(&loggingOverride, "logging-config", "", "override the configured logging levels")
	if err := f.Parse(true, args[1:]); err != nil {
		if err == gnuflag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}
	if extra := f.Args(); len(extra) != 0 {
		fmt.Fprintf(os.Stderr, "ERROR unrecognized args: %q\n", extra)
		return exitUsage
	}

	if err := run(configPath, loggingOverride); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		return exitErr
	}
	return exitOK
}

func run(configPath, loggingOverride string) error {
	cfg, err := settings.Load(configPath)
	if err != nil {
		return errors.Annotate(err, "loading settings")
	}
	if err := configureLogging(cfg, loggingOverride); err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := servicefactory.NewStores(ctx, servicefactory.Config{
		Settings: cfg,
		Clock:    clock.WallClock,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warningf("closing stores: %v", err)
		}
	}()

	queue, err := multiqueue.NewManager(multiqueue.Config{
		Store: stores.Store,
		Clock: clock.WallClock,
	})
	if err != nil {
		return errors.Trace(err)
	}
	registry, err := restriction.NewRegistry(stores.Restrictions)
	if err != nil {
		return errors.Trace(err)
	}
	tokens, err := token.NewProvider(token.Config{
		Secret:     []byte(cfg.TokenSecret()),
		Clock:      clock.WallClock,
		DefaultTTL: cfg.TokenDefaultTTL(),
	})
	if err != nil {
		return errors.Trace(err)
	}

	handler, err := apiserver.NewHandler(apiserver.Config{
		Queue:             queue,
		Restrictions:      registry,
		Tokens:            tokens,
		Mode:              cfg.AuthMode(),
		AdminToken:        cfg.AdminToken(),
		NonSecretSettings: cfg.NonSecret(),
		MetricsRegistry:   prometheus.NewRegistry(),
	})
	if err != nil {
		return errors.Trace(err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.APIPort()))
	if err != nil {
		return errors.Annotate(err, "listening on api port")
	}
	server, err := httpserver.NewWorker(httpserver.Config{
		Listener:        listener,
		Handler:         handler,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	})
	if err != nil {
		_ = listener.Close()
		return errors.Trace(err)
	}
	logger.Infof("serving %s backend on %s in %s mode",
		cfg.Backend(), server.Addr(), cfg.AuthMode())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	sigWatcher, err := simplesignalhandler.NewSignalWatcher(
		signals, simplesignalhandler.SignalHandler(errShutdown, nil))
	if err != nil {
		server.Kill()
		_ = server.Wait()
		return errors.Trace(err)
	}

	// Whichever worker dies first decides the outcome; the other is
	// stopped behind it.
	done := make(chan error, 2)
	go func() { done <- sigWatcher.Wait() }()
	go func() { done <- server.Wait() }()
	firstErr := <-done

	sigWatcher.Kill()
	server.Kill()
	_ = sigWatcher.Wait()
	serverErr := server.Wait()

	if errors.Is(firstErr, errShutdown) {
		logger.Infof("shutting down")
		return errors.Trace(serverErr)
	}
	return errors.Trace(firstErr)
}

// configureLogging applies the configured logging levels, letting the
// command line override the settings file.
func configureLogging(cfg settings.Settings, override string) error {
	config := cfg.LoggingConfig()
	if override != "" {
		config = override
	}
	if config == "" {
		return nil
	}
	loggo.DefaultContext().ResetLoggerLevels()
	if err := loggo.ConfigureLoggers(config); err != nil {
		return errors.Annotate(err, "configuring loggers")
	}
	return nil
}
