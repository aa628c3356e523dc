// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package servicefactory turns validated service settings into a live
// storage layer: it dials whatever the configured backend kind needs,
// builds the message store and restriction store over the connection,
// and waits for the backend to answer before handing the stores out.
package servicefactory

import (
	"context"
	"database/sql"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/mgo/v3"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/redis/go-redis/v9"
	"gopkg.in/retry.v1"

	"github.com/juju/mqueue/internal/database"
	"github.com/juju/mqueue/internal/settings"
	"github.com/juju/mqueue/internal/storage"
	"github.com/juju/mqueue/internal/storage/memstore"
	"github.com/juju/mqueue/internal/storage/mongostore"
	"github.com/juju/mqueue/internal/storage/redisstore"
	"github.com/juju/mqueue/internal/storage/sqlstore"
)

var logger = loggo.GetLogger("mqueue.servicefactory")

const (
	// mongoDialTimeout bounds establishing the initial sockets to the
	// document store.
	mongoDialTimeout = 10 * time.Second

	// pingAttempts and the delays below bound how long a freshly
	// built backend gets to answer its first ping before startup
	// fails.
	pingAttempts     = 5
	initialPingDelay = 100 * time.Millisecond
	maxPingDelay     = 2 * time.Second
)

// Config holds what the factory needs to build a storage layer.
type Config struct {
	// Settings is the service configuration.
	Settings settings.Settings

	// Clock drives the ping retry backoff.
	Clock clock.Clock
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Settings == nil {
		return errors.NotValidf("nil Settings")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return errors.Trace(c.Settings.Validate())
}

// Stores is the assembled storage layer of a running service.
type Stores struct {
	// Store holds the messages.
	Store storage.Store

	// Restrictions holds the restricted sub-queue names.
	Restrictions storage.RestrictionStore

	closers []func() error
}

// Close releases the connections behind the stores.
func (s *Stores) Close() error {
	var firstErr error
	for _, close := range s.closers {
		if err := close(); err != nil {
			logger.Warningf("closing backend: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Stores) ping(ctx context.Context) error {
	if err := s.Store.Ping(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.Restrictions.Ping(ctx))
}

// NewStores dials the configured backend and builds the message and
// restriction stores over it. The backend must answer a ping before
// the stores are handed out; ctx bounds how long that may take.
func NewStores(ctx context.Context, config Config) (*Stores, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	var (
		stores *Stores
		err    error
	)
	backend := config.Settings.Backend()
	switch backend {
	case settings.BackendMemory:
		stores, err = memoryStores()
	case settings.BackendSQL:
		stores, err = sqlStores(ctx, config)
	case settings.BackendRedis:
		stores, err = redisStores(config)
	case settings.BackendMongo:
		stores, err = mongoStores(config)
	default:
		return nil, errors.NotValidf("backend %q", backend)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "building %s backend", backend)
	}

	if err := waitReachable(ctx, config.Clock, stores); err != nil {
		_ = stores.Close()
		return nil, errors.Annotatef(err, "%s backend not reachable", backend)
	}
	logger.Infof("%s backend ready", backend)
	return stores, nil
}

// waitReachable gives a just-started backend a moment to answer
// before the service refuses to come up.
func waitReachable(ctx context.Context, clk clock.Clock, stores *Stores) error {
	strategy := retry.LimitCount(pingAttempts, retry.Exponential{
		Initial:  initialPingDelay,
		Factor:   2,
		MaxDelay: maxPingDelay,
		Jitter:   true,
	})
	var err error
	for a := retry.StartWithCancel(strategy, clk, ctx.Done()); a.Next(); {
		if err = stores.ping(ctx); err == nil {
			return nil
		}
		if a.More() {
			logger.Debugf("backend not answering (attempt %d): %v", a.Count(), err)
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return errors.Trace(err)
}

func memoryStores() (*Stores, error) {
	return &Stores{
		Store:        memstore.New(),
		Restrictions: memstore.NewRestrictions(),
	}, nil
}

func sqlStores(ctx context.Context, config Config) (*Stores, error) {
	db, err := sql.Open("sqlite3", config.Settings.SQLDSN())
	if err != nil {
		return nil, errors.Annotate(err, "opening database")
	}
	// Every statement goes through the runner's single slot; one
	// connection keeps SQLite from reporting busy underneath it.
	db.SetMaxOpenConns(1)

	fail := func(err error) (*Stores, error) {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	runner, err := database.NewTxnRunner(db, config.Clock)
	if err != nil {
		return fail(err)
	}
	if err := sqlstore.EnsureSchema(ctx, runner); err != nil {
		return fail(err)
	}
	store, err := sqlstore.New(runner)
	if err != nil {
		return fail(err)
	}
	restrictions, err := sqlstore.NewRestrictions(runner)
	if err != nil {
		return fail(err)
	}
	return &Stores{
		Store:        store,
		Restrictions: restrictions,
		closers:      []func() error{db.Close},
	}, nil
}

func redisStores(config Config) (*Stores, error) {
	client := newRedisClient(config.Settings)
	fail := func(err error) (*Stores, error) {
		_ = client.Close()
		return nil, errors.Trace(err)
	}
	store, err := redisstore.New(client, config.Settings.RedisPrefix())
	if err != nil {
		return fail(err)
	}
	restrictions, err := redisstore.NewRestrictions(client, config.Settings.RedisPrefix())
	if err != nil {
		return fail(err)
	}
	return &Stores{
		Store:        store,
		Restrictions: restrictions,
		closers:      []func() error{client.Close},
	}, nil
}

// newRedisClient connects directly to a single server, or through
// sentinels when sentinel mode is configured.
func newRedisClient(s settings.Settings) redis.UniversalClient {
	endpoints := s.RedisEndpoints()
	if s.RedisSentinel() {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    s.RedisMaster(),
			SentinelAddrs: endpoints,
			Password:      s.RedisPassword(),
		})
	}
	if len(endpoints) > 1 {
		logger.Warningf("multiple redis endpoints without sentinel, using %s", endpoints[0])
	}
	return redis.NewClient(&redis.Options{
		Addr:     endpoints[0],
		Password: s.RedisPassword(),
	})
}

func mongoStores(config Config) (*Stores, error) {
	session, err := mgo.DialWithInfo(&mgo.DialInfo{
		Addrs:    config.Settings.MongoEndpoints(),
		Database: config.Settings.MongoDatabase(),
		Username: config.Settings.MongoUser(),
		Password: config.Settings.MongoPassword(),
		Timeout:  mongoDialTimeout,
	})
	if err != nil {
		return nil, errors.Annotate(err, "dialling document store")
	}
	fail := func(err error) (*Stores, error) {
		session.Close()
		return nil, errors.Trace(err)
	}
	store, err := mongostore.New(session, config.Settings.MongoDatabase())
	if err != nil {
		return fail(err)
	}
	if err := store.EnsureIndexes(); err != nil {
		return fail(err)
	}
	restrictions, err := mongostore.NewRestrictions(session, config.Settings.MongoDatabase())
	if err != nil {
		return fail(err)
	}
	return &Stores{
		Store:        store,
		Restrictions: restrictions,
		closers: []func() error{func() error {
			session.Close()
			return nil
		}},
	}, nil
}
