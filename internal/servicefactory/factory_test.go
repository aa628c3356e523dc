// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package servicefactory_test

import (
	"context"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/internal/servicefactory"
	"github.com/juju/mqueue/internal/settings"
	"github.com/juju/mqueue/internal/storage/memstore"
)

type factorySuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&factorySuite{})

func (s *factorySuite) newSettings(c *gc.C, attrs map[string]interface{}) settings.Settings {
	cfg, err := settings.New(attrs)
	c.Assert(err, jc.ErrorIsNil)
	return cfg
}

func (s *factorySuite) TestValidateMissingSettings(c *gc.C) {
	_, err := servicefactory.NewStores(context.Background(), servicefactory.Config{
		Clock: clock.WallClock,
	})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *factorySuite) TestValidateMissingClock(c *gc.C) {
	_, err := servicefactory.NewStores(context.Background(), servicefactory.Config{
		Settings: s.newSettings(c, nil),
	})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *factorySuite) TestValidateBadBackend(c *gc.C) {
	// A hand-built settings map skips the constructor's validation, so
	// the factory has to reject it itself.
	_, err := servicefactory.NewStores(context.Background(), servicefactory.Config{
		Settings: settings.Settings{settings.Backend: "filesystem"},
		Clock:    clock.WallClock,
	})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *factorySuite) TestMemoryStores(c *gc.C) {
	stores, err := servicefactory.NewStores(context.Background(), servicefactory.Config{
		Settings: s.newSettings(c, nil),
		Clock:    clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer stores.Close()

	c.Check(stores.Store, gc.FitsTypeOf, &memstore.Store{})
	c.Check(stores.Restrictions, gc.FitsTypeOf, &memstore.Restrictions{})
	c.Check(stores.Close(), jc.ErrorIsNil)
}

func (s *factorySuite) TestSQLStores(c *gc.C) {
	dsn := "file:" + filepath.Join(c.MkDir(), "factory.db") + "?_fk=1"
	stores, err := servicefactory.NewStores(context.Background(), servicefactory.Config{
		Settings: s.newSettings(c, map[string]interface{}{
			settings.Backend: settings.BackendSQL,
			settings.SQLDSN:  dsn,
		}),
		Clock: clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer stores.Close()

	ctx := context.Background()
	stored, err := stores.Store.Append(ctx, message.Message{
		UUID:     "11111111-2222-3333-4444-555555555555",
		SubQueue: "orders",
		Payload:  message.Payload{Data: []byte("tick"), ContentType: "text/plain"},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(stored.Ordinal, gc.Equals, int64(1))

	found, err := stores.Store.FindByUUID(ctx, stored.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(found.SubQueue, gc.Equals, "orders")
	c.Check(string(found.Payload.Data), gc.Equals, "tick")

	err = stores.Restrictions.Add(ctx, "secure")
	c.Assert(err, jc.ErrorIsNil)
	restricted, err := stores.Restrictions.Contains(ctx, "secure")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(restricted, jc.IsTrue)

	c.Assert(stores.Close(), jc.ErrorIsNil)
	c.Check(stores.Store.Ping(ctx), gc.NotNil)
}

func (s *factorySuite) TestSQLStoresReopen(c *gc.C) {
	dsn := "file:" + filepath.Join(c.MkDir(), "factory.db") + "?_fk=1"
	attrs := map[string]interface{}{
		settings.Backend: settings.BackendSQL,
		settings.SQLDSN:  dsn,
	}

	stores, err := servicefactory.NewStores(context.Background(), servicefactory.Config{
		Settings: s.newSettings(c, attrs),
		Clock:    clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)
	_, err = stores.Store.Append(context.Background(), message.Message{
		UUID:     "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		SubQueue: "orders",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(stores.Close(), jc.ErrorIsNil)

	// Reopening the same file must find the schema already in place
	// and the message still there.
	stores, err = servicefactory.NewStores(context.Background(), servicefactory.Config{
		Settings: s.newSettings(c, attrs),
		Clock:    clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer stores.Close()

	found, err := stores.Store.FindByUUID(context.Background(), "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(found.Ordinal, gc.Equals, int64(1))
}

func (s *factorySuite) TestUnreachableBackend(c *gc.C) {
	// Port 1 refuses connections immediately; the deadline cuts the
	// retry loop short.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := servicefactory.NewStores(ctx, servicefactory.Config{
		Settings: s.newSettings(c, map[string]interface{}{
			settings.Backend:        settings.BackendRedis,
			settings.RedisEndpoints: "127.0.0.1:1",
		}),
		Clock: clock.WallClock,
	})
	c.Check(err, gc.ErrorMatches, "redis backend not reachable: .*")
}
