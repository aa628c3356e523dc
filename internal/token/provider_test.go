// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package token_test

import (
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/internal/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type providerSuite struct {
	testing.IsolationSuite
	clock *testclock.Clock
}

var _ = gc.Suite(&providerSuite{})

func (s *providerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2025, 8, 4, 12, 0, 0, 0, time.UTC))
}

func (s *providerSuite) provider(c *gc.C, secret []byte, defaultTTL time.Duration) *token.Provider {
	provider, err := token.NewProvider(token.Config{
		Secret:     secret,
		Clock:      s.clock,
		DefaultTTL: defaultTTL,
	})
	c.Assert(err, jc.ErrorIsNil)
	return provider
}

func (s *providerSuite) TestConfigValidate(c *gc.C) {
	_, err := token.NewProvider(token.Config{})
	c.Check(err, gc.ErrorMatches, "nil Clock not valid")

	_, err = token.NewProvider(token.Config{Clock: s.clock, DefaultTTL: -time.Hour})
	c.Check(err, gc.ErrorMatches, "negative DefaultTTL not valid")
}

func (s *providerSuite) TestIssueVerifyRoundTrip(c *gc.C) {
	provider := s.provider(c, testSecret, time.Hour)

	raw, err := provider.Issue("secure", 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(raw, gc.Not(gc.Equals), "")

	subQueue, err := provider.Verify(raw)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(subQueue, gc.Equals, "secure")
}

func (s *providerSuite) TestIssuedClaims(c *gc.C) {
	provider := s.provider(c, testSecret, time.Hour)

	raw, err := provider.Issue("secure", 30*time.Minute)
	c.Assert(err, jc.ErrorIsNil)

	parsed, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, testSecret), jwt.WithClock(s.clock))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(parsed.Issuer(), gc.Equals, "mqueued")
	c.Check(parsed.PrivateClaims()["sub-queue"], gc.Equals, "secure")
	c.Check(parsed.Expiration().Sub(parsed.IssuedAt()), gc.Equals, 30*time.Minute)
}

func (s *providerSuite) TestIssueWithoutExpiry(c *gc.C) {
	provider := s.provider(c, testSecret, 0)

	raw, err := provider.Issue("secure", 0)
	c.Assert(err, jc.ErrorIsNil)

	parsed, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, testSecret), jwt.WithClock(s.clock))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(parsed.Expiration().IsZero(), jc.IsTrue)

	// Tokens without expiry keep verifying forever.
	s.clock.Advance(1000 * time.Hour)
	subQueue, err := provider.Verify(raw)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(subQueue, gc.Equals, "secure")
}

func (s *providerSuite) TestVerifyExpired(c *gc.C) {
	provider := s.provider(c, testSecret, time.Hour)

	raw, err := provider.Issue("secure", 0)
	c.Assert(err, jc.ErrorIsNil)

	s.clock.Advance(time.Hour + time.Second)
	_, err = provider.Verify(raw)
	c.Check(err, jc.ErrorIs, errors.Unauthorized)
	c.Check(err, gc.ErrorMatches, `invalid token: "exp" not satisfied`)
}

func (s *providerSuite) TestVerifyWrongSecret(c *gc.C) {
	provider := s.provider(c, testSecret, time.Hour)
	raw, err := provider.Issue("secure", 0)
	c.Assert(err, jc.ErrorIsNil)

	other := s.provider(c, []byte("another-secret-another-secret-32"), time.Hour)
	_, err = other.Verify(raw)
	c.Check(err, jc.ErrorIs, errors.Unauthorized)
}

func (s *providerSuite) TestVerifyGarbage(c *gc.C) {
	provider := s.provider(c, testSecret, time.Hour)
	_, err := provider.Verify("not-a-token")
	c.Check(err, jc.ErrorIs, errors.Unauthorized)
}

func (s *providerSuite) TestDisabledWithoutSecret(c *gc.C) {
	provider := s.provider(c, nil, time.Hour)
	c.Check(provider.Enabled(), jc.IsFalse)

	_, err := provider.Issue("secure", 0)
	c.Check(err, jc.ErrorIs, errors.NotSupported)

	_, err = provider.Verify("anything")
	c.Check(err, jc.ErrorIs, errors.Unauthorized)
}

func (s *providerSuite) TestIssueValidation(c *gc.C) {
	provider := s.provider(c, testSecret, time.Hour)

	_, err := provider.Issue("", 0)
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = provider.Issue("secure", -time.Minute)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}
