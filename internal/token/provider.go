// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package token issues and verifies the bearer tokens that scope a
// client to exactly one sub-queue. Tokens are compact HS256 JWTs; the
// sub-queue travels as a private claim. Without a signing secret the
// provider is disabled: it issues nothing and trusts nothing.
package token

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	// tokenIssuer is the iss claim of every issued token.
	tokenIssuer = "mqueued"

	// subQueueClaim is the private claim naming the sub-queue the
	// token grants access to.
	subQueueClaim = "sub-queue"
)

// Config holds the provider's dependencies.
type Config struct {
	// Secret signs and verifies tokens. Leaving it empty disables
	// token handling altogether.
	Secret []byte

	// Clock supplies issue time and drives expiry validation.
	Clock clock.Clock

	// DefaultTTL applies to tokens issued without an explicit ttl.
	// Zero means such tokens never expire.
	DefaultTTL time.Duration
}

// Validate returns an error if the config is not usable.
func (c Config) Validate() error {
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.DefaultTTL < 0 {
		return errors.NotValidf("negative DefaultTTL")
	}
	return nil
}

// Provider mints and checks sub-queue tokens.
type Provider struct {
	secret     []byte
	clock      clock.Clock
	defaultTTL time.Duration
}

// NewProvider returns a provider for the given config.
func NewProvider(config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Provider{
		secret:     config.Secret,
		clock:      config.Clock,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// Enabled reports whether the provider holds a signing secret.
func (p *Provider) Enabled() bool {
	return len(p.secret) > 0
}

// Issue returns a signed token granting access to the sub-queue. A
// zero ttl falls back to the configured default; if that is zero as
// well the token carries no expiry.
func (p *Provider) Issue(subQueue string, ttl time.Duration) (string, error) {
	if !p.Enabled() {
		return "", errors.NotSupportedf("token issue without a signing secret")
	}
	if subQueue == "" {
		return "", errors.NotValidf("empty sub-queue")
	}
	if ttl < 0 {
		return "", errors.NotValidf("negative ttl")
	}
	if ttl == 0 {
		ttl = p.defaultTTL
	}

	now := p.clock.Now().UTC()
	builder := jwt.NewBuilder().
		Issuer(tokenIssuer).
		IssuedAt(now).
		Claim(subQueueClaim, subQueue)
	if ttl > 0 {
		builder = builder.Expiration(now.Add(ttl))
	}
	tok, err := builder.Build()
	if err != nil {
		return "", errors.Annotate(err, "building token")
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, p.secret))
	if err != nil {
		return "", errors.Annotate(err, "signing token")
	}
	return string(signed), nil
}

// Verify checks the token's signature, issuer and expiry, returning
// the sub-queue it grants access to. Every failure satisfies the
// Unauthorized kind.
func (p *Provider) Verify(raw string) (string, error) {
	if !p.Enabled() {
		return "", errors.Unauthorizedf("token rejected: no signing secret configured")
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, p.secret),
		jwt.WithClock(p.clock),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return "", errors.NewUnauthorized(err, "invalid token")
	}

	claim, ok := tok.PrivateClaims()[subQueueClaim]
	name, isString := claim.(string)
	if !ok || !isString || name == "" {
		return "", errors.Unauthorizedf("token carries no sub-queue claim")
	}
	return name, nil
}
