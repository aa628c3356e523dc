// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/mqueue/core/authmode"
	"github.com/juju/mqueue/internal/restriction"
)

const bearerScheme = "Bearer"

type claimKey struct{}

// withClaim records a verified sub-queue claim in the context.
func withClaim(ctx context.Context, subQueue string) context.Context {
	return context.WithValue(ctx, claimKey{}, subQueue)
}

// claimFromContext returns the sub-queue claim carried by the context,
// if a verified token supplied one.
func claimFromContext(ctx context.Context) (string, bool) {
	claim, ok := ctx.Value(claimKey{}).(string)
	return claim, ok
}

// claimContext extracts the bearer token from the request, if one is
// present, and records its verified sub-queue claim in the request
// context. A well formed but unverifiable token fails the request in
// restricted mode and counts as absent otherwise. A malformed
// Authorization header fails the request in every mode.
func (h *Handler) claimContext(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	header := r.Header.Get("Authorization")
	if header == "" {
		return ctx, nil
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != bearerScheme {
		return nil, errors.BadRequestf("malformed Authorization header")
	}
	claim, err := h.tokens.Verify(parts[1])
	if err != nil {
		if h.auth.mode == authmode.Restricted {
			return nil, errors.Trace(err)
		}
		logger.Debugf("ignoring unverifiable token: %v", err)
		return ctx, nil
	}
	return withClaim(ctx, claim), nil
}

// checkAdmin authorises a request against the configured static admin
// token. An empty configured token disables the administrative surface
// outright.
func (h *Handler) checkAdmin(r *http.Request) error {
	if h.adminToken == "" {
		return errors.Forbiddenf("administrative API disabled")
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return errors.Unauthorizedf("admin token required")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != bearerScheme {
		return errors.BadRequestf("malformed Authorization header")
	}
	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.adminToken)) != 1 {
		return errors.Unauthorizedf("invalid admin token")
	}
	return nil
}

// authorizer gates sub-queue scoped operations on the claim carried by
// the request context.
type authorizer struct {
	mode         authmode.Mode
	restrictions *restriction.Registry
}

// checkAny authorises an operation whose target sub-queue is not yet
// known, such as a lookup by uuid. Restricted mode demands that a
// claim be present before anything is resolved; the claim is matched
// against the stored sub-queue once it is.
func (a authorizer) checkAny(ctx context.Context) error {
	if a.mode != authmode.Restricted {
		return nil
	}
	if _, ok := claimFromContext(ctx); !ok {
		return errors.Unauthorizedf("bearer token required")
	}
	return nil
}

// checkSubQueue authorises access to subQueue. In hybrid mode only
// restricted sub-queues demand a matching claim; in restricted mode
// every sub-queue does.
func (a authorizer) checkSubQueue(ctx context.Context, subQueue string) error {
	switch a.mode {
	case authmode.None:
		return nil
	case authmode.Hybrid:
		restricted, err := a.restrictions.IsRestricted(ctx, subQueue)
		if err != nil {
			return errors.Trace(err)
		}
		if !restricted {
			return nil
		}
	}
	claim, ok := claimFromContext(ctx)
	if !ok {
		return errors.Unauthorizedf("bearer token required for sub-queue %q", subQueue)
	}
	if claim != subQueue {
		return errors.Forbiddenf("token for sub-queue %q cannot access sub-queue %q", claim, subQueue)
	}
	return nil
}
