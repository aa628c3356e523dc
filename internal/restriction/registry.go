// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package restriction tracks which sub-queues are restricted, meaning
// the access filter demands a matching token for them in hybrid mode.
// The registry also guards the handful of names its own storage
// claims for bookkeeping, which must never become real sub-queues.
package restriction

import (
	"context"
	"fmt"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/mqueue/internal/storage"
)

// ErrReserved is the kind of every reserved-name rejection.
const ErrReserved = errors.ConstError("reserved sub-queue name")

// ReservedError rejects the use of a sub-queue name the restriction
// storage keeps for itself.
type ReservedError struct {
	SubQueue string
}

// Error is part of error.
func (e *ReservedError) Error() string {
	return fmt.Sprintf("sub-queue name %q is reserved", e.SubQueue)
}

// Is makes the error satisfy ErrReserved and the NotValid kind.
func (e *ReservedError) Is(target error) bool {
	return target == ErrReserved || target == errors.NotValid
}

// Registry wraps a restriction store with name validation.
type Registry struct {
	store storage.RestrictionStore
}

// NewRegistry returns a registry over the given store.
func NewRegistry(store storage.RestrictionStore) (*Registry, error) {
	if store == nil {
		return nil, errors.NotValidf("nil store")
	}
	return &Registry{store: store}, nil
}

// CheckUsable returns an error if the name cannot serve as a real
// sub-queue, either because it is empty or because the registry's
// storage owns it.
func (r *Registry) CheckUsable(subQueue string) error {
	if subQueue == "" {
		return errors.NotValidf("empty sub-queue name")
	}
	if r.store.Reserved().Contains(subQueue) {
		return &ReservedError{SubQueue: subQueue}
	}
	return nil
}

// IsRestricted reports whether the sub-queue is restricted.
func (r *Registry) IsRestricted(ctx context.Context, subQueue string) (bool, error) {
	ok, err := r.store.Contains(ctx, subQueue)
	return ok, errors.Trace(err)
}

// AddRestriction marks the sub-queue restricted. Restricting a name
// twice is not an error.
func (r *Registry) AddRestriction(ctx context.Context, subQueue string) error {
	if err := r.CheckUsable(subQueue); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.store.Add(ctx, subQueue))
}

// RemoveRestriction lifts the restriction, reporting whether it was
// there.
func (r *Registry) RemoveRestriction(ctx context.Context, subQueue string) (bool, error) {
	removed, err := r.store.Remove(ctx, subQueue)
	return removed, errors.Trace(err)
}

// ListRestricted returns every restricted sub-queue name.
func (r *Registry) ListRestricted(ctx context.Context) (set.Strings, error) {
	all, err := r.store.All(ctx)
	return all, errors.Trace(err)
}

// ClearRestrictions drops every restriction, returning how many there
// were.
func (r *Registry) ClearRestrictions(ctx context.Context) (int, error) {
	n, err := r.store.Clear(ctx)
	return n, errors.Trace(err)
}

// ReservedSubQueues returns the names the registry's storage keeps
// for itself.
func (r *Registry) ReservedSubQueues() set.Strings {
	return r.store.Reserved()
}

// HealthCheck verifies the restriction storage is reachable.
func (r *Registry) HealthCheck(ctx context.Context) error {
	return errors.Trace(r.store.Ping(ctx))
}
