// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package memstore

import (
	"context"
	"sync"

	"github.com/juju/collections/set"
)

// Restrictions implements storage.RestrictionStore in process memory.
type Restrictions struct {
	mu    sync.RWMutex
	names set.Strings
}

// NewRestrictions returns an empty in-memory restriction store.
func NewRestrictions() *Restrictions {
	return &Restrictions{names: set.NewStrings()}
}

// Add is part of storage.RestrictionStore.
func (r *Restrictions) Add(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names.Add(name)
	return nil
}

// Remove is part of storage.RestrictionStore.
func (r *Restrictions) Remove(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.names.Contains(name) {
		return false, nil
	}
	r.names.Remove(name)
	return true, nil
}

// Contains is part of storage.RestrictionStore.
func (r *Restrictions) Contains(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names.Contains(name), nil
}

// All is part of storage.RestrictionStore.
func (r *Restrictions) All(_ context.Context) (set.Strings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return set.NewStrings(r.names.Values()...), nil
}

// Clear is part of storage.RestrictionStore.
func (r *Restrictions) Clear(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.names.Size()
	r.names = set.NewStrings()
	return n, nil
}

// Reserved is part of storage.RestrictionStore. Memory restrictions
// live outside the message namespace entirely, so nothing is reserved.
func (r *Restrictions) Reserved() set.Strings {
	return set.NewStrings()
}

// Ping is part of storage.RestrictionStore.
func (r *Restrictions) Ping(_ context.Context) error {
	return nil
}
