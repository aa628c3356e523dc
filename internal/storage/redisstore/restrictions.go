// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package redisstore

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// Restrictions implements storage.RestrictionStore as a single set of
// sub-queue names held under the same key prefix as the messages.
// That set's own name is therefore reserved: a sub-queue called
// "restricted" would collide with it.
type Restrictions struct {
	client redis.UniversalClient
	prefix string
}

// NewRestrictions returns a restriction store under the given prefix.
func NewRestrictions(client redis.UniversalClient, prefix string) (*Restrictions, error) {
	if client == nil {
		return nil, errors.NotValidf("nil client")
	}
	if prefix == "" {
		return nil, errors.NotValidf("empty key prefix")
	}
	return &Restrictions{client: client, prefix: prefix}, nil
}

// Add is part of storage.RestrictionStore.
func (r *Restrictions) Add(ctx context.Context, name string) error {
	err := r.client.SAdd(ctx, r.key(), name).Err()
	return coerceError(err, "restricting sub-queue %q", name)
}

// Remove is part of storage.RestrictionStore.
func (r *Restrictions) Remove(ctx context.Context, name string) (bool, error) {
	n, err := r.client.SRem(ctx, r.key(), name).Result()
	if err != nil {
		return false, coerceError(err, "unrestricting sub-queue %q", name)
	}
	return n > 0, nil
}

// Contains is part of storage.RestrictionStore.
func (r *Restrictions) Contains(ctx context.Context, name string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key(), name).Result()
	if err != nil {
		return false, coerceError(err, "checking restriction on %q", name)
	}
	return ok, nil
}

// All is part of storage.RestrictionStore.
func (r *Restrictions) All(ctx context.Context) (set.Strings, error) {
	names, err := r.client.SMembers(ctx, r.key()).Result()
	if err != nil {
		return nil, coerceError(err, "listing restrictions")
	}
	return set.NewStrings(names...), nil
}

// Clear is part of storage.RestrictionStore.
func (r *Restrictions) Clear(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.key()).Result()
	if err != nil {
		return 0, coerceError(err, "sizing restriction set")
	}
	if n == 0 {
		return 0, nil
	}
	if err := r.client.Del(ctx, r.key()).Err(); err != nil {
		return 0, coerceError(err, "clearing restrictions")
	}
	return int(n), nil
}

// Reserved is part of storage.RestrictionStore.
func (r *Restrictions) Reserved() set.Strings {
	return set.NewStrings(restrictedSetName)
}

// Ping is part of storage.RestrictionStore.
func (r *Restrictions) Ping(ctx context.Context) error {
	return coerceError(r.client.Ping(ctx).Err(), "pinging redis")
}

func (r *Restrictions) key() string {
	return r.prefix + restrictedSetName
}
