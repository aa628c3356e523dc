// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mongostore

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
)

// Restrictions implements storage.RestrictionStore as a collection of
// bare documents whose id is the restricted sub-queue name.
type Restrictions struct {
	session  *mgo.Session
	database string
}

// NewRestrictions returns a restriction store over the given database.
func NewRestrictions(session *mgo.Session, database string) (*Restrictions, error) {
	if session == nil {
		return nil, errors.NotValidf("nil session")
	}
	if database == "" {
		return nil, errors.NotValidf("empty database name")
	}
	return &Restrictions{session: session, database: database}, nil
}

// Add is part of storage.RestrictionStore.
func (r *Restrictions) Add(ctx context.Context, name string) error {
	coll, closer := r.restrictions()
	defer closer()

	err := coll.Insert(restrictionDoc{Name: name})
	if mgo.IsDup(err) {
		return nil
	}
	return coerceError(err, "restricting sub-queue %q", name)
}

// Remove is part of storage.RestrictionStore.
func (r *Restrictions) Remove(ctx context.Context, name string) (bool, error) {
	coll, closer := r.restrictions()
	defer closer()

	err := coll.RemoveId(name)
	if err == mgo.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, coerceError(err, "unrestricting sub-queue %q", name)
	}
	return true, nil
}

// Contains is part of storage.RestrictionStore.
func (r *Restrictions) Contains(ctx context.Context, name string) (bool, error) {
	coll, closer := r.restrictions()
	defer closer()

	n, err := coll.FindId(name).Count()
	if err != nil {
		return false, coerceError(err, "checking restriction on %q", name)
	}
	return n > 0, nil
}

// All is part of storage.RestrictionStore.
func (r *Restrictions) All(ctx context.Context) (set.Strings, error) {
	coll, closer := r.restrictions()
	defer closer()

	var names []string
	if err := coll.Find(nil).Distinct("_id", &names); err != nil {
		return nil, coerceError(err, "listing restrictions")
	}
	return set.NewStrings(names...), nil
}

// Clear is part of storage.RestrictionStore.
func (r *Restrictions) Clear(ctx context.Context) (int, error) {
	coll, closer := r.restrictions()
	defer closer()

	info, err := coll.RemoveAll(nil)
	if err != nil {
		return 0, coerceError(err, "clearing restrictions")
	}
	return info.Removed, nil
}

// Reserved is part of storage.RestrictionStore. Restrictions live in
// their own collection, so no sub-queue name needs reserving.
func (r *Restrictions) Reserved() set.Strings {
	return set.NewStrings()
}

// Ping is part of storage.RestrictionStore.
func (r *Restrictions) Ping(ctx context.Context) error {
	session := r.session.Copy()
	defer session.Close()
	return coerceError(session.Ping(), "pinging mongodb")
}

func (r *Restrictions) restrictions() (*mgo.Collection, func()) {
	session := r.session.Copy()
	return session.DB(r.database).C(restrictionsC), session.Close
}
