// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mongostore keeps the queue in MongoDB. All messages live in
// one collection keyed by UUID, with a unique compound index making
// the server reject a second holder of any (sub-queue, ordinal) pair.
// Every operation runs on its own copy of the dialled session, so a
// broken socket poisons one call rather than the store.
package mongostore

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/core/queue"
	"github.com/juju/mqueue/internal/storage"
)

const (
	messagesC     = "messages"
	restrictionsC = "restrictions"
)

// Store implements storage.Store on a MongoDB database.
type Store struct {
	session  *mgo.Session
	database string
}

// New returns a store over the given database. The session is owned
// by the caller; the store copies it per operation and never closes
// the original.
func New(session *mgo.Session, database string) (*Store, error) {
	if session == nil {
		return nil, errors.NotValidf("nil session")
	}
	if database == "" {
		return nil, errors.NotValidf("empty database name")
	}
	return &Store{session: session, database: database}, nil
}

// EnsureIndexes creates the indexes the store relies on. It is safe
// to call on every startup.
func (s *Store) EnsureIndexes() error {
	coll, closer := s.messages()
	defer closer()

	for _, index := range []mgo.Index{
		{Key: []string{"sub-queue", "ordinal"}, Unique: true},
		{Key: []string{"sub-queue", "assigned-to"}},
	} {
		if err := coll.EnsureIndex(index); err != nil {
			return coerceError(err, "ensuring index %v", index.Key)
		}
	}
	return nil
}

// Ordinality is part of storage.Store.
func (s *Store) Ordinality() queue.Ordinality {
	return queue.OrdinalityCoreAssigned
}

// Append is part of storage.Store. A duplicate key error does not say
// which unique index tripped in a form worth parsing, so the store
// re-queries for the UUID to tell a duplicate message from an ordinal
// collision.
func (s *Store) Append(ctx context.Context, m message.Message) (message.Message, error) {
	coll, closer := s.messages()
	defer closer()

	err := coll.Insert(docFromMessage(m))
	if err == nil {
		return m, nil
	}
	if !mgo.IsDup(err) {
		return message.Message{}, coerceError(err, "appending message %q", m.UUID)
	}

	n, err := coll.FindId(m.UUID).Count()
	if err != nil {
		return message.Message{}, coerceError(err, "appending message %q", m.UUID)
	}
	if n > 0 {
		return message.Message{}, errors.AlreadyExistsf("message %q", m.UUID)
	}
	return message.Message{}, errors.Annotatef(storage.ErrOrdinalConflict,
		"ordinal %d in sub-queue %q", m.Ordinal, m.SubQueue)
}

// RemoveByUUID is part of storage.Store.
func (s *Store) RemoveByUUID(ctx context.Context, uuid string) (int, error) {
	coll, closer := s.messages()
	defer closer()

	info, err := coll.RemoveAll(bson.M{"_id": uuid})
	if err != nil {
		return 0, coerceError(err, "removing message %q", uuid)
	}
	return info.Removed, nil
}

// UpdateByUUID is part of storage.Store. Only the assignment state
// and payload are written; the sub-queue and ordinal fields of the
// stored document are left untouched.
func (s *Store) UpdateByUUID(ctx context.Context, uuid string, m message.Message) (bool, error) {
	coll, closer := s.messages()
	defer closer()

	err := coll.UpdateId(uuid, setMutableFields(m))
	if err == mgo.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, coerceError(err, "updating message %q", uuid)
	}
	return true, nil
}

// CompareAndSwapOwner is part of storage.CompareAndSwapper. The
// selector carries the expected assignee, so the server applies the
// update only while that assignment still stands.
func (s *Store) CompareAndSwapOwner(ctx context.Context, uuid, expect string, m message.Message) (bool, error) {
	coll, closer := s.messages()
	defer closer()

	err := coll.Update(bson.M{"_id": uuid, "assigned-to": expect}, setMutableFields(m))
	if err == mgo.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, coerceError(err, "claiming message %q", uuid)
	}
	return true, nil
}

// FindByUUID is part of storage.Store.
func (s *Store) FindByUUID(ctx context.Context, uuid string) (message.Message, error) {
	coll, closer := s.messages()
	defer closer()

	var doc messageDoc
	err := coll.FindId(uuid).One(&doc)
	if err == mgo.ErrNotFound {
		return message.Message{}, errors.NotFoundf("message %q", uuid)
	} else if err != nil {
		return message.Message{}, coerceError(err, "finding message %q", uuid)
	}
	return doc.toMessage(), nil
}

// FindSubQueueOf is part of storage.Store.
func (s *Store) FindSubQueueOf(ctx context.Context, uuid string) (string, error) {
	coll, closer := s.messages()
	defer closer()

	var doc messageDoc
	err := coll.FindId(uuid).Select(bson.M{"sub-queue": 1}).One(&doc)
	if err == mgo.ErrNotFound {
		return "", errors.NotFoundf("message %q", uuid)
	} else if err != nil {
		return "", coerceError(err, "finding message %q", uuid)
	}
	return doc.SubQueue, nil
}

// SubQueue is part of storage.Store.
func (s *Store) SubQueue(ctx context.Context, name string, f message.Filter) ([]message.Message, error) {
	coll, closer := s.messages()
	defer closer()

	var docs []messageDoc
	if err := coll.Find(selectorFor(name, f)).Sort("ordinal", "_id").All(&docs); err != nil {
		return nil, coerceError(err, "reading sub-queue %q", name)
	}

	out := make([]message.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toMessage())
	}
	return out, nil
}

// MaxOrdinalOf is part of storage.Store.
func (s *Store) MaxOrdinalOf(ctx context.Context, name string) (int64, error) {
	coll, closer := s.messages()
	defer closer()

	var doc messageDoc
	err := coll.Find(bson.M{"sub-queue": name}).
		Select(bson.M{"ordinal": 1}).
		Sort("-ordinal").
		One(&doc)
	if err == mgo.ErrNotFound {
		return 0, nil
	} else if err != nil {
		return 0, coerceError(err, "reading max ordinal of %q", name)
	}
	return doc.Ordinal, nil
}

// SizeOf is part of storage.Store.
func (s *Store) SizeOf(ctx context.Context, name string) (int, error) {
	coll, closer := s.messages()
	defer closer()

	n, err := coll.Find(bson.M{"sub-queue": name}).Count()
	if err != nil {
		return 0, coerceError(err, "sizing sub-queue %q", name)
	}
	return n, nil
}

// SubQueues is part of storage.Store.
func (s *Store) SubQueues(ctx context.Context) (set.Strings, error) {
	coll, closer := s.messages()
	defer closer()

	var names []string
	if err := coll.Find(nil).Distinct("sub-queue", &names); err != nil {
		return nil, coerceError(err, "listing sub-queues")
	}
	return set.NewStrings(names...), nil
}

// DeleteSubQueue is part of storage.Store.
func (s *Store) DeleteSubQueue(ctx context.Context, name string) (int, error) {
	coll, closer := s.messages()
	defer closer()

	info, err := coll.RemoveAll(bson.M{"sub-queue": name})
	if err != nil {
		return 0, coerceError(err, "clearing sub-queue %q", name)
	}
	return info.Removed, nil
}

// DeleteAll is part of storage.Store.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	coll, closer := s.messages()
	defer closer()

	info, err := coll.RemoveAll(nil)
	if err != nil {
		return 0, coerceError(err, "clearing all sub-queues")
	}
	return info.Removed, nil
}

// Ping is part of storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	session := s.session.Copy()
	defer session.Close()
	return coerceError(session.Ping(), "pinging mongodb")
}

// messages returns the message collection on a fresh session copy,
// with a closer for that session.
func (s *Store) messages() (*mgo.Collection, func()) {
	session := s.session.Copy()
	return session.DB(s.database).C(messagesC), session.Close
}

func selectorFor(name string, f message.Filter) bson.M {
	sel := bson.M{"sub-queue": name}
	if f.AssignedTo != "" {
		sel["assigned-to"] = f.AssignedTo
	} else if f.UnassignedOnly {
		sel["assigned-to"] = ""
	}
	return sel
}

// setMutableFields builds the update document for the fields a stored
// message is allowed to change.
func setMutableFields(m message.Message) bson.M {
	doc := docFromMessage(m)
	return bson.M{"$set": bson.M{
		"assigned-to":  doc.AssignedTo,
		"assigned-at":  doc.AssignedAt,
		"content-type": doc.ContentType,
		"payload":      doc.Payload,
	}}
}

// coerceError maps driver failures onto the storage error kinds:
// deadline expiry becomes a timeout, lost or unreachable servers
// become ErrUnavailable, everything else is annotated and passed
// through.
func coerceError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeout(err, msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTimeout(err, msg)
	}
	if errors.Is(err, io.EOF) || errors.As(err, &netErr) ||
		strings.Contains(err.Error(), "no reachable servers") {
		return errors.Annotate(fmt.Errorf("%v%w", err, errors.Hide(storage.ErrUnavailable)), msg)
	}
	return errors.Annotate(err, msg)
}
