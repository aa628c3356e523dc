// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/mqueue/core/message"
	"github.com/juju/mqueue/internal/apiserver/params"
)

// checkTarget refuses reserved sub-queue names and then authorises
// access to the target sub-queue.
func (h *Handler) checkTarget(ctx context.Context, subQueue string) error {
	if err := h.restrictions.CheckUsable(subQueue); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(h.auth.checkSubQueue(ctx, subQueue))
}

func (h *Handler) serveAddMessage(w http.ResponseWriter, r *http.Request) error {
	var wire params.Message
	if err := readJSON(r, &wire); err != nil {
		return errors.Trace(err)
	}
	if err := h.checkTarget(r.Context(), wire.SubQueue); err != nil {
		return errors.Trace(err)
	}
	added, err := h.queue.Add(r.Context(), messageFromWire(wire))
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusCreated, wireFromMessage(added))
}

func (h *Handler) serveGetMessage(w http.ResponseWriter, r *http.Request) error {
	if err := h.auth.checkAny(r.Context()); err != nil {
		return errors.Trace(err)
	}
	m, err := h.queue.GetMessageByUUID(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		return errors.Trace(err)
	}
	if err := h.auth.checkSubQueue(r.Context(), m.SubQueue); err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, wireFromMessage(m))
}

func (h *Handler) servePersistMessage(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["uuid"]
	var wire params.Message
	if err := readJSON(r, &wire); err != nil {
		return errors.Trace(err)
	}
	if wire.UUID != "" && wire.UUID != id {
		return errors.BadRequestf("uuid %q in body does not match path", wire.UUID)
	}
	if err := h.auth.checkAny(r.Context()); err != nil {
		return errors.Trace(err)
	}
	existing, err := h.queue.GetMessageByUUID(r.Context(), id)
	if err != nil {
		return errors.Trace(err)
	}
	if err := h.auth.checkSubQueue(r.Context(), existing.SubQueue); err != nil {
		return errors.Trace(err)
	}
	if wire.SubQueue != "" && wire.SubQueue != existing.SubQueue {
		return errors.NotValidf("moving message %q to sub-queue %q", id, wire.SubQueue)
	}
	update := messageFromWire(wire)
	update.UUID = id
	persisted, err := h.queue.Persist(r.Context(), update)
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, wireFromMessage(persisted))
}

func (h *Handler) serveRemoveMessage(w http.ResponseWriter, r *http.Request) error {
	if err := h.auth.checkAny(r.Context()); err != nil {
		return errors.Trace(err)
	}
	id := mux.Vars(r)["uuid"]
	existing, err := h.queue.GetMessageByUUID(r.Context(), id)
	if errors.Is(err, errors.NotFound) {
		return sendStatusAndJSON(w, http.StatusOK, params.RemovedResult{})
	} else if err != nil {
		return errors.Trace(err)
	}
	if err := h.auth.checkSubQueue(r.Context(), existing.SubQueue); err != nil {
		return errors.Trace(err)
	}
	removed, err := h.queue.Remove(r.Context(), id)
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.RemovedResult{Removed: removed})
}

func (h *Handler) servePoll(w http.ResponseWriter, r *http.Request) error {
	subQueue := mux.Vars(r)["subQueue"]
	if err := h.checkTarget(r.Context(), subQueue); err != nil {
		return errors.Trace(err)
	}
	m, ok, err := h.queue.Poll(r.Context(), subQueue)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	return sendStatusAndJSON(w, http.StatusOK, wireFromMessage(m))
}

func (h *Handler) servePeek(w http.ResponseWriter, r *http.Request) error {
	subQueue := mux.Vars(r)["subQueue"]
	if err := h.checkTarget(r.Context(), subQueue); err != nil {
		return errors.Trace(err)
	}
	m, ok, err := h.queue.Peek(r.Context(), subQueue)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	return sendStatusAndJSON(w, http.StatusOK, wireFromMessage(m))
}

func (h *Handler) serveListSubQueue(w http.ResponseWriter, r *http.Request) error {
	subQueue := mux.Vars(r)["subQueue"]
	if err := h.checkTarget(r.Context(), subQueue); err != nil {
		return errors.Trace(err)
	}
	var filter message.Filter
	query := r.URL.Query()
	filter.AssignedTo = query.Get("assignedTo")
	if raw := query.Get("unassignedOnly"); raw != "" {
		unassigned, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.BadRequestf("invalid unassignedOnly value %q", raw)
		}
		filter.UnassignedOnly = unassigned
	}
	messages, err := h.queue.GetForSubQueue(r.Context(), subQueue, filter)
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.MessageList{
		Messages: wireFromMessages(messages),
	})
}

func (h *Handler) serveClearSubQueue(w http.ResponseWriter, r *http.Request) error {
	subQueue := mux.Vars(r)["subQueue"]
	if err := h.checkTarget(r.Context(), subQueue); err != nil {
		return errors.Trace(err)
	}
	removed, err := h.queue.ClearFor(r.Context(), subQueue)
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.CountResult{Removed: removed})
}

// resolveInSubQueue checks that the message named by the request body
// lives in the sub-queue named by the request path.
func (h *Handler) resolveInSubQueue(ctx context.Context, id, subQueue string) error {
	if id == "" {
		return errors.BadRequestf("missing uuid in request body")
	}
	stored, ok, err := h.queue.ContainsUUID(ctx, id)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok || stored != subQueue {
		return errors.NotFoundf("message %q in sub-queue %q", id, subQueue)
	}
	return nil
}

func (h *Handler) serveAssign(w http.ResponseWriter, r *http.Request) error {
	subQueue := mux.Vars(r)["subQueue"]
	var req params.AssignmentRequest
	if err := readJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	if err := h.checkTarget(r.Context(), subQueue); err != nil {
		return errors.Trace(err)
	}
	if err := h.resolveInSubQueue(r.Context(), req.UUID, subQueue); err != nil {
		return errors.Trace(err)
	}
	assigned, err := h.queue.Assign(r.Context(), req.UUID, req.Owner)
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, wireFromMessage(assigned))
}

func (h *Handler) serveRelease(w http.ResponseWriter, r *http.Request) error {
	subQueue := mux.Vars(r)["subQueue"]
	var req params.AssignmentRequest
	if err := readJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	if err := h.checkTarget(r.Context(), subQueue); err != nil {
		return errors.Trace(err)
	}
	if err := h.resolveInSubQueue(r.Context(), req.UUID, subQueue); err != nil {
		return errors.Trace(err)
	}
	released, err := h.queue.Release(r.Context(), req.UUID, req.Owner)
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, wireFromMessage(released))
}

func (h *Handler) serveKeys(w http.ResponseWriter, r *http.Request) error {
	var includeEmpty bool
	if raw := r.URL.Query().Get("includeEmpty"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.BadRequestf("invalid includeEmpty value %q", raw)
		}
		includeEmpty = parsed
	}
	keys, err := h.queue.Keys(r.Context(), includeEmpty)
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.KeysResult{
		SubQueues: keys.SortedValues(),
	})
}

func (h *Handler) serveOwners(w http.ResponseWriter, r *http.Request) error {
	owners, err := h.queue.OwnersMap(r.Context(), r.URL.Query().Get("subQueue"))
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.OwnersResult{
		Owners: owners.Lists(),
	})
}

func (h *Handler) serveRetain(w http.ResponseWriter, r *http.Request) error {
	var req params.RetainRequest
	if err := readJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	removed, err := h.queue.RetainAll(r.Context(), set.NewStrings(req.UUIDs...))
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.RemovedResult{Removed: removed})
}

func (h *Handler) serveClearAll(w http.ResponseWriter, r *http.Request) error {
	removed, err := h.queue.ClearAll(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.CountResult{Removed: removed})
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) error {
	result := params.HealthResult{
		BackendOK:          true,
		RestrictionStoreOK: true,
		Mode:               string(h.auth.mode),
	}
	if err := h.queue.HealthCheck(r.Context()); err != nil {
		logger.Warningf("message store health check failed: %v", err)
		result.BackendOK = false
	}
	if err := h.restrictions.HealthCheck(r.Context()); err != nil {
		logger.Warningf("restriction store health check failed: %v", err)
		result.RestrictionStoreOK = false
	}
	result.OK = result.BackendOK && result.RestrictionStoreOK
	status := http.StatusOK
	if !result.OK {
		status = http.StatusServiceUnavailable
	}
	return sendStatusAndJSON(w, status, result)
}

func (h *Handler) serveSettings(w http.ResponseWriter, r *http.Request) error {
	return sendStatusAndJSON(w, http.StatusOK, h.settings)
}

func (h *Handler) serveIssueToken(w http.ResponseWriter, r *http.Request) error {
	subQueue := mux.Vars(r)["subQueue"]
	if err := h.restrictions.CheckUsable(subQueue); err != nil {
		return errors.Trace(err)
	}
	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return errors.BadRequestf("invalid ttl value %q", raw)
		}
		ttl = time.Duration(seconds) * time.Second
	}
	issued, err := h.tokens.Issue(subQueue, ttl)
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.TokenResult{Token: issued})
}

func (h *Handler) serveAddRestriction(w http.ResponseWriter, r *http.Request) error {
	subQueue := mux.Vars(r)["subQueue"]
	if err := h.restrictions.AddRestriction(r.Context(), subQueue); err != nil {
		return errors.Trace(err)
	}
	restricted, err := h.restrictions.ListRestricted(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.RestrictionList{
		Restricted: restricted.SortedValues(),
	})
}

func (h *Handler) serveRemoveRestriction(w http.ResponseWriter, r *http.Request) error {
	removed, err := h.restrictions.RemoveRestriction(r.Context(), mux.Vars(r)["subQueue"])
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.RemovedResult{Removed: removed})
}

func (h *Handler) serveClearRestrictions(w http.ResponseWriter, r *http.Request) error {
	removed, err := h.restrictions.ClearRestrictions(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.CountResult{Removed: removed})
}

func (h *Handler) serveListRestrictions(w http.ResponseWriter, r *http.Request) error {
	restricted, err := h.restrictions.ListRestricted(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, params.RestrictionList{
		Restricted: restricted.SortedValues(),
	})
}

// wireFromMessage converts a message to its wire form.
func wireFromMessage(m message.Message) params.Message {
	wire := params.Message{
		UUID:        m.UUID,
		SubQueue:    m.SubQueue,
		Ordinal:     m.Ordinal,
		AssignedTo:  m.AssignedTo,
		ContentType: m.Payload.ContentType,
		Payload:     m.Payload.Data,
	}
	if m.AssignedAt != nil {
		at := m.AssignedAt.UTC()
		wire.AssignmentTimestamp = &at
	}
	return wire
}

func wireFromMessages(messages []message.Message) []params.Message {
	wires := make([]params.Message, len(messages))
	for i, m := range messages {
		wires[i] = wireFromMessage(m)
	}
	return wires
}

// messageFromWire converts an incoming wire record to a message. The
// ordinal is never taken from the wire; the service assigns it.
func messageFromWire(wire params.Message) message.Message {
	return message.Message{
		UUID:       wire.UUID,
		SubQueue:   wire.SubQueue,
		AssignedTo: wire.AssignedTo,
		AssignedAt: wire.AssignmentTimestamp,
		Payload: message.Payload{
			Data:        wire.Payload,
			ContentType: wire.ContentType,
		},
	}
}
