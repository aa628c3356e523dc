// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package params holds the wire types exchanged with the REST API.
package params

import "time"

// Error codes carried alongside error messages so clients can react
// without parsing message text.
const (
	CodeNotFound           = "not found"
	CodeUnauthorized       = "unauthorized access"
	CodeForbidden          = "forbidden"
	CodeBadRequest         = "bad request"
	CodeNotValid           = "not valid"
	CodeMethodNotAllowed   = "method not allowed"
	CodeAlreadyExists      = "already exists"
	CodeDuplicateUUID      = "duplicate uuid"
	CodeAlreadyAssigned    = "already assigned"
	CodeAssignmentMismatch = "assignment mismatch"
	CodeReserved           = "reserved sub-queue name"
	CodeUnavailable        = "unavailable"
	CodeTimeout            = "timeout"
)

// Error is the wire form of a failure.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error is part of the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ErrCode returns the error code of err if it carries one.
func ErrCode(err error) string {
	if perr, ok := err.(*Error); ok {
		return perr.Code
	}
	return ""
}

// Message is the wire form of a message record. Payload bytes travel
// base64 encoded, the standard JSON rendering of binary data.
type Message struct {
	UUID                string     `json:"uuid,omitempty"`
	SubQueue            string     `json:"subQueue"`
	Ordinal             int64      `json:"ordinal,omitempty"`
	AssignedTo          string     `json:"assignedTo,omitempty"`
	AssignmentTimestamp *time.Time `json:"assignmentTimestamp,omitempty"`
	ContentType         string     `json:"contentType,omitempty"`
	Payload             []byte     `json:"payload,omitempty"`
}

// MessageList wraps an ordered sub-queue listing.
type MessageList struct {
	Messages []Message `json:"messages"`
}

// AssignmentRequest names the message and owner of an assign or
// release operation.
type AssignmentRequest struct {
	UUID  string `json:"uuid"`
	Owner string `json:"owner"`
}

// RetainRequest names the records that retention keeps.
type RetainRequest struct {
	UUIDs []string `json:"uuids"`
}

// RemovedResult reports whether an operation removed anything.
type RemovedResult struct {
	Removed bool `json:"removed"`
}

// CountResult reports how many records an operation removed.
type CountResult struct {
	Removed int `json:"removed"`
}

// KeysResult lists sub-queue identifiers.
type KeysResult struct {
	SubQueues []string `json:"subQueues"`
}

// OwnersResult maps each owner to the sub-queues they hold assigned
// messages in.
type OwnersResult struct {
	Owners map[string][]string `json:"owners"`
}

// RestrictionList names the currently restricted sub-queues.
type RestrictionList struct {
	Restricted []string `json:"restricted"`
}

// TokenResult carries a freshly issued bearer token.
type TokenResult struct {
	Token string `json:"token"`
}

// HealthResult reports the liveness of the service and its stores.
type HealthResult struct {
	OK                 bool   `json:"ok"`
	BackendOK          bool   `json:"backend-ok"`
	RestrictionStoreOK bool   `json:"restriction-store-ok"`
	Mode               string `json:"mode"`
}
