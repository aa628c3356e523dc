// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package message

import "bytes"

// Payload is the body of a message. The service never interprets the
// data; it stores and returns the bytes and the declared content type
// exactly as supplied.
type Payload struct {
	Data        []byte
	ContentType string
}

// IsZero reports whether the payload carries neither data nor a
// content type.
func (p Payload) IsZero() bool {
	return len(p.Data) == 0 && p.ContentType == ""
}

// Equal reports whether two payloads carry the same bytes and content
// type.
func (p Payload) Equal(other Payload) bool {
	return p.ContentType == other.ContentType && bytes.Equal(p.Data, other.Data)
}
