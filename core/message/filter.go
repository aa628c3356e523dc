// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package message

// Filter narrows a sub-queue listing. The zero filter matches every
// message.
type Filter struct {
	// AssignedTo, when non-empty, matches only messages assigned to
	// that owner.
	AssignedTo string

	// UnassignedOnly matches only messages without an owner. It is
	// ignored when AssignedTo is set.
	UnassignedOnly bool
}

// Match reports whether the message satisfies the filter.
func (f Filter) Match(m Message) bool {
	if f.AssignedTo != "" {
		return m.AssignedTo == f.AssignedTo
	}
	if f.UnassignedOnly {
		return !m.Assigned()
	}
	return true
}
