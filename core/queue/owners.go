// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue

import "github.com/juju/collections/set"

// OwnersMap relates each owner to the set of sub-queues in which it
// currently holds at least one assigned message.
type OwnersMap map[string]set.Strings

// Add records that owner holds an assignment in subQueue.
func (m OwnersMap) Add(owner, subQueue string) {
	queues, ok := m[owner]
	if !ok {
		queues = set.NewStrings()
		m[owner] = queues
	}
	queues.Add(subQueue)
}

// Lists renders the map with sorted sub-queue name slices, the form
// used on the wire.
func (m OwnersMap) Lists() map[string][]string {
	out := make(map[string][]string, len(m))
	for owner, queues := range m {
		out[owner] = queues.SortedValues()
	}
	return out
}
