// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue

// Ordinality says who hands out message ordinals for a backend.
type Ordinality string

const (
	// OrdinalityIntrinsic means the backend produces ordinals itself,
	// typically from a storage-native sequence, and ignores any
	// ordinal supplied on append.
	OrdinalityIntrinsic Ordinality = "intrinsic"

	// OrdinalityCoreAssigned means the backend stores whatever
	// ordinal it is given and the queue core computes the next one
	// per sub-queue before appending.
	OrdinalityCoreAssigned Ordinality = "core-assigned"
)
