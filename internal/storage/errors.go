// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import "github.com/juju/errors"

const (
	// ErrOrdinalConflict reports that a core-assigned append lost a
	// race: another message of the same sub-queue claimed the ordinal
	// first. Callers recompute the ordinal and try again.
	ErrOrdinalConflict = errors.ConstError("ordinal already taken")

	// ErrUnavailable reports that the backing store cannot be
	// reached. It wraps driver connectivity failures so callers do
	// not have to know each driver's error shapes.
	ErrUnavailable = errors.ConstError("storage unavailable")
)
