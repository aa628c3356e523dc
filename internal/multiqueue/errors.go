// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package multiqueue

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// ErrDuplicateUUID is the kind of every duplicate-message error.
	ErrDuplicateUUID = errors.ConstError("duplicate uuid")

	// ErrAlreadyAssigned is the kind reported when a message cannot
	// be assigned because another owner already holds it.
	ErrAlreadyAssigned = errors.ConstError("already assigned")

	// ErrAssignmentMismatch is the kind reported when a release names
	// an owner that does not hold the message.
	ErrAssignmentMismatch = errors.ConstError("assignment mismatch")
)

// DuplicateUUIDError rejects an add whose UUID is already present
// somewhere in the service. SubQueue names the current holder when it
// is known.
type DuplicateUUIDError struct {
	UUID     string
	SubQueue string
}

// Error is part of error.
func (e *DuplicateUUIDError) Error() string {
	if e.SubQueue == "" {
		return fmt.Sprintf("message %q already exists", e.UUID)
	}
	return fmt.Sprintf("message %q already exists in sub-queue %q", e.UUID, e.SubQueue)
}

// Is makes the error satisfy both ErrDuplicateUUID and the
// AlreadyExists kind.
func (e *DuplicateUUIDError) Is(target error) bool {
	return target == ErrDuplicateUUID || target == errors.AlreadyExists
}

// AlreadyAssignedError rejects an assignment of a message another
// owner currently holds. Owner may be empty when the holder changed
// while the request was in flight.
type AlreadyAssignedError struct {
	UUID  string
	Owner string
}

// Error is part of error.
func (e *AlreadyAssignedError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("message %q is already assigned", e.UUID)
	}
	return fmt.Sprintf("message %q is already assigned to %q", e.UUID, e.Owner)
}

// Is makes the error satisfy ErrAlreadyAssigned.
func (e *AlreadyAssignedError) Is(target error) bool {
	return target == ErrAlreadyAssigned
}

// AssignmentMismatchError rejects a release by someone other than the
// message's current owner. Held is empty when the message is not
// assigned at all.
type AssignmentMismatchError struct {
	UUID  string
	Owner string
	Held  string
}

// Error is part of error.
func (e *AssignmentMismatchError) Error() string {
	if e.Held == "" {
		return fmt.Sprintf("message %q is not assigned, cannot release as %q", e.UUID, e.Owner)
	}
	return fmt.Sprintf("message %q is held by %q, cannot release as %q", e.UUID, e.Held, e.Owner)
}

// Is makes the error satisfy ErrAssignmentMismatch.
func (e *AssignmentMismatchError) Is(target error) bool {
	return target == ErrAssignmentMismatch
}
