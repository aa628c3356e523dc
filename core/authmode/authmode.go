// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package authmode defines the service-wide access control modes.
package authmode

import "github.com/juju/errors"

// Mode selects how sub-queue scoped requests are authorised.
type Mode string

const (
	// None disables token checking entirely; every request passes.
	None Mode = "none"

	// Hybrid leaves unrestricted sub-queues open and demands a token
	// naming the target sub-queue for restricted ones.
	Hybrid Mode = "hybrid"

	// Restricted demands a token naming the target sub-queue for
	// every sub-queue scoped request.
	Restricted Mode = "restricted"
)

// Parse returns the Mode named by s, or an error satisfying
// errors.NotValid for anything else.
func Parse(s string) (Mode, error) {
	switch Mode(s) {
	case None, Hybrid, Restricted:
		return Mode(s), nil
	}
	return "", errors.NotValidf("access control mode %q", s)
}

// RequiresToken reports whether the mode can ever demand a bearer
// token, which in turn requires a verification secret to be set.
func (m Mode) RequiresToken() bool {
	return m == Hybrid || m == Restricted
}
