// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"strings"

	"github.com/juju/errors"
	"github.com/mattn/go-sqlite3"
)

// IsErrRetryable reports whether a transaction that failed with this
// error can be expected to succeed on a rerun. That covers lock
// contention and connection hiccups, not constraint violations.
func IsErrRetryable(err error) bool {
	if err == nil {
		return false
	}

	var errNo sqlite3.ErrNo
	if errors.As(err, &errNo) {
		return errNo == sqlite3.ErrBusy || errNo == sqlite3.ErrLocked
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	// Some failures arrive flattened into strings by the driver or
	// by layers that do not preserve the original error value.
	msg := err.Error()
	for _, match := range []string{
		"database is locked",
		"cannot start a transaction within a transaction",
		"bad connection",
		"checkpoint in progress",
	} {
		if strings.Contains(msg, match) {
			return true
		}
	}
	return false
}

// IsErrConstraintUnique reports whether the error is a unique
// constraint violation, the shape a duplicate key insert fails with.
func IsErrConstraintUnique(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
