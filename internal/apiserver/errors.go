// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"net/http"

	"github.com/juju/errors"

	"github.com/juju/mqueue/internal/apiserver/params"
	"github.com/juju/mqueue/internal/multiqueue"
	"github.com/juju/mqueue/internal/restriction"
	"github.com/juju/mqueue/internal/storage"
)

// ServerError converts err into its wire form.
func ServerError(err error) *params.Error {
	perr, _ := ServerErrorAndStatus(err)
	return perr
}

// ServerErrorAndStatus converts err into its wire form together with
// the HTTP status code to send it under. Data-carrying kinds are
// checked before the generic kinds they also satisfy.
func ServerErrorAndStatus(err error) (*params.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}
	var code string
	var status int
	switch {
	case errors.Is(err, multiqueue.ErrDuplicateUUID):
		code, status = params.CodeDuplicateUUID, http.StatusConflict
	case errors.Is(err, multiqueue.ErrAlreadyAssigned):
		code, status = params.CodeAlreadyAssigned, http.StatusConflict
	case errors.Is(err, multiqueue.ErrAssignmentMismatch):
		code, status = params.CodeAssignmentMismatch, http.StatusConflict
	case errors.Is(err, errors.AlreadyExists):
		code, status = params.CodeAlreadyExists, http.StatusConflict
	case errors.Is(err, restriction.ErrReserved):
		code, status = params.CodeReserved, http.StatusBadRequest
	case errors.Is(err, errors.NotFound):
		code, status = params.CodeNotFound, http.StatusNotFound
	case errors.Is(err, errors.Unauthorized):
		code, status = params.CodeUnauthorized, http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		code, status = params.CodeForbidden, http.StatusForbidden
	case errors.Is(err, errors.BadRequest):
		code, status = params.CodeBadRequest, http.StatusBadRequest
	case errors.Is(err, errors.NotValid):
		code, status = params.CodeNotValid, http.StatusBadRequest
	case errors.Is(err, errors.MethodNotAllowed):
		code, status = params.CodeMethodNotAllowed, http.StatusMethodNotAllowed
	case errors.Is(err, storage.ErrUnavailable):
		code, status = params.CodeUnavailable, http.StatusServiceUnavailable
	case errors.Is(err, errors.Timeout):
		code, status = params.CodeTimeout, http.StatusServiceUnavailable
	default:
		code, status = "", http.StatusInternalServerError
	}
	return &params.Error{Message: err.Error(), Code: code}, status
}
