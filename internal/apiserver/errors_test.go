// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver_test

import (
	"net/http"

	"github.com/juju/errors"
	gc "gopkg.in/check.v1"

	"github.com/juju/mqueue/internal/apiserver"
	"github.com/juju/mqueue/internal/apiserver/params"
	"github.com/juju/mqueue/internal/multiqueue"
	"github.com/juju/mqueue/internal/restriction"
	"github.com/juju/mqueue/internal/storage"
)

type errorsSuite struct{}

var _ = gc.Suite(&errorsSuite{})

func (s *errorsSuite) TestServerErrorAndStatus(c *gc.C) {
	for i, t := range []struct {
		err    error
		code   string
		status int
	}{{
		err:    &multiqueue.DuplicateUUIDError{UUID: "a", SubQueue: "orders"},
		code:   params.CodeDuplicateUUID,
		status: http.StatusConflict,
	}, {
		err:    &multiqueue.AlreadyAssignedError{UUID: "a", Owner: "w1"},
		code:   params.CodeAlreadyAssigned,
		status: http.StatusConflict,
	}, {
		err:    &multiqueue.AssignmentMismatchError{UUID: "a", Owner: "w2", Held: "w1"},
		code:   params.CodeAssignmentMismatch,
		status: http.StatusConflict,
	}, {
		err:    errors.AlreadyExistsf("thing"),
		code:   params.CodeAlreadyExists,
		status: http.StatusConflict,
	}, {
		err:    &restriction.ReservedError{SubQueue: "restricted"},
		code:   params.CodeReserved,
		status: http.StatusBadRequest,
	}, {
		err:    errors.NotFoundf("thing"),
		code:   params.CodeNotFound,
		status: http.StatusNotFound,
	}, {
		err:    errors.Unauthorizedf("who are you"),
		code:   params.CodeUnauthorized,
		status: http.StatusUnauthorized,
	}, {
		err:    errors.Forbiddenf("not yours"),
		code:   params.CodeForbidden,
		status: http.StatusForbidden,
	}, {
		err:    errors.BadRequestf("mangled"),
		code:   params.CodeBadRequest,
		status: http.StatusBadRequest,
	}, {
		err:    errors.NotValidf("field"),
		code:   params.CodeNotValid,
		status: http.StatusBadRequest,
	}, {
		err:    errors.MethodNotAllowedf("no PATCH"),
		code:   params.CodeMethodNotAllowed,
		status: http.StatusMethodNotAllowed,
	}, {
		err:    errors.Annotate(storage.ErrUnavailable, "dialling backend"),
		code:   params.CodeUnavailable,
		status: http.StatusServiceUnavailable,
	}, {
		err:    errors.Timeoutf("waiting for backend"),
		code:   params.CodeTimeout,
		status: http.StatusServiceUnavailable,
	}, {
		err:    errors.New("boom"),
		code:   "",
		status: http.StatusInternalServerError,
	}} {
		c.Logf("test %d: %v", i, t.err)
		perr, status := apiserver.ServerErrorAndStatus(t.err)
		c.Check(status, gc.Equals, t.status)
		c.Check(perr.Code, gc.Equals, t.code)
		c.Check(perr.Message, gc.Equals, t.err.Error())
	}
}

func (s *errorsSuite) TestServerErrorNil(c *gc.C) {
	perr, status := apiserver.ServerErrorAndStatus(nil)
	c.Check(perr, gc.IsNil)
	c.Check(status, gc.Equals, http.StatusOK)
}

func (s *errorsSuite) TestDuplicateBeatsAlreadyExists(c *gc.C) {
	// The data-carrying duplicate error satisfies AlreadyExists too;
	// the specific code must win.
	err := &multiqueue.DuplicateUUIDError{UUID: "a", SubQueue: "orders"}
	perr, _ := apiserver.ServerErrorAndStatus(err)
	c.Check(perr.Code, gc.Equals, params.CodeDuplicateUUID)
}

func (s *errorsSuite) TestReservedBeatsNotValid(c *gc.C) {
	err := &restriction.ReservedError{SubQueue: "restricted"}
	perr, _ := apiserver.ServerErrorAndStatus(err)
	c.Check(perr.Code, gc.Equals, params.CodeReserved)
}
