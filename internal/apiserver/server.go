// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package apiserver exposes the message queue service over REST. A
// bearer-token filter gates sub-queue scoped operations according to
// the configured access mode; a static admin token gates the
// administrative surface.
package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juju/mqueue/core/authmode"
	"github.com/juju/mqueue/internal/multiqueue"
	"github.com/juju/mqueue/internal/restriction"
	"github.com/juju/mqueue/internal/token"
)

var logger = loggo.GetLogger("mqueue.apiserver")

// Config holds the dependencies of a Handler.
type Config struct {
	// Queue serves the message operations.
	Queue *multiqueue.Manager

	// Restrictions tracks restricted and reserved sub-queue names.
	Restrictions *restriction.Registry

	// Tokens issues and verifies sub-queue bearer tokens.
	Tokens *token.Provider

	// Mode selects how sub-queue scoped requests are authorised.
	Mode authmode.Mode

	// AdminToken is the static bearer token for the administrative
	// surface. Empty disables that surface.
	AdminToken string

	// NonSecretSettings is echoed by the settings endpoint. It must
	// not contain secrets.
	NonSecretSettings map[string]interface{}

	// MetricsRegistry receives the request metrics and backs the
	// metrics endpoint.
	MetricsRegistry *prometheus.Registry
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Queue == nil {
		return errors.NotValidf("nil Queue")
	}
	if c.Restrictions == nil {
		return errors.NotValidf("nil Restrictions")
	}
	if c.Tokens == nil {
		return errors.NotValidf("nil Tokens")
	}
	if _, err := authmode.Parse(string(c.Mode)); err != nil {
		return errors.Trace(err)
	}
	if c.MetricsRegistry == nil {
		return errors.NotValidf("nil MetricsRegistry")
	}
	return nil
}

// Handler is the REST surface of the message queue service.
type Handler struct {
	router       *mux.Router
	queue        *multiqueue.Manager
	restrictions *restriction.Registry
	tokens       *token.Provider
	auth         authorizer
	adminToken   string
	settings     map[string]interface{}
	metrics      *Collector
}

// NewHandler returns a Handler serving the routes of the message queue
// REST API.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	settings := config.NonSecretSettings
	if settings == nil {
		settings = make(map[string]interface{})
	}
	h := &Handler{
		queue:        config.Queue,
		restrictions: config.Restrictions,
		tokens:       config.Tokens,
		auth: authorizer{
			mode:         config.Mode,
			restrictions: config.Restrictions,
		},
		adminToken: config.AdminToken,
		settings:   settings,
		metrics:    NewMetricsCollector(),
	}
	if err := config.MetricsRegistry.Register(h.metrics); err != nil {
		return nil, errors.Annotate(err, "registering API metrics")
	}
	h.router = h.newRouter(config.MetricsRegistry)
	return h, nil
}

// ServeHTTP is part of http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) newRouter(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)

	// Message operations.
	r.Handle("/message", h.scoped(h.serveAddMessage)).Methods("POST")
	r.Handle("/message/{uuid}", h.scoped(h.serveGetMessage)).Methods("GET")
	r.Handle("/message/{uuid}", h.scoped(h.servePersistMessage)).Methods("PUT")
	r.Handle("/message/{uuid}", h.scoped(h.serveRemoveMessage)).Methods("DELETE")

	// Sub-queue operations.
	r.Handle("/queue/{subQueue}/next", h.scoped(h.servePoll)).Methods("GET")
	r.Handle("/queue/{subQueue}/peek", h.scoped(h.servePeek)).Methods("GET")
	r.Handle("/queue/{subQueue}/assign", h.scoped(h.serveAssign)).Methods("POST")
	r.Handle("/queue/{subQueue}/release", h.scoped(h.serveRelease)).Methods("POST")
	r.Handle("/queue/{subQueue}", h.scoped(h.serveListSubQueue)).Methods("GET")
	r.Handle("/queue/{subQueue}", h.scoped(h.serveClearSubQueue)).Methods("DELETE")

	// Service-wide introspection.
	r.Handle("/keys", h.open(h.serveKeys)).Methods("GET")
	r.Handle("/owners", h.open(h.serveOwners)).Methods("GET")
	r.Handle("/restriction", h.open(h.serveListRestrictions)).Methods("GET")
	r.Handle("/health", h.open(h.serveHealth)).Methods("GET")
	r.Handle("/settings", h.open(h.serveSettings)).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Administrative surface.
	r.Handle("/retain", h.admin(h.serveRetain)).Methods("POST")
	r.Handle("/queues", h.admin(h.serveClearAll)).Methods("DELETE")
	r.Handle("/auth/{subQueue}", h.admin(h.serveIssueToken)).Methods("POST")
	r.Handle("/restriction/{subQueue}", h.admin(h.serveAddRestriction)).Methods("PUT")
	r.Handle("/restriction/{subQueue}", h.admin(h.serveRemoveRestriction)).Methods("DELETE")
	r.Handle("/restriction", h.admin(h.serveClearRestrictions)).Methods("DELETE")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sendJSONError(w, req, errors.NotFoundf("path %q", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sendJSONError(w, req, errors.MethodNotAllowedf("method %s on %q", req.Method, req.URL.Path))
	})
	return r
}

// failableHandlerFunc is a handler that reports failure as an error
// instead of writing it to the response itself.
type failableHandlerFunc func(http.ResponseWriter, *http.Request) error

// open serves f without any access checks.
func (h *Handler) open(f failableHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			sendJSONError(w, r, err)
		}
	})
}

// scoped serves f behind the bearer-token filter. The verified claim,
// if any, rides in the request context; handlers match it against
// their target sub-queue through the authorizer.
func (h *Handler) scoped(f failableHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := h.claimContext(r)
		if err != nil {
			sendJSONError(w, r, err)
			return
		}
		if err := f(w, r.WithContext(ctx)); err != nil {
			sendJSONError(w, r, err)
		}
	})
}

// admin serves f behind the static admin token check.
func (h *Handler) admin(f failableHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.checkAdmin(r); err != nil {
			sendJSONError(w, r, err)
			return
		}
		if err := f(w, r); err != nil {
			sendJSONError(w, r, err)
		}
	})
}

// sendStatusAndJSON sends a JSON-encoded response with the given
// status code.
func sendStatusAndJSON(w http.ResponseWriter, statusCode int, response interface{}) error {
	body, err := json.Marshal(response)
	if err != nil {
		return errors.Annotate(err, "marshalling response")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// sendJSONError sends a JSON-encoded error response under the status
// code the error kind maps to.
func sendJSONError(w http.ResponseWriter, req *http.Request, err error) {
	logger.Debugf("returning error from %s %s: %s", req.Method, req.URL, errors.Details(err))
	perr, status := ServerErrorAndStatus(err)
	if err := sendStatusAndJSON(w, status, perr); err != nil {
		logger.Errorf("cannot return error to client: %v", err)
	}
}

// readJSON decodes the request body into out.
func readJSON(r *http.Request, out interface{}) error {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errors.NewBadRequest(err, "invalid request body")
	}
	return nil
}
