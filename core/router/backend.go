// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package router

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/modelbind/core/access"
	"github.com/relabs-tech/modelbind/core/apierror"
	"github.com/relabs-tech/modelbind/core/logger"
	"github.com/relabs-tech/modelbind/core/orm"
)

// Builder is the input for a backend
type Builder struct {
	// Schemas are the top-level resource nodes
	Schemas []*Schema
	// Store is the row store all routes operate on
	Store orm.Store
	// TokenMiddleware, when set, authenticates requests before routing.
	// Built with access.NewMiddleware.
	TokenMiddleware mux.MiddlewareFunc
	// Router is the router to mount on. A new one is created when nil.
	Router *mux.Router
}

// Backend is a mounted set of generated resource routes
type Backend struct {
	router *mux.Router
}

// New compiles and mounts all schema nodes. Any configuration mistake is
// returned here, so a broken declaration fails the service at startup.
func New(b *Builder) (*Backend, error) {
	router := b.Router
	if router == nil {
		router = mux.NewRouter()
	}
	logger.AddRequestID(router)
	if b.TokenMiddleware != nil {
		router.Use(b.TokenMiddleware)
	}

	router.HandleFunc("/access", accessHandler).Methods(http.MethodGet)

	for _, s := range b.Schemas {
		if err := s.mount(router, b.Store); err != nil {
			return nil, err
		}
	}
	return &Backend{router: router}, nil
}

// MustNew is New for static wiring, it panics on configuration errors
func MustNew(b *Builder) *Backend {
	backend, err := New(b)
	if err != nil {
		panic(err)
	}
	return backend
}

// Router returns the underlying router, for mounting additional routes
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Handler returns the outward-facing handler with compression and CORS
func (b *Backend) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}),
	)
	return handlers.RecoveryHandler()(cors(handlers.CompressHandler(b.router)))
}

// accessHandler returns the caller's resolved access, handy for debugging
// token and scope setups
func accessHandler(w http.ResponseWriter, r *http.Request) {
	acc := access.FromContext(r.Context())
	if acc == nil || acc.Token == nil {
		apierror.Write(w, apierror.AuthInvalid("token_missing", "authorization required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   acc.UserID(),
		"tenant_id": acc.TenantID(),
		"audiences": acc.Token.Audiences,
		"roles":     acc.Token.Roles,
		"critical":  acc.Token.Critical,
	})
}
