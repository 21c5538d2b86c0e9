// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the OAuth facade served in front of the
// identity provider: RFC 8414 and OpenID Connect discovery documents that
// point at the provider, and an RFC 7591 registration endpoint that hands
// out the pre-provisioned client.
package authserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/mcpgate/pkg/config"
	"github.com/stacklok/mcpgate/pkg/logger"
	"github.com/stacklok/mcpgate/pkg/oauth"
)

// RegistrationPath is the dynamic client registration path.
const RegistrationPath = "/register"

// Handler serves the discovery and registration endpoints. It holds no
// per-request state.
type Handler struct {
	auth                 config.AuthProviderConfig
	registrationEndpoint string
	callbackURL          string
	issuedAt             int64
	warnOnce             sync.Once
	log                  *slog.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithIssuedAt fixes the client_id_issued_at reported by registration.
func WithIssuedAt(t time.Time) Option {
	return func(h *Handler) {
		h.issuedAt = t.Unix()
	}
}

// NewHandler creates a Handler for the given provider and server settings.
func NewHandler(auth config.AuthProviderConfig, server config.ServerConfig, opts ...Option) *Handler {
	h := &Handler{
		auth:                 auth,
		registrationEndpoint: server.RegistrationEndpoint(),
		callbackURL:          server.CallbackURL(),
		issuedAt:             time.Now().Unix(),
		log:                  logger.Component("authserver"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a router with all facade endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.WellKnownRoutes(r)
	h.RegistrationRoutes(r)
	return r
}

// WellKnownRoutes registers both discovery documents. They answer any
// method, so clients that probe with HEAD or POST still find them.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.HandleFunc(oauth.WellKnownOAuthServerPath, h.OAuthDiscoveryHandler)
	r.HandleFunc(oauth.WellKnownOIDCPath, h.OIDCDiscoveryHandler)
}

// RegistrationRoutes registers POST and OPTIONS on the registration path.
// Other methods are left to the router's fallback.
func (h *Handler) RegistrationRoutes(r chi.Router) {
	r.Post(RegistrationPath, h.RegisterClientHandler)
	r.Options(RegistrationPath, h.RegistrationPreflightHandler)
}
