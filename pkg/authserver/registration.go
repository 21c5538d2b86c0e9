// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/stacklok/mcpgate/pkg/oauth"
)

// maxRegistrationBodySize caps the registration request body (64KB).
const maxRegistrationBodySize = 64 * 1024

const (
	// InspectorCallbackURL is the MCP Inspector's local OAuth callback.
	InspectorCallbackURL = "http://localhost:6274/oauth/callback"

	// DefaultClientName is reported when the caller does not name itself.
	DefaultClientName = "MCP Client"
)

// RegistrationPreflightHandler answers the CORS preflight for /register.
func (*Handler) RegistrationPreflightHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// RegisterClientHandler handles POST /register. It does not create a client:
// every caller receives the pre-provisioned identity provider client, with
// only redirect_uris and client_name taken from the request.
func (h *Handler) RegisterClientHandler(w http.ResponseWriter, req *http.Request) {
	h.warnOnce.Do(func() {
		h.log.Warn("dynamic client registration returns the static pre-provisioned client to every caller; " +
			"this is not multi-tenant registration")
	})

	regReq := h.decodeRegistrationRequest(w, req)
	response := h.BuildRegistrationResponse(regReq)

	h.log.Debug("issued static client registration",
		"client_id", response.ClientID,
		"client_name", response.ClientName,
		"redirect_uris", response.RedirectURIs,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("failed to encode registration response", "error", err)
	}
}

// decodeRegistrationRequest reads the body leniently: anything that is not a
// JSON object within the size limit is treated as an empty request.
func (h *Handler) decodeRegistrationRequest(w http.ResponseWriter, req *http.Request) oauth.ClientRegistrationRequest {
	var regReq oauth.ClientRegistrationRequest
	if req.Body == nil || req.Body == http.NoBody {
		return regReq
	}

	body := http.MaxBytesReader(w, req.Body, maxRegistrationBodySize)
	if err := json.NewDecoder(body).Decode(&regReq); err != nil {
		h.log.Debug("ignoring unparseable registration body", "error", err)
		return oauth.ClientRegistrationRequest{}
	}
	return regReq
}

// BuildRegistrationResponse returns the client record handed to a caller
// that asked for regReq. It is the same client for every caller.
func (h *Handler) BuildRegistrationResponse(regReq oauth.ClientRegistrationRequest) oauth.ClientRegistrationResponse {
	redirectURIs := nonBlank(regReq.RedirectURIs)
	if len(redirectURIs) == 0 {
		redirectURIs = []string{h.callbackURL, InspectorCallbackURL}
	}

	clientName := regReq.ClientName
	if clientName == "" {
		clientName = DefaultClientName
	}

	authMethod := oauth.TokenEndpointAuthMethodClientSecretPost
	if h.auth.ClientSecret == "" {
		authMethod = oauth.TokenEndpointAuthMethodNone
	}

	ep := h.auth.Endpoints
	return oauth.ClientRegistrationResponse{
		ClientID:                h.auth.ClientID,
		ClientSecret:            h.auth.ClientSecret,
		ClientIDIssuedAt:        h.issuedAt,
		ClientSecretExpiresAt:   0,
		RedirectURIs:            redirectURIs,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
		ResponseTypes:           []string{oauth.ResponseTypeCode},
		ClientName:              clientName,
		Scope:                   h.auth.ClientScope(),

		AuthorizationEndpoint: ep.Authorization,
		TokenEndpoint:         ep.Token,
		UserinfoEndpoint:      ep.UserInfo,
		JWKSURI:               ep.JWKS,
		Issuer:                ep.Issuer,
	}
}

func nonBlank(values []string) []string {
	return slices.DeleteFunc(slices.Clone(values), func(s string) bool { return s == "" })
}
