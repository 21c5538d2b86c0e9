// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/stacklok/mcpgate/pkg/config"
	"github.com/stacklok/mcpgate/pkg/logger"
	"github.com/stacklok/mcpgate/pkg/oauth"
)

// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age for the discovery endpoints (1 hour).
const DefaultDiscoveryCacheMaxAge = 3600

// BuildAuthorizationServerMetadata returns the RFC 8414 document for the
// configured identity provider. Every endpoint is the provider's own except
// registration_endpoint, which points back at this server.
func BuildAuthorizationServerMetadata(cfg config.AuthProviderConfig, registrationEndpoint string) oauth.AuthorizationServerMetadata {
	ep := cfg.Endpoints
	caps := cfg.Capabilities

	return oauth.AuthorizationServerMetadata{
		Issuer:                ep.Issuer,
		AuthorizationEndpoint: ep.Authorization,
		TokenEndpoint:         ep.Token,
		JWKSURI:               ep.JWKS,
		RegistrationEndpoint:  registrationEndpoint,
		UserinfoEndpoint:      ep.UserInfo,
		RevocationEndpoint:    ep.Revocation,
		IntrospectionEndpoint: ep.Introspection,
		EndSessionEndpoint:    ep.EndSession,

		ScopesSupported:                           slices.Clone(caps.ScopesSupported),
		ResponseTypesSupported:                    orDefault(caps.ResponseTypes, []string{oauth.ResponseTypeCode}),
		ResponseModesSupported:                    slices.Clone(caps.ResponseModes),
		GrantTypesSupported:                       slices.Clone(caps.GrantTypes),
		TokenEndpointAuthMethodsSupported:         slices.Clone(caps.TokenEndpointAuthMethods),
		SubjectTypesSupported:                     slices.Clone(caps.SubjectTypes),
		IDTokenSigningAlgValuesSupported:          slices.Clone(caps.IDTokenSigningAlgs),
		CodeChallengeMethodsSupported:             slices.Clone(caps.CodeChallengeMethods),
		IntrospectionEndpointAuthMethodsSupported: slices.Clone(caps.IntrospectionEndpointAuthMethods),
		RevocationEndpointAuthMethodsSupported:    slices.Clone(caps.RevocationEndpointAuthMethods),
		ClaimsSupported:                           slices.Clone(caps.ClaimsSupported),
		FrontchannelLogoutSupported:               caps.FrontchannelLogoutSupported,
		FrontchannelLogoutSessionSupported:        caps.FrontchannelLogoutSessionSupported,
		BackchannelLogoutSupported:                caps.BackchannelLogoutSupported,
		BackchannelLogoutSessionSupported:         caps.BackchannelLogoutSessionSupported,
		RequestParameterSupported:                 caps.RequestParameterSupported,
		RequestURIParameterSupported:              caps.RequestURIParameterSupported,
		RequireRequestURIRegistration:             caps.RequireRequestURIRegistration,
	}
}

// BuildOpenIDConfiguration returns the OpenID Connect discovery document. No
// supported provider distinguishes it from the RFC 8414 document.
func BuildOpenIDConfiguration(cfg config.AuthProviderConfig, registrationEndpoint string) oauth.AuthorizationServerMetadata {
	return BuildAuthorizationServerMetadata(cfg, registrationEndpoint)
}

// OAuthDiscoveryHandler serves /.well-known/oauth-authorization-server.
func (h *Handler) OAuthDiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	writeDiscovery(w, BuildAuthorizationServerMetadata(h.auth, h.registrationEndpoint))
}

// OIDCDiscoveryHandler serves /.well-known/openid-configuration.
func (h *Handler) OIDCDiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	writeDiscovery(w, BuildOpenIDConfiguration(h.auth, h.registrationEndpoint))
}

func writeDiscovery(w http.ResponseWriter, metadata oauth.AuthorizationServerMetadata) {
	data, err := json.Marshal(metadata)
	if err != nil {
		logger.Errorw("failed to encode discovery document",
			"error", err.Error(),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultDiscoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return slices.Clone(fallback)
	}
	return slices.Clone(values)
}
