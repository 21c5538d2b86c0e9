// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

// Well-known discovery paths.
const (
	// WellKnownOAuthServerPath is the RFC 8414 authorization server metadata path.
	WellKnownOAuthServerPath = "/.well-known/oauth-authorization-server"

	// WellKnownOIDCPath is the OpenID Connect Discovery 1.0 path.
	WellKnownOIDCPath = "/.well-known/openid-configuration"
)

// Token endpoint authentication methods.
const (
	TokenEndpointAuthMethodClientSecretPost  = "client_secret_post"
	TokenEndpointAuthMethodClientSecretBasic = "client_secret_basic"
	TokenEndpointAuthMethodNone              = "none"
)

// Grant and response types issued to registered clients.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	ResponseTypeCode           = "code"
)

// Bearer token error codes per RFC 6750 Section 3.1.
const (
	ErrorInvalidRequest    = "invalid_request"
	ErrorInvalidToken      = "invalid_token"
	ErrorInsufficientScope = "insufficient_scope"
)

// AuthorizationServerMetadata is the RFC 8414 metadata document. The OpenID
// Connect discovery document served by mcpgate has the same shape, so the
// OIDC-only members (subject types, ID token algorithms, userinfo, claims)
// live here too and are omitted when empty.
type AuthorizationServerMetadata struct {
	Issuer                string `json:"issuer" yaml:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint" yaml:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint" yaml:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri" yaml:"jwks_uri"`
	RegistrationEndpoint  string `json:"registration_endpoint" yaml:"registration_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty" yaml:"userinfo_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty" yaml:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty" yaml:"introspection_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty" yaml:"end_session_endpoint,omitempty"`

	ScopesSupported                            []string `json:"scopes_supported,omitempty" yaml:"scopes_supported,omitempty"`
	ResponseTypesSupported                     []string `json:"response_types_supported" yaml:"response_types_supported"`
	ResponseModesSupported                     []string `json:"response_modes_supported,omitempty" yaml:"response_modes_supported,omitempty"`
	GrantTypesSupported                        []string `json:"grant_types_supported,omitempty" yaml:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported,omitempty" yaml:"token_endpoint_auth_methods_supported,omitempty"`
	SubjectTypesSupported                      []string `json:"subject_types_supported,omitempty" yaml:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported           []string `json:"id_token_signing_alg_values_supported,omitempty" yaml:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported,omitempty" yaml:"code_challenge_methods_supported,omitempty"`
	IntrospectionEndpointAuthMethodsSupported  []string `json:"introspection_endpoint_auth_methods_supported,omitempty" yaml:"introspection_endpoint_auth_methods_supported,omitempty"`
	RevocationEndpointAuthMethodsSupported     []string `json:"revocation_endpoint_auth_methods_supported,omitempty" yaml:"revocation_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                            []string `json:"claims_supported,omitempty" yaml:"claims_supported,omitempty"`
	FrontchannelLogoutSupported                bool     `json:"frontchannel_logout_supported,omitempty" yaml:"frontchannel_logout_supported,omitempty"`
	FrontchannelLogoutSessionSupported         bool     `json:"frontchannel_logout_session_supported,omitempty" yaml:"frontchannel_logout_session_supported,omitempty"`
	BackchannelLogoutSupported                 bool     `json:"backchannel_logout_supported,omitempty" yaml:"backchannel_logout_supported,omitempty"`
	BackchannelLogoutSessionSupported          bool     `json:"backchannel_logout_session_supported,omitempty" yaml:"backchannel_logout_session_supported,omitempty"`
	RequestParameterSupported                  bool     `json:"request_parameter_supported,omitempty" yaml:"request_parameter_supported,omitempty"`
	RequestURIParameterSupported               bool     `json:"request_uri_parameter_supported,omitempty" yaml:"request_uri_parameter_supported,omitempty"`
	RequireRequestURIRegistration              bool     `json:"require_request_uri_registration,omitempty" yaml:"require_request_uri_registration,omitempty"`
}

// ClientRegistrationRequest is the subset of RFC 7591 Section 2 client
// metadata that the registration endpoint reads. Everything else is ignored.
type ClientRegistrationRequest struct {
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	ClientName   string   `json:"client_name,omitempty"`
}

// ClientRegistrationResponse is the RFC 7591 Section 3.2.1 response, extended
// with the identity provider endpoints so a client can proceed without a
// second discovery round trip.
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ClientName              string   `json:"client_name"`
	Scope                   string   `json:"scope"`

	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri"`
	Issuer                string `json:"issuer"`
}

// ErrorResponse is the JSON error body used by the bearer middleware.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
