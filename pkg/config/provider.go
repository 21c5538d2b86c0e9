// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ProviderKind names the identity provider variant in use.
type ProviderKind string

// Supported identity provider variants.
const (
	ProviderAuth0        ProviderKind = "auth0"
	ProviderKeycloakOIDC ProviderKind = "keycloak-oidc"
	ProviderKeycloakJWT  ProviderKind = "keycloak-jwt"
)

// Default values used when the environment leaves them unset.
const (
	DefaultKeycloakBaseURL     = "http://localhost:8080"
	DefaultKeycloakAudience    = "mcp-server"
	DefaultJWKSRefreshInterval = 30 * time.Second
	DefaultAlgorithm           = "RS256"
)

// Scope names granted to MCP clients for the tools this server exposes.
const (
	ScopeReadNotes     = "read:notes"
	ScopeWriteNotes    = "write:notes"
	ScopeUseCalculator = "use:calculator"
)

// ToolScopes are the scopes the tool layer gates on.
var ToolScopes = []string{ScopeReadNotes, ScopeWriteNotes, ScopeUseCalculator}

// clientScope is the scope string handed out by the registration endpoint.
var clientScope = []string{"openid", "profile", "email", ScopeReadNotes, ScopeWriteNotes, ScopeUseCalculator}

// Endpoints are the identity provider's real URLs. Empty values are omitted
// from discovery documents.
type Endpoints struct {
	Issuer        string
	Authorization string
	Token         string
	JWKS          string
	UserInfo      string
	Revocation    string
	Introspection string
	EndSession    string
}

// Capabilities are the provider's advertised protocol support.
type Capabilities struct {
	ScopesSupported                    []string
	ResponseTypes                      []string
	ResponseModes                      []string
	GrantTypes                         []string
	TokenEndpointAuthMethods           []string
	SubjectTypes                       []string
	IDTokenSigningAlgs                 []string
	CodeChallengeMethods               []string
	IntrospectionEndpointAuthMethods   []string
	RevocationEndpointAuthMethods      []string
	ClaimsSupported                    []string
	FrontchannelLogoutSupported        bool
	FrontchannelLogoutSessionSupported bool
	BackchannelLogoutSupported         bool
	BackchannelLogoutSessionSupported  bool
	RequestParameterSupported          bool
	RequestURIParameterSupported       bool
	RequireRequestURIRegistration      bool
}

// AuthProviderConfig is the immutable identity provider configuration built at startup.
type AuthProviderConfig struct {
	Kind         ProviderKind
	Endpoints    Endpoints
	Capabilities Capabilities

	// Audiences are the acceptable audience values. Ignored when AudienceCheckDisabled.
	Audiences             []string
	AudienceCheckDisabled bool

	ClientID     string
	ClientSecret string

	// RequiredScopes must all be present on a token when EnforceScopes is set.
	RequiredScopes []string
	EnforceScopes  bool

	// AllowedAlgorithms is the JWS algorithm allow-list.
	AllowedAlgorithms []string

	// JWKSRefreshInterval bounds how often an unknown key id may force a JWKS refetch.
	JWKSRefreshInterval time.Duration

	// CACertPath and AllowPrivateIP configure the outbound client used for JWKS.
	CACertPath     string
	AllowPrivateIP bool
}

// ClientScope returns the space-delimited scope string issued to registered clients.
func (c AuthProviderConfig) ClientScope() string {
	return strings.Join(clientScope, " ")
}

// Provider is one of the sealed identity provider variants. Each variant
// builds the same AuthProviderConfig shape.
type Provider interface {
	Kind() ProviderKind
	Build(common ProviderSettings) (AuthProviderConfig, error)

	sealed()
}

// ProviderSettings are variant-independent knobs that every provider honours.
type ProviderSettings struct {
	JWKSURI               string
	RequiredScopes        []string
	EnforceScopes         bool
	AudienceCheckDisabled bool
	AllowedAlgorithms     []string
	JWKSRefreshInterval   time.Duration
	CACertPath            string
	AllowPrivateIP        bool
}

// Auth0 configures an Auth0 tenant.
type Auth0 struct {
	Domain       string
	ClientID     string
	ClientSecret string
	Audience     string
}

// KeycloakOIDC configures a confidential Keycloak client.
type KeycloakOIDC struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	Audiences    []string
}

// KeycloakJWT configures a Keycloak realm where this server only verifies tokens.
type KeycloakJWT struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	Audiences    []string
}

func (Auth0) sealed()        {}
func (KeycloakOIDC) sealed() {}
func (KeycloakJWT) sealed()  {}

// Kind implements Provider.
func (Auth0) Kind() ProviderKind { return ProviderAuth0 }

// Kind implements Provider.
func (KeycloakOIDC) Kind() ProviderKind { return ProviderKeycloakOIDC }

// Kind implements Provider.
func (KeycloakJWT) Kind() ProviderKind { return ProviderKeycloakJWT }

// Build implements Provider.
func (p Auth0) Build(common ProviderSettings) (AuthProviderConfig, error) {
	cerr := &ConfigurationError{Provider: ProviderAuth0}
	requireValue(cerr, "AUTH0_DOMAIN", p.Domain)
	requireValue(cerr, "AUTH0_CLIENT_ID", p.ClientID)
	requireValue(cerr, "AUTH0_CLIENT_SECRET", p.ClientSecret)
	if !common.AudienceCheckDisabled {
		requireValue(cerr, "AUTH0_AUDIENCE", p.Audience)
	}
	domain := strings.TrimSuffix(strings.TrimPrefix(p.Domain, "https://"), "/")
	if strings.ContainsAny(domain, "/?#") {
		cerr.invalid("AUTH0_DOMAIN", "must be a bare host name, got %q", p.Domain)
	}
	if err := cerr.orNil(); err != nil {
		return AuthProviderConfig{}, err
	}

	base := "https://" + domain
	cfg := AuthProviderConfig{
		Kind: ProviderAuth0,
		Endpoints: Endpoints{
			Issuer:        base + "/",
			Authorization: base + "/authorize",
			Token:         base + "/oauth/token",
			JWKS:          base + "/.well-known/jwks.json",
			UserInfo:      base + "/userinfo",
			Revocation:    base + "/oauth/revoke",
			EndSession:    base + "/v2/logout",
		},
		Capabilities: auth0Capabilities(),
		Audiences:    nonEmpty(p.Audience),
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
	}
	return finish(cfg, common, []string{ScopeReadNotes, ScopeWriteNotes, ScopeUseCalculator}, cerr)
}

// Build implements Provider.
func (p KeycloakOIDC) Build(common ProviderSettings) (AuthProviderConfig, error) {
	cerr := &ConfigurationError{Provider: ProviderKeycloakOIDC}
	requireValue(cerr, "KEYCLOAK_REALM", p.Realm)
	requireValue(cerr, "KEYCLOAK_CLIENT_ID", p.ClientID)
	requireValue(cerr, "KEYCLOAK_CLIENT_SECRET", p.ClientSecret)
	base := keycloakBase(cerr, p.BaseURL)
	if err := cerr.orNil(); err != nil {
		return AuthProviderConfig{}, err
	}

	cfg := AuthProviderConfig{
		Kind:         ProviderKeycloakOIDC,
		Endpoints:    keycloakEndpoints(base, p.Realm),
		Capabilities: keycloakCapabilities(),
		Audiences:    p.Audiences,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
	}
	return finish(cfg, common, []string{ScopeReadNotes, ScopeWriteNotes, ScopeUseCalculator}, cerr)
}

// Build implements Provider.
func (p KeycloakJWT) Build(common ProviderSettings) (AuthProviderConfig, error) {
	cerr := &ConfigurationError{Provider: ProviderKeycloakJWT}
	requireValue(cerr, "KEYCLOAK_REALM", p.Realm)
	requireValue(cerr, "KEYCLOAK_CLIENT_ID", p.ClientID)
	base := keycloakBase(cerr, p.BaseURL)
	if err := cerr.orNil(); err != nil {
		return AuthProviderConfig{}, err
	}

	cfg := AuthProviderConfig{
		Kind:         ProviderKeycloakJWT,
		Endpoints:    keycloakEndpoints(base, p.Realm),
		Capabilities: keycloakCapabilities(),
		Audiences:    p.Audiences,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
	}

	defaultScopes := []string{"openid", "profile", "email", "claudeai", ScopeReadNotes, ScopeWriteNotes, ScopeUseCalculator}
	if common.AudienceCheckDisabled {
		// the relaxed interop profile only insists on the standard OIDC scopes
		defaultScopes = []string{"openid", "profile", "email"}
	}
	return finish(cfg, common, defaultScopes, cerr)
}

// finish applies the variant-independent settings and validates the result.
func finish(cfg AuthProviderConfig, common ProviderSettings, defaultScopes []string, cerr *ConfigurationError) (AuthProviderConfig, error) {
	if common.JWKSURI != "" {
		if _, err := parseAbsoluteURL(common.JWKSURI); err != nil {
			cerr.invalid("JWKS_URI", "%v", err)
		}
		cfg.Endpoints.JWKS = common.JWKSURI
	}

	cfg.AudienceCheckDisabled = common.AudienceCheckDisabled
	if cfg.AudienceCheckDisabled {
		cfg.Audiences = nil
	} else if len(cfg.Audiences) == 0 {
		cerr.missing(audienceVar(cfg.Kind))
	}

	cfg.RequiredScopes = common.RequiredScopes
	if cfg.RequiredScopes == nil {
		cfg.RequiredScopes = defaultScopes
	}
	cfg.EnforceScopes = common.EnforceScopes

	cfg.AllowedAlgorithms = common.AllowedAlgorithms
	if len(cfg.AllowedAlgorithms) == 0 {
		cfg.AllowedAlgorithms = []string{DefaultAlgorithm}
	}
	for _, alg := range cfg.AllowedAlgorithms {
		if !slices.Contains(supportedAlgorithms, alg) {
			cerr.invalid("ALLOWED_ALGORITHMS", "unsupported algorithm %q", alg)
		}
	}

	cfg.JWKSRefreshInterval = common.JWKSRefreshInterval
	if cfg.JWKSRefreshInterval <= 0 {
		cfg.JWKSRefreshInterval = DefaultJWKSRefreshInterval
	}
	cfg.CACertPath = common.CACertPath
	cfg.AllowPrivateIP = common.AllowPrivateIP

	if err := cerr.orNil(); err != nil {
		return AuthProviderConfig{}, err
	}
	return cfg, nil
}

// supportedAlgorithms are the asymmetric JWS algorithms a JWKS can verify.
var supportedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

func audienceVar(kind ProviderKind) string {
	if kind == ProviderAuth0 {
		return "AUTH0_AUDIENCE"
	}
	return "KEYCLOAK_AUDIENCE"
}

func keycloakBase(cerr *ConfigurationError, raw string) string {
	if raw == "" {
		raw = DefaultKeycloakBaseURL
	}
	if _, err := parseAbsoluteURL(raw); err != nil {
		cerr.invalid("KEYCLOAK_BASE_URL", "%v", err)
	}
	return strings.TrimSuffix(raw, "/")
}

func keycloakEndpoints(base, realm string) Endpoints {
	realmURL := fmt.Sprintf("%s/realms/%s", base, url.PathEscape(realm))
	oidc := realmURL + "/protocol/openid-connect"
	return Endpoints{
		Issuer:        realmURL,
		Authorization: oidc + "/auth",
		Token:         oidc + "/token",
		JWKS:          oidc + "/certs",
		UserInfo:      oidc + "/userinfo",
		Revocation:    oidc + "/revoke",
		Introspection: oidc + "/token/introspect",
		EndSession:    oidc + "/logout",
	}
}

func keycloakCapabilities() Capabilities {
	return Capabilities{
		ScopesSupported: []string{
			"openid", "profile", "email",
			ScopeReadNotes, ScopeWriteNotes, ScopeUseCalculator,
			"offline_access",
		},
		ResponseTypes: []string{
			"code", "token", "id_token",
			"code token", "code id_token", "token id_token",
			"code token id_token",
		},
		ResponseModes:            []string{"query", "fragment", "form_post"},
		GrantTypes:               []string{"authorization_code", "implicit", "refresh_token", "password", "client_credentials"},
		TokenEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post", "private_key_jwt", "client_secret_jwt"},
		SubjectTypes:             []string{"public", "pairwise"},
		IDTokenSigningAlgs: []string{
			"RS256", "RS384", "RS512",
			"ES256", "ES384", "ES512",
			"HS256", "HS384", "HS512",
			"PS256", "PS384", "PS512",
		},
		CodeChallengeMethods:             []string{"plain", "S256"},
		IntrospectionEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post"},
		RevocationEndpointAuthMethods:    []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported: []string{
			"aud", "sub", "iss", "auth_time", "name", "given_name",
			"family_name", "preferred_username", "email", "acr",
		},
		FrontchannelLogoutSupported:        true,
		FrontchannelLogoutSessionSupported: true,
		BackchannelLogoutSupported:         true,
		BackchannelLogoutSessionSupported:  true,
		RequestParameterSupported:          true,
		RequestURIParameterSupported:       true,
		RequireRequestURIRegistration:      true,
	}
}

func auth0Capabilities() Capabilities {
	return Capabilities{
		ScopesSupported: []string{
			"openid", "profile", "email",
			ScopeReadNotes, ScopeWriteNotes, ScopeUseCalculator,
			"offline_access",
		},
		ResponseTypes: []string{
			"code", "token", "id_token",
			"code token", "code id_token", "token id_token",
			"code token id_token",
		},
		ResponseModes:            []string{"query", "fragment", "form_post"},
		GrantTypes:               []string{"authorization_code", "implicit", "refresh_token", "client_credentials", "password"},
		TokenEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post", "private_key_jwt"},
		SubjectTypes:             []string{"public"},
		IDTokenSigningAlgs:       []string{"HS256", "RS256", "PS256"},
		CodeChallengeMethods:     []string{"S256", "plain"},
		RevocationEndpointAuthMethods: []string{
			"client_secret_basic", "client_secret_post",
		},
		ClaimsSupported: []string{
			"aud", "auth_time", "created_at", "email", "email_verified", "exp",
			"family_name", "given_name", "iat", "identities", "iss", "name",
			"nickname", "phone_number", "picture", "sub",
		},
	}
}

func requireValue(cerr *ConfigurationError, name, value string) {
	if strings.TrimSpace(value) == "" {
		cerr.missing(name)
	}
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", raw)
	}
	return u, nil
}
