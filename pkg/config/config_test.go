// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func auth0Values() map[string]any {
	return map[string]any{
		KeyAuth0Domain:       "tenant.us.auth0.com",
		KeyAuth0ClientID:     "auth0-client",
		KeyAuth0ClientSecret: "auth0-secret",
		KeyAuth0Audience:     "https://api.example.com",
	}
}

func keycloakValues() map[string]any {
	return map[string]any{
		KeyKeycloakRealm:    "mcp-demo",
		KeyKeycloakClientID: "mcp-server",
	}
}

func TestLoad_Auth0(t *testing.T) {
	t.Parallel()

	cfg, err := Load(newViper(auth0Values()))
	require.NoError(t, err)

	auth := cfg.Auth
	assert.Equal(t, ProviderAuth0, auth.Kind)
	assert.Equal(t, "https://tenant.us.auth0.com/", auth.Endpoints.Issuer)
	assert.Equal(t, "https://tenant.us.auth0.com/.well-known/jwks.json", auth.Endpoints.JWKS)
	assert.Equal(t, "https://tenant.us.auth0.com/authorize", auth.Endpoints.Authorization)
	assert.Equal(t, "https://tenant.us.auth0.com/oauth/token", auth.Endpoints.Token)
	assert.Empty(t, auth.Endpoints.Introspection)
	assert.Equal(t, []string{"https://api.example.com"}, auth.Audiences)
	assert.Equal(t, []string{ScopeReadNotes, ScopeWriteNotes, ScopeUseCalculator}, auth.RequiredScopes)
	assert.True(t, auth.EnforceScopes)
	assert.Equal(t, []string{"RS256"}, auth.AllowedAlgorithms)
	assert.Equal(t, DefaultJWKSRefreshInterval, auth.JWKSRefreshInterval)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Address())
	assert.Equal(t, "http://localhost:8000", cfg.Server.ResourceURL)
	assert.Equal(t, "http://localhost:8000/register", cfg.Server.RegistrationEndpoint())
	assert.Equal(t, "http://localhost:8000/auth/callback", cfg.Server.CallbackURL())
	assert.Equal(t, "/mcp", cfg.Server.EndpointPath)
	assert.Equal(t, TransportHTTP, cfg.Server.Transport)
	assert.Equal(t, NotesBackendMemory, cfg.Notes.Backend)
	assert.Empty(t, cfg.Metrics.Address)
}

func TestLoad_Auth0MissingVariables(t *testing.T) {
	t.Parallel()

	_, err := Load(newViper(map[string]any{KeyAuth0Domain: "tenant.us.auth0.com"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ProviderAuth0, cerr.Provider)
	assert.ElementsMatch(t, []string{"AUTH0_CLIENT_ID", "AUTH0_CLIENT_SECRET", "AUTH0_AUDIENCE"}, cerr.Missing)
	assert.Contains(t, err.Error(), "AUTH0_CLIENT_ID")
}

func TestLoad_Auth0AudienceDisabled(t *testing.T) {
	t.Parallel()

	values := auth0Values()
	delete(values, KeyAuth0Audience)
	values[KeyDisableAudienceCheck] = true

	cfg, err := Load(newViper(values))
	require.NoError(t, err)
	assert.True(t, cfg.Auth.AudienceCheckDisabled)
	assert.Empty(t, cfg.Auth.Audiences)
}

func TestLoad_KeycloakJWT(t *testing.T) {
	t.Parallel()

	cfg, err := Load(newViper(keycloakValues()))
	require.NoError(t, err)

	auth := cfg.Auth
	assert.Equal(t, ProviderKeycloakJWT, auth.Kind)
	assert.Equal(t, "http://localhost:8080/realms/mcp-demo", auth.Endpoints.Issuer)
	assert.Equal(t, "http://localhost:8080/realms/mcp-demo/protocol/openid-connect/certs", auth.Endpoints.JWKS)
	assert.Equal(t, "http://localhost:8080/realms/mcp-demo/protocol/openid-connect/token/introspect", auth.Endpoints.Introspection)
	assert.Equal(t, "http://localhost:8080/realms/mcp-demo/protocol/openid-connect/logout", auth.Endpoints.EndSession)
	assert.Equal(t, []string{DefaultKeycloakAudience}, auth.Audiences)
	assert.Len(t, auth.RequiredScopes, 7)
	assert.Contains(t, auth.RequiredScopes, "claudeai")
	assert.Empty(t, auth.ClientSecret)
}

func TestLoad_KeycloakJWTNoAudience(t *testing.T) {
	t.Parallel()

	values := keycloakValues()
	values[KeyDisableAudienceCheck] = "true"

	cfg, err := Load(newViper(values))
	require.NoError(t, err)
	assert.True(t, cfg.Auth.AudienceCheckDisabled)
	assert.Nil(t, cfg.Auth.Audiences)
	assert.Equal(t, []string{"openid", "profile", "email"}, cfg.Auth.RequiredScopes)
}

func TestLoad_KeycloakOIDCRequiresSecret(t *testing.T) {
	t.Parallel()

	values := keycloakValues()
	values[KeyKeycloakMode] = "oidc"

	_, err := Load(newViper(values))
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ProviderKeycloakOIDC, cerr.Provider)
	assert.Equal(t, []string{"KEYCLOAK_CLIENT_SECRET"}, cerr.Missing)

	values[KeyKeycloakClientSecret] = "s3cret"
	cfg, err := Load(newViper(values))
	require.NoError(t, err)
	assert.Equal(t, ProviderKeycloakOIDC, cfg.Auth.Kind)
	assert.Equal(t, "s3cret", cfg.Auth.ClientSecret)
}

func TestLoad_Overrides(t *testing.T) {
	t.Parallel()

	values := keycloakValues()
	values[KeyKeycloakBaseURL] = "https://sso.example.com/"
	values[KeyKeycloakAudience] = "mcp-server, account"
	values[KeyJWKSURI] = "https://keys.example.com/jwks.json"
	values[KeyRequiredScopes] = "read:notes write:notes"
	values[KeyEnforceRequiredScopes] = false
	values[KeyAllowedAlgorithms] = "RS256,ES256"
	values[KeyJWKSRefreshInterval] = "5s"
	values[KeyResourceID] = "https://mcp.example.com/"
	values[KeyServerPort] = 9000
	values[KeyNotesBackend] = "redis"
	values[KeyRedisURL] = "redis://localhost:6379/0"
	values[KeyMetricsAddr] = ":9090"

	cfg, err := Load(newViper(values))
	require.NoError(t, err)

	assert.Equal(t, "https://sso.example.com/realms/mcp-demo", cfg.Auth.Endpoints.Issuer)
	assert.Equal(t, "https://keys.example.com/jwks.json", cfg.Auth.Endpoints.JWKS)
	assert.Equal(t, []string{"mcp-server", "account"}, cfg.Auth.Audiences)
	assert.Equal(t, []string{"read:notes", "write:notes"}, cfg.Auth.RequiredScopes)
	assert.False(t, cfg.Auth.EnforceScopes)
	assert.Equal(t, []string{"RS256", "ES256"}, cfg.Auth.AllowedAlgorithms)
	assert.Equal(t, 5*time.Second, cfg.Auth.JWKSRefreshInterval)
	assert.Equal(t, "https://mcp.example.com", cfg.Server.ResourceURL)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, NotesBackendRedis, cfg.Notes.Backend)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
}

func TestLoad_CollectsAllProblems(t *testing.T) {
	t.Parallel()

	values := keycloakValues()
	delete(values, KeyKeycloakClientID)
	values[KeyAllowedAlgorithms] = "HS256"
	values[KeyNotesBackend] = "redis"
	values[KeyResourceID] = "not a url"
	values[KeyJWKSRefreshInterval] = "soon"

	_, err := Load(newViper(values))
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.ElementsMatch(t, []string{"KEYCLOAK_CLIENT_ID", "REDIS_URL"}, cerr.Missing)

	msg := err.Error()
	assert.Contains(t, msg, "RESOURCE_ID")
	assert.Contains(t, msg, "JWKS_REFRESH_INTERVAL")
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		key      string
		value    any
		contains string
	}{
		{"unsupported algorithm", KeyAllowedAlgorithms, "HS256", "ALLOWED_ALGORITHMS"},
		{"bad keycloak mode", KeyKeycloakMode, "saml", "KEYCLOAK_MODE"},
		{"bad notes backend", KeyNotesBackend, "sqlite", "NOTES_BACKEND"},
		{"bad transport", KeyTransport, "grpc", "transport"},
		{"bad endpoint path", KeyMCPEndpointPath, "mcp", "MCP_ENDPOINT_PATH"},
		{"bad jwks uri", KeyJWKSURI, "ftp://keys", "JWKS_URI"},
		{"bad base url", KeyKeycloakBaseURL, "localhost:8080", "KEYCLOAK_BASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			values := keycloakValues()
			values[tt.key] = tt.value

			_, err := Load(newViper(values))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoad_ExplicitlyEmptyRequiredScopes(t *testing.T) {
	t.Parallel()

	values := keycloakValues()
	values[KeyRequiredScopes] = ","

	cfg, err := Load(newViper(values))
	require.NoError(t, err)
	assert.NotNil(t, cfg.Auth.RequiredScopes)
	assert.Empty(t, cfg.Auth.RequiredScopes)
}

func TestSelectProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values map[string]any
		want   ProviderKind
	}{
		{"no realm selects auth0", map[string]any{}, ProviderAuth0},
		{"realm selects keycloak jwt", map[string]any{KeyKeycloakRealm: "r"}, ProviderKeycloakJWT},
		{"mode oidc", map[string]any{KeyKeycloakRealm: "r", KeyKeycloakMode: "OIDC"}, ProviderKeycloakOIDC},
		{"blank realm selects auth0", map[string]any{KeyKeycloakRealm: "  "}, ProviderAuth0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := SelectProvider(newViper(tt.values))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Kind())
		})
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , "))
	assert.Equal(t, []string{"a", "b", "c"}, SplitList("a, b\tc"))
	assert.Equal(t, []string{"read:notes", "write:notes"}, SplitList("read:notes write:notes"))
}

func TestAuthProviderConfig_StringRedactsSecret(t *testing.T) {
	t.Parallel()

	cfg, err := Load(newViper(auth0Values()))
	require.NoError(t, err)

	s := cfg.Auth.String()
	assert.NotContains(t, s, "auth0-secret")
	assert.Contains(t, s, "<redacted>")
	assert.Contains(t, s, "auth0-client")
	assert.Equal(t, "openid profile email read:notes write:notes use:calculator", cfg.Auth.ClientScope())
}

func TestLoadLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values map[string]any
		want   LoggingConfig
	}{
		{"defaults", nil, LoggingConfig{Unstructured: true}},
		{"debug", map[string]any{KeyDebug: true}, LoggingConfig{Debug: true, Unstructured: true}},
		{"json output", map[string]any{KeyUnstructuredLogs: "false"}, LoggingConfig{}},
		{"bool from a config file", map[string]any{KeyUnstructuredLogs: false}, LoggingConfig{}},
		{"garbage keeps text", map[string]any{KeyUnstructuredLogs: "yes-please"}, LoggingConfig{Unstructured: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, LoadLogging(newViper(tt.values)))
		})
	}
}

func TestLoad_Logging(t *testing.T) {
	t.Parallel()

	values := keycloakValues()
	values[KeyDebug] = true
	values[KeyUnstructuredLogs] = "false"

	cfg, err := Load(newViper(values))
	require.NoError(t, err)
	assert.Equal(t, LoggingConfig{Debug: true}, cfg.Logging)
}
