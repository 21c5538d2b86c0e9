// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config builds mcpgate's immutable startup configuration from the
// environment, an optional YAML file and command-line flags (via viper).
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/viper"
)

// Viper keys. Environment variables are the upper-cased key names.
const (
	KeyKeycloakRealm        = "keycloak_realm"
	KeyKeycloakMode         = "keycloak_mode"
	KeyKeycloakBaseURL      = "keycloak_base_url"
	KeyKeycloakClientID     = "keycloak_client_id"
	KeyKeycloakClientSecret = "keycloak_client_secret"
	KeyKeycloakAudience     = "keycloak_audience"

	KeyAuth0Domain       = "auth0_domain"
	KeyAuth0ClientID     = "auth0_client_id"
	KeyAuth0ClientSecret = "auth0_client_secret"
	KeyAuth0Audience     = "auth0_audience"

	KeyDisableAudienceCheck  = "disable_audience_check"
	KeyJWKSURI               = "jwks_uri"
	KeyRequiredScopes        = "required_scopes"
	KeyEnforceRequiredScopes = "enforce_required_scopes"
	KeyAllowedAlgorithms     = "allowed_algorithms"
	KeyJWKSRefreshInterval   = "jwks_refresh_interval"
	KeyCACertPath            = "ca_cert_path"
	KeyAllowPrivateIP        = "allow_private_ip"

	KeyResourceID      = "resource_id"
	KeyServerHost      = "server_host"
	KeyServerPort      = "server_port"
	KeyMCPEndpointPath = "mcp_endpoint_path"
	KeyTransport       = "transport"

	KeyNotesBackend = "notes_backend"
	KeyRedisURL     = "redis_url"

	KeyMetricsAddr = "metrics_addr"

	KeyDebug            = "debug"
	KeyUnstructuredLogs = "unstructured_logs"
)

// Transport selects how MCP messages reach the tool layer.
type Transport string

// Supported transports.
const (
	TransportHTTP  Transport = "http"
	TransportStdio Transport = "stdio"
)

// NotesBackend selects the notes store implementation.
type NotesBackend string

// Supported notes backends.
const (
	NotesBackendMemory NotesBackend = "memory"
	NotesBackendRedis  NotesBackend = "redis"
)

// Config is the complete startup configuration.
type Config struct {
	Auth    AuthProviderConfig
	Server  ServerConfig
	Notes   NotesConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	Host string
	Port int
	// ResourceURL is this server's externally visible base URL.
	ResourceURL  string
	EndpointPath string
	Transport    Transport
}

// Address returns the host:port to listen on.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RegistrationEndpoint is the absolute URL of this facade's /register path.
func (s ServerConfig) RegistrationEndpoint() string {
	return s.ResourceURL + "/register"
}

// CallbackURL is this facade's own OAuth callback, used as a default redirect URI.
func (s ServerConfig) CallbackURL() string {
	return s.ResourceURL + "/auth/callback"
}

// NotesConfig configures the notes store.
type NotesConfig struct {
	Backend  NotesBackend
	RedisURL string
}

// MetricsConfig configures the optional metrics listener.
type MetricsConfig struct {
	// Address is empty when metrics are disabled.
	Address string
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Debug bool
	// Unstructured selects text output. JSON is written when false.
	Unstructured bool
}

// LoadLogging reads the logging settings from v. It never fails, so the
// logger can be set up before the rest of the configuration is validated.
// UNSTRUCTURED_LOGS defaults to true and an unparsable value keeps the default.
func LoadLogging(v *viper.Viper) LoggingConfig {
	cfg := LoggingConfig{
		Debug:        v.GetBool(KeyDebug),
		Unstructured: true,
	}
	if raw := strings.TrimSpace(v.GetString(KeyUnstructuredLogs)); raw != "" {
		if b, err := strconv.ParseBool(raw); err == nil {
			cfg.Unstructured = b
		}
	}
	return cfg
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyKeycloakMode, "jwt")
	v.SetDefault(KeyKeycloakAudience, DefaultKeycloakAudience)
	v.SetDefault(KeyEnforceRequiredScopes, true)
	v.SetDefault(KeyAllowedAlgorithms, DefaultAlgorithm)
	v.SetDefault(KeyJWKSRefreshInterval, DefaultJWKSRefreshInterval.String())
	v.SetDefault(KeyAllowPrivateIP, true)
	v.SetDefault(KeyResourceID, "http://localhost:8000")
	v.SetDefault(KeyServerHost, "0.0.0.0")
	v.SetDefault(KeyServerPort, 8000)
	v.SetDefault(KeyMCPEndpointPath, "/mcp")
	v.SetDefault(KeyTransport, string(TransportHTTP))
	v.SetDefault(KeyNotesBackend, string(NotesBackendMemory))
	v.SetDefault(KeyUnstructuredLogs, true)

	v.AutomaticEnv()
	// KEYCLOAK_SERVER_URL is the older spelling of the base URL.
	_ = v.BindEnv(KeyKeycloakBaseURL, "KEYCLOAK_BASE_URL", "KEYCLOAK_SERVER_URL")
}

// Load builds a Config from v. Every problem is reported in a single *ConfigurationError.
func Load(v *viper.Viper) (*Config, error) {
	cerr := &ConfigurationError{}

	provider, err := SelectProvider(v)
	if err != nil {
		return nil, err
	}

	settings := ProviderSettings{
		JWKSURI:               strings.TrimSpace(v.GetString(KeyJWKSURI)),
		EnforceScopes:         v.GetBool(KeyEnforceRequiredScopes),
		AudienceCheckDisabled: v.GetBool(KeyDisableAudienceCheck),
		AllowedAlgorithms:     SplitList(v.GetString(KeyAllowedAlgorithms)),
		CACertPath:            v.GetString(KeyCACertPath),
		AllowPrivateIP:        v.GetBool(KeyAllowPrivateIP),
	}
	if v.IsSet(KeyRequiredScopes) {
		// an explicitly empty list disables the token-wide scope requirement
		settings.RequiredScopes = SplitList(v.GetString(KeyRequiredScopes))
		if settings.RequiredScopes == nil {
			settings.RequiredScopes = []string{}
		}
	}
	if raw := v.GetString(KeyJWKSRefreshInterval); raw != "" {
		d, perr := time.ParseDuration(raw)
		if perr != nil || d <= 0 {
			cerr.invalid("JWKS_REFRESH_INTERVAL", "must be a positive duration, got %q", raw)
		}
		settings.JWKSRefreshInterval = d
	}

	server := ServerConfig{
		Host:         v.GetString(KeyServerHost),
		Port:         v.GetInt(KeyServerPort),
		ResourceURL:  strings.TrimSuffix(strings.TrimSpace(v.GetString(KeyResourceID)), "/"),
		EndpointPath: v.GetString(KeyMCPEndpointPath),
		Transport:    Transport(strings.ToLower(v.GetString(KeyTransport))),
	}
	validateServer(cerr, server)

	notes := NotesConfig{
		Backend:  NotesBackend(strings.ToLower(v.GetString(KeyNotesBackend))),
		RedisURL: v.GetString(KeyRedisURL),
	}
	switch notes.Backend {
	case NotesBackendMemory:
	case NotesBackendRedis:
		requireValue(cerr, "REDIS_URL", notes.RedisURL)
	default:
		cerr.invalid("NOTES_BACKEND", "must be %q or %q, got %q", NotesBackendMemory, NotesBackendRedis, notes.Backend)
	}

	auth, err := provider.Build(settings)
	if err != nil {
		var perr *ConfigurationError
		if errors.As(err, &perr) {
			cerr.Provider = perr.Provider
			cerr.Missing = append(perr.Missing, cerr.Missing...)
			cerr.Invalid = append(perr.Invalid, cerr.Invalid...)
		} else {
			return nil, err
		}
	}
	if err := cerr.orNil(); err != nil {
		return nil, err
	}

	return &Config{
		Auth:    auth,
		Server:  server,
		Notes:   notes,
		Metrics: MetricsConfig{Address: v.GetString(KeyMetricsAddr)},
		Logging: LoadLogging(v),
	}, nil
}

// SelectProvider picks the identity provider variant. A non-empty
// KEYCLOAK_REALM selects Keycloak; KEYCLOAK_MODE then chooses between the
// token-verification-only profile ("jwt") and the confidential client ("oidc").
func SelectProvider(v *viper.Viper) (Provider, error) {
	realm := strings.TrimSpace(v.GetString(KeyKeycloakRealm))
	if realm == "" {
		return Auth0{
			Domain:       strings.TrimSpace(v.GetString(KeyAuth0Domain)),
			ClientID:     v.GetString(KeyAuth0ClientID),
			ClientSecret: v.GetString(KeyAuth0ClientSecret),
			Audience:     v.GetString(KeyAuth0Audience),
		}, nil
	}

	baseURL := strings.TrimSpace(v.GetString(KeyKeycloakBaseURL))
	audiences := SplitList(v.GetString(KeyKeycloakAudience))

	switch mode := strings.ToLower(v.GetString(KeyKeycloakMode)); mode {
	case "", "jwt":
		return KeycloakJWT{
			BaseURL:      baseURL,
			Realm:        realm,
			ClientID:     v.GetString(KeyKeycloakClientID),
			ClientSecret: v.GetString(KeyKeycloakClientSecret),
			Audiences:    audiences,
		}, nil
	case "oidc":
		return KeycloakOIDC{
			BaseURL:      baseURL,
			Realm:        realm,
			ClientID:     v.GetString(KeyKeycloakClientID),
			ClientSecret: v.GetString(KeyKeycloakClientSecret),
			Audiences:    audiences,
		}, nil
	default:
		cerr := &ConfigurationError{}
		cerr.invalid("KEYCLOAK_MODE", `must be "jwt" or "oidc", got %q`, mode)
		return nil, cerr
	}
}

func validateServer(cerr *ConfigurationError, s ServerConfig) {
	if u, err := url.Parse(s.ResourceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		cerr.invalid("RESOURCE_ID", "must be an absolute http(s) URL, got %q", s.ResourceURL)
	}
	if s.Port < 0 || s.Port > 65535 {
		cerr.invalid("SERVER_PORT", "out of range: %d", s.Port)
	}
	if !strings.HasPrefix(s.EndpointPath, "/") || s.EndpointPath == "/" {
		cerr.invalid("MCP_ENDPOINT_PATH", "must be an absolute sub-path, got %q", s.EndpointPath)
	}
	switch s.Transport {
	case TransportHTTP, TransportStdio:
	default:
		cerr.invalid("transport", "must be %q or %q, got %q", TransportHTTP, TransportStdio, s.Transport)
	}
}

// SplitList splits a comma or whitespace separated list, dropping empties.
func SplitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// String renders a redacted summary suitable for startup logs.
func (c AuthProviderConfig) String() string {
	secret := "<unset>"
	if c.ClientSecret != "" {
		secret = "<redacted>"
	}
	return fmt.Sprintf("provider=%s issuer=%s jwks=%s audiences=%v audience_check=%t client_id=%s client_secret=%s required_scopes=%v enforce=%t",
		c.Kind, c.Endpoints.Issuer, c.Endpoints.JWKS, c.Audiences, !c.AudienceCheckDisabled,
		c.ClientID, secret, c.RequiredScopes, c.EnforceScopes)
}
