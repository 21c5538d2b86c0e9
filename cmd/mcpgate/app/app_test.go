// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/mcpgate/pkg/auth"
	"github.com/stacklok/mcpgate/pkg/config"
	mcperrors "github.com/stacklok/mcpgate/pkg/errors"
	"github.com/stacklok/mcpgate/pkg/oauth"
	"github.com/stacklok/mcpgate/pkg/versions"
)

const testIssuer = "https://idp.example.com/realms/mcp"

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	info := versions.VersionInfo{
		Version:   "v1.2.3",
		Commit:    "abc123",
		BuildDate: "2025-01-01",
		GoVersion: "go1.26",
		Platform:  "linux/amd64",
	}

	var text bytes.Buffer
	require.NoError(t, printVersion(&text, info, false))
	assert.Contains(t, text.String(), "mcpgate v1.2.3")
	assert.Contains(t, text.String(), "Commit: abc123")
	assert.Contains(t, text.String(), "Platform: linux/amd64")

	var out bytes.Buffer
	require.NoError(t, printVersion(&out, info, true))
	var decoded versions.VersionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, info, decoded)
}

func TestWriteMetadata(t *testing.T) {
	t.Parallel()

	metadata := oauth.AuthorizationServerMetadata{
		Issuer:                testIssuer,
		AuthorizationEndpoint: testIssuer + "/protocol/openid-connect/auth",
		TokenEndpoint:         testIssuer + "/protocol/openid-connect/token",
	}

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, writeMetadata(&buf, metadata, outputJSON))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, testIssuer, decoded["issuer"])
		assert.Equal(t, metadata.TokenEndpoint, decoded["token_endpoint"])
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, writeMetadata(&buf, metadata, outputYAML))

		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, testIssuer, decoded["issuer"])
		assert.Equal(t, metadata.AuthorizationEndpoint, decoded["authorization_endpoint"])
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()
		err := writeMetadata(&bytes.Buffer{}, metadata, "toml")
		require.Error(t, err)
		assert.True(t, mcperrors.IsInvalidArgument(err))
	})
}

func TestCompareEndpoints(t *testing.T) {
	t.Parallel()

	upstream := oauth.AuthorizationServerMetadata{
		Issuer:                testIssuer,
		AuthorizationEndpoint: testIssuer + "/auth",
		TokenEndpoint:         testIssuer + "/token",
		JWKSURI:               testIssuer + "/certs",
	}

	tests := []struct {
		name     string
		want     config.Endpoints
		mismatch int
	}{
		{
			name: "all equal",
			want: config.Endpoints{
				Issuer:        testIssuer,
				Authorization: testIssuer + "/auth",
				Token:         testIssuer + "/token",
				JWKS:          testIssuer + "/certs",
			},
		},
		{
			name: "unconfigured endpoints are ignored",
			want: config.Endpoints{Issuer: testIssuer},
		},
		{
			name: "trailing slash on issuer",
			want: config.Endpoints{
				Issuer: testIssuer + "/",
				Token:  testIssuer + "/token",
			},
			mismatch: 1,
		},
		{
			name: "endpoint missing upstream",
			want: config.Endpoints{
				Issuer:        testIssuer,
				Introspection: testIssuer + "/introspect",
				JWKS:          "https://other.example.com/jwks",
			},
			mismatch: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			diffs := compareEndpoints(tt.want, upstream)
			assert.Len(t, diffs, 8)
			assert.Equal(t, tt.mismatch, countMismatches(diffs))
		})
	}
}

func TestWriteDiffs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeDiffs(&buf, []endpointDiff{
		{Name: "issuer", Configured: testIssuer, Upstream: testIssuer},
		{Name: "jwks_uri", Configured: "https://a.example.com/jwks", Upstream: "https://b.example.com/jwks"},
		{Name: "userinfo_endpoint"},
	}))

	out := buf.String()
	assert.Contains(t, out, "jwks_uri")
	assert.Contains(t, out, "https://b.example.com/jwks")
	assert.Contains(t, out, "MISMATCH")
	assert.Equal(t, 1, strings.Count(out, "MISMATCH"))
	assert.Contains(t, out, " - ")
}

func TestFetchProviderMetadata(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/auth",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/certs",
			"userinfo_endpoint":      srv.URL + "/userinfo",
		})
	}))
	t.Cleanup(srv.Close)

	cfg := config.AuthProviderConfig{
		Endpoints:      config.Endpoints{Issuer: srv.URL},
		AllowPrivateIP: true,
	}

	metadata, err := fetchProviderMetadata(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, metadata.Issuer)
	assert.Equal(t, srv.URL+"/token", metadata.TokenEndpoint)
	assert.Equal(t, srv.URL+"/certs", metadata.JWKSURI)

	cfg.Endpoints.Token = srv.URL + "/token"
	cfg.Endpoints.JWKS = srv.URL + "/jwks"
	assert.Equal(t, 1, countMismatches(compareEndpoints(cfg.Endpoints, metadata)))
}

func TestTokenArgument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stdin   string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "argument", args: []string{" abc.def.ghi "}, want: "abc.def.ghi"},
		{name: "stdin", stdin: "abc.def.ghi\n", want: "abc.def.ghi"},
		{name: "stdin without newline", stdin: "abc.def.ghi", want: "abc.def.ghi"},
		{name: "stdin with bearer prefix", stdin: "Bearer abc.def.ghi\n", want: "abc.def.ghi"},
		{name: "only first line", stdin: "first\nsecond\n", want: "first"},
		{name: "empty stdin", stdin: "", wantErr: true},
		{name: "blank line", stdin: "   \n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tokenArgument(strings.NewReader(tt.stdin), tt.args)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, mcperrors.IsInvalidArgument(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func signTestToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestInspectToken(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.AuthProviderConfig{
		Endpoints:      config.Endpoints{Issuer: testIssuer},
		Audiences:      []string{"mcp-server", "account"},
		RequiredScopes: []string{config.ScopeReadNotes},
		EnforceScopes:  true,
	}

	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss":   testIssuer,
			"sub":   "user-1",
			"aud":   []string{"account"},
			"exp":   now.Add(time.Hour).Unix(),
			"scope": "openid read:notes",
			"azp":   "mcp-client",
		}
	}

	tests := []struct {
		name     string
		mutate   func(jwt.MapClaims)
		cfg      func(config.AuthProviderConfig) config.AuthProviderConfig
		problems []string
	}{
		{
			name: "acceptable",
		},
		{
			name:     "expired",
			mutate:   func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Minute).Unix() },
			problems: []string{auth.ErrTokenExpired.Error()},
		},
		{
			name:     "no expiry",
			mutate:   func(c jwt.MapClaims) { delete(c, "exp") },
			problems: []string{auth.ErrTokenExpired.Error()},
		},
		{
			name:     "wrong issuer",
			mutate:   func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
			problems: []string{auth.ErrIssuerMismatch.Error()},
		},
		{
			name:     "wrong audience",
			mutate:   func(c jwt.MapClaims) { c["aud"] = "somebody-else" },
			problems: []string{auth.ErrAudienceMismatch.Error()},
		},
		{
			name:   "audience check disabled",
			mutate: func(c jwt.MapClaims) { c["aud"] = "somebody-else" },
			cfg: func(c config.AuthProviderConfig) config.AuthProviderConfig {
				c.AudienceCheckDisabled = true
				return c
			},
		},
		{
			name:   "missing scope",
			mutate: func(c jwt.MapClaims) { c["scope"] = "openid" },
			problems: []string{
				(&auth.InsufficientScopeError{Missing: []string{config.ScopeReadNotes}}).Error(),
			},
		},
		{
			name:   "missing scope not enforced",
			mutate: func(c jwt.MapClaims) { c["scope"] = "openid" },
			cfg: func(c config.AuthProviderConfig) config.AuthProviderConfig {
				c.EnforceScopes = false
				return c
			},
		},
		{
			name: "scp array",
			mutate: func(c jwt.MapClaims) {
				delete(c, "scope")
				c["scp"] = []string{"read:notes"}
			},
		},
		{
			name: "several problems in order",
			mutate: func(c jwt.MapClaims) {
				c["exp"] = now.Add(-time.Minute).Unix()
				c["iss"] = "https://evil.example.com"
			},
			problems: []string{auth.ErrTokenExpired.Error(), auth.ErrIssuerMismatch.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims := base()
			if tt.mutate != nil {
				tt.mutate(claims)
			}
			c := cfg
			if tt.cfg != nil {
				c = tt.cfg(c)
			}

			report, err := inspectToken(signTestToken(t, key, claims), c, now)
			require.NoError(t, err)
			assert.Equal(t, tt.problems, report.Problems())

			assert.Equal(t, "test-key", report.KeyID)
			assert.Equal(t, "RS256", report.Algorithm)
			assert.Equal(t, "user-1", report.Subject)
			assert.Equal(t, "mcp-client", report.ClientID)

			var out bytes.Buffer
			report.write(&out)
			if len(tt.problems) == 0 {
				assert.Contains(t, out.String(), "signature was NOT checked")
			} else {
				assert.Contains(t, out.String(), "would reject this token")
			}
		})
	}
}

func TestInspectToken_Malformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := inspectToken(raw, config.AuthProviderConfig{}, time.Now())
		assert.Error(t, err, raw)
	}

	// HMAC tokens are never accepted by the gateway
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": testIssuer})
	signed, err := tok.SignedString([]byte("shared-secret"))
	require.NoError(t, err)
	_, err = inspectToken(signed, config.AuthProviderConfig{}, time.Now())
	assert.Error(t, err)
}

func TestFetchClientCredentialsToken(t *testing.T) {
	t.Parallel()

	type tokenRequest struct {
		grantType string
		scope     string
		audience  string
		clientID  string
	}
	requests := make(chan tokenRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		clientID, _, ok := r.BasicAuth()
		if !ok {
			clientID = r.PostForm.Get("client_id")
		}
		requests <- tokenRequest{
			grantType: r.PostForm.Get("grant_type"),
			scope:     r.PostForm.Get("scope"),
			audience:  r.PostForm.Get("audience"),
			clientID:  clientID,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "issued-token",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	}))
	t.Cleanup(srv.Close)

	cfg := config.AuthProviderConfig{
		Endpoints:    config.Endpoints{Token: srv.URL + "/token"},
		ClientID:     "mcp-client",
		ClientSecret: "s3cret",
		Audiences:    []string{"mcp-server"},
	}

	token, err := fetchClientCredentialsToken(t.Context(), srv.Client(), cfg, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "issued-token", token.AccessToken)
	assert.False(t, token.Expiry.IsZero())

	got := <-requests
	assert.Equal(t, "client_credentials", got.grantType)
	assert.Equal(t, strings.Join(config.ToolScopes, " "), got.scope)
	assert.Equal(t, "mcp-server", got.audience)
	assert.Equal(t, "mcp-client", got.clientID)

	_, err = fetchClientCredentialsToken(t.Context(), srv.Client(), cfg, []string{"read:notes"}, "other-api")
	require.NoError(t, err)
	got = <-requests
	assert.Equal(t, "read:notes", got.scope)
	assert.Equal(t, "other-api", got.audience)
}

func TestFetchClientCredentialsToken_RequiresSecret(t *testing.T) {
	t.Parallel()

	cfg := config.AuthProviderConfig{
		Endpoints: config.Endpoints{Token: "https://idp.example.com/token"},
		ClientID:  "public-client",
	}
	_, err := fetchClientCredentialsToken(t.Context(), http.DefaultClient, cfg, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client id and secret are required")
}
