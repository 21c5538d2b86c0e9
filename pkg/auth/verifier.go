// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth verifies bearer tokens issued by the configured identity
// provider and carries the resulting Principal on the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/mcpgate/pkg/config"
	"github.com/stacklok/mcpgate/pkg/logger"
	"github.com/stacklok/mcpgate/pkg/networking"
	"github.com/stacklok/mcpgate/pkg/versions"
)

//go:generate mockgen -destination=mocks/mock_verifier.go -package=mocks -source=verifier.go TokenVerifier

// TokenVerifier turns a raw bearer token into a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// Verifier validates JWTs against the provider's JWKS.
type Verifier struct {
	issuer         string
	audiences      []string
	checkAudience  bool
	requiredScopes []string
	enforceScopes  bool
	allowedMethods []string
	keys           keySource
	now            func() time.Time
	log            *slog.Logger
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier for cfg. No network call is made; the key
// set is fetched on first use or by Warm.
func NewVerifier(ctx context.Context, cfg config.AuthProviderConfig, opts ...VerifierOption) (*Verifier, error) {
	if cfg.Endpoints.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Endpoints.JWKS == "" {
		return nil, errors.New("JWKS URI is required")
	}
	jwksURL, err := url.Parse(cfg.Endpoints.JWKS)
	if err != nil {
		return nil, fmt.Errorf("invalid JWKS URI: %w", err)
	}

	client, err := networking.NewHttpClientBuilder().
		WithCABundle(cfg.CACertPath).
		WithPrivateIPs(cfg.AllowPrivateIP).
		WithInsecureHTTP(jwksURL.Scheme == "http").
		WithUserAgent(versions.UserAgent()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS HTTP client: %w", err)
	}

	algs := cfg.AllowedAlgorithms
	if len(algs) == 0 {
		algs = []string{config.DefaultAlgorithm}
	}
	refresh := cfg.JWKSRefreshInterval
	if refresh <= 0 {
		refresh = config.DefaultJWKSRefreshInterval
	}

	log := logger.Component("auth")
	keys, err := newKeyProvider(ctx, cfg.Endpoints.JWKS, client, refresh, log)
	if err != nil {
		return nil, err
	}

	v := &Verifier{
		issuer:         cfg.Endpoints.Issuer,
		audiences:      slices.Clone(cfg.Audiences),
		checkAudience:  !cfg.AudienceCheckDisabled,
		requiredScopes: slices.Clone(cfg.RequiredScopes),
		enforceScopes:  cfg.EnforceScopes,
		allowedMethods: slices.Clone(algs),
		keys:           keys,
		now:            time.Now,
		log:            log,
	}
	for _, opt := range opts {
		opt(v)
	}
	keys.now = v.now
	return v, nil
}

// Warm prefetches the key set, retrying with exponential backoff until ctx
// is done. Failure is not fatal: Verify fetches lazily.
func (v *Verifier) Warm(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, v.keys.Warm(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	return err
}

// Verify checks rawToken and returns the verified principal. Every returned
// error matches one of the package's verification sentinels.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	unverified := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	// Expiry is decided before any key lookup.
	exp, err := unverified.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: no exp claim", ErrTokenExpired)
	}
	if !v.now().Before(exp.Time) {
		return nil, fmt.Errorf("%w: expired at %s", ErrTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods(v.allowedMethods),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	iss, _ := claims.GetIssuer()
	if iss != v.issuer {
		return nil, fmt.Errorf("%w: got %q", ErrIssuerMismatch, iss)
	}

	aud, err := claims.GetAudience()
	if v.checkAudience {
		if err != nil || !audienceMatches(v.audiences, aud) {
			return nil, fmt.Errorf("%w: got %v", ErrAudienceMismatch, []string(aud))
		}
	}

	scopes := ScopesFromClaims(claims)
	if missing := MissingScopes(v.requiredScopes, scopes); len(missing) > 0 {
		if v.enforceScopes {
			return nil, &InsufficientScopeError{Missing: missing}
		}
		v.log.Debug("token lacks required scopes, enforcement disabled", "missing", missing)
	}

	sub, _ := claims.GetSubject()
	return &Principal{
		Subject:   sub,
		Issuer:    iss,
		Audience:  []string(aud),
		ClientID:  clientID(claims),
		Scopes:    scopes,
		ExpiresAt: exp.Time,
		Claims:    maps.Clone(map[string]any(claims)),
	}, nil
}

func classifyParseError(err error) error {
	for _, sentinel := range []error{ErrKeyFetch, ErrUnknownKeyID} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrKeyFetch, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

func audienceMatches(accepted []string, aud jwt.ClaimStrings) bool {
	for _, a := range accepted {
		if slices.Contains(aud, a) {
			return true
		}
	}
	return false
}

// ScopesFromClaims reads the space-delimited "scope" claim, falling back to
// "scp" which some providers send as a list.
func ScopesFromClaims(claims map[string]any) []string {
	if s, ok := claims["scope"].(string); ok {
		return strings.Fields(s)
	}
	switch scp := claims["scp"].(type) {
	case string:
		return strings.Fields(scp)
	case []any:
		out := make([]string, 0, len(scp))
		for _, item := range scp {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// MissingScopes returns the entries of required absent from granted, in order.
func MissingScopes(required, granted []string) []string {
	var missing []string
	for _, r := range required {
		if !slices.Contains(granted, r) {
			missing = append(missing, r)
		}
	}
	return missing
}

func clientID(claims jwt.MapClaims) string {
	for _, key := range []string{"azp", "client_id"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
