// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Principal is the verified identity behind a request. It is only produced
// by a successful verification (or LocalPrincipal for the stdio transport)
// and lives on the request context.
type Principal struct {
	Subject   string
	Issuer    string
	Audience  []string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	// Claims holds the full verified claim set.
	Claims map[string]any
	// Local is set for principals that did not come from a bearer token.
	Local bool
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

// HasAnyScope reports whether the principal holds at least one of scopes.
// An empty scopes list is always satisfied.
func (p *Principal) HasAnyScope(scopes ...string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if p.HasScope(s) {
			return true
		}
	}
	return false
}

// String returns a log-safe summary. Claims are never printed.
func (p *Principal) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Principal{Subject:%q Scopes:%v ExpiresAt:%s Local:%t}",
		p.Subject, p.Scopes, p.ExpiresAt.Format(time.RFC3339), p.Local)
}

// MarshalJSON omits the raw claim set so a principal can be logged or echoed safely.
func (p *Principal) MarshalJSON() ([]byte, error) {
	type view struct {
		Subject   string    `json:"sub"`
		Issuer    string    `json:"iss,omitempty"`
		Audience  []string  `json:"aud,omitempty"`
		ClientID  string    `json:"client_id,omitempty"`
		Scopes    []string  `json:"scopes"`
		ExpiresAt time.Time `json:"exp,omitzero"`
		Local     bool      `json:"local,omitempty"`
	}
	return json.Marshal(view{
		Subject:   p.Subject,
		Issuer:    p.Issuer,
		Audience:  p.Audience,
		ClientID:  p.ClientID,
		Scopes:    p.Scopes,
		ExpiresAt: p.ExpiresAt,
		Local:     p.Local,
	})
}

// LocalSubject is the subject of principals created by LocalPrincipal.
const LocalSubject = "local"

// LocalPrincipal returns the principal used when requests arrive over a
// transport without bearer tokens (stdio). It is granted exactly scopes.
func LocalPrincipal(scopes []string) *Principal {
	return &Principal{
		Subject: LocalSubject,
		Scopes:  slices.Clone(scopes),
		Local:   true,
	}
}

// PrincipalContextKey is the context key for the request's Principal.
type PrincipalContextKey struct{}

// WithPrincipal stores p in ctx. A nil principal leaves ctx unchanged.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, PrincipalContextKey{}, p)
}

// PrincipalFromContext returns the request's principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey{}).(*Principal)
	return p, ok
}
