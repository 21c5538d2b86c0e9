// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Verification failures. Every error returned by Verifier.Verify matches
// exactly one of these with errors.Is.
var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrKeyFetch          = errors.New("failed to fetch signing keys")
	ErrUnknownKeyID      = errors.New("unknown key id")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrIssuerMismatch    = errors.New("issuer mismatch")
	ErrAudienceMismatch  = errors.New("audience mismatch")
	ErrTokenExpired      = errors.New("token expired")
	ErrInsufficientScope = errors.New("insufficient scope")
)

// Bearer header extraction failures.
var (
	ErrAuthHeaderMissing       = errors.New("authorization header required")
	ErrInvalidAuthHeaderFormat = errors.New("invalid authorization header format, expected 'Bearer <token>'")
	ErrEmptyBearerToken        = errors.New("empty bearer token")
)

// InsufficientScopeError carries the scopes a principal lacked.
type InsufficientScopeError struct {
	// Missing are the required scopes the token did not grant, in requirement order.
	Missing []string
}

func (e *InsufficientScopeError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrInsufficientScope, strings.Join(e.Missing, " "))
}

// Is matches ErrInsufficientScope.
func (e *InsufficientScopeError) Is(target error) bool {
	return target == ErrInsufficientScope
}

// failureReasons maps each sentinel to a short label for logs and metrics.
var failureReasons = []struct {
	err    error
	reason string
}{
	{ErrMalformedToken, "malformed_token"},
	{ErrKeyFetch, "key_fetch_error"},
	{ErrUnknownKeyID, "unknown_key_id"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrIssuerMismatch, "issuer_mismatch"},
	{ErrAudienceMismatch, "audience_mismatch"},
	{ErrTokenExpired, "token_expired"},
	{ErrInsufficientScope, "insufficient_scope"},
	{ErrAuthHeaderMissing, "missing_token"},
	{ErrInvalidAuthHeaderFormat, "invalid_header"},
	{ErrEmptyBearerToken, "missing_token"},
}

// FailureReason returns a stable label for a verification error, or "ok" for nil.
func FailureReason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, fr := range failureReasons {
		if errors.Is(err, fr.err) {
			return fr.reason
		}
	}
	return "unknown"
}
