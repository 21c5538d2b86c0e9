// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stacklok/mcpgate/pkg/logger"
	"github.com/stacklok/mcpgate/pkg/oauth"
)

// Middleware rejects requests without a valid bearer token and stores the
// verified Principal on the context of those it lets through. realm is
// reported in the WWW-Authenticate challenge, normally the issuer.
func Middleware(verifier TokenVerifier, realm string) func(http.Handler) http.Handler {
	log := logger.Component("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := ExtractBearerToken(r)
			if err != nil {
				log.Debug("rejecting request without usable bearer token",
					"path", r.URL.Path, "reason", FailureReason(err))
				writeAuthError(w, realm, err)
				return
			}

			principal, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				log.Debug("token verification failed",
					"path", r.URL.Path, "reason", FailureReason(err), "error", err)
				writeAuthError(w, realm, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, realm string, err error) {
	status := http.StatusUnauthorized
	var body oauth.ErrorResponse
	parts := []string{fmt.Sprintf(`realm="%s"`, EscapeQuotes(realm))}

	var scopeErr *InsufficientScopeError
	switch {
	case errors.Is(err, ErrAuthHeaderMissing):
		// RFC 6750 Section 3.1: no error code when the request carried no credentials.
		body = oauth.ErrorResponse{Error: oauth.ErrorInvalidToken, ErrorDescription: err.Error()}
	case errors.Is(err, ErrInvalidAuthHeaderFormat), errors.Is(err, ErrEmptyBearerToken):
		body = oauth.ErrorResponse{Error: oauth.ErrorInvalidRequest, ErrorDescription: err.Error()}
		parts = append(parts,
			fmt.Sprintf(`error="%s"`, oauth.ErrorInvalidRequest),
			fmt.Sprintf(`error_description="%s"`, EscapeQuotes(err.Error())))
	case errors.As(err, &scopeErr):
		status = http.StatusForbidden
		body = oauth.ErrorResponse{Error: oauth.ErrorInsufficientScope, ErrorDescription: err.Error()}
		parts = append(parts,
			fmt.Sprintf(`error="%s"`, oauth.ErrorInsufficientScope),
			fmt.Sprintf(`error_description="%s"`, EscapeQuotes(err.Error())),
			fmt.Sprintf(`scope="%s"`, EscapeQuotes(strings.Join(scopeErr.Missing, " "))))
	default:
		body = oauth.ErrorResponse{Error: oauth.ErrorInvalidToken, ErrorDescription: err.Error()}
		parts = append(parts,
			fmt.Sprintf(`error="%s"`, oauth.ErrorInvalidToken),
			fmt.Sprintf(`error_description="%s"`, EscapeQuotes(err.Error())))
	}

	w.Header().Set("WWW-Authenticate", "Bearer "+strings.Join(parts, ", "))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// EscapeQuotes escapes a value for use inside an RFC 7230 quoted-string.
func EscapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
