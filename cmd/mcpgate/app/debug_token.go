// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/spf13/cobra"

	"github.com/stacklok/mcpgate/pkg/auth"
	"github.com/stacklok/mcpgate/pkg/config"
	mcperrors "github.com/stacklok/mcpgate/pkg/errors"
)

// inspectAlgorithms are accepted when decoding; the signature is never checked.
var inspectAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

func newDebugTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug-token [token]",
		Short: "Decode a bearer token and check it against the configuration",
		Long: `Decode an access token WITHOUT verifying its signature and report how its
issuer, audience, scopes and expiry compare with what the gateway accepts.
Reads the token from stdin when no argument is given.

This is a troubleshooting aid. It never tells you a token is valid, only why
it would be rejected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			raw, err := tokenArgument(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			report, err := inspectToken(raw, cfg.Auth, time.Now())
			if err != nil {
				return mcperrors.NewInvalidArgumentError("failed to decode token", err)
			}
			report.write(cmd.OutOrStdout())
			return nil
		},
	}
}

func tokenArgument(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "Bearer "))
	if token == "" {
		return "", mcperrors.NewInvalidArgumentError("no token given", nil)
	}
	return token, nil
}

// tokenReport compares unverified token contents with the configuration.
type tokenReport struct {
	KeyID     string
	Algorithm string
	Subject   string
	ClientID  string

	Issuer         string
	ExpectedIssuer string

	Audience          []string
	ExpectedAudiences []string
	AudienceChecked   bool

	Scopes        []string
	MissingScopes []string
	EnforceScopes bool

	ExpiresAt time.Time
	Now       time.Time
}

func (r tokenReport) issuerOK() bool { return r.Issuer == r.ExpectedIssuer }

func (r tokenReport) audienceOK() bool {
	if !r.AudienceChecked {
		return true
	}
	for _, a := range r.ExpectedAudiences {
		if slices.Contains(r.Audience, a) {
			return true
		}
	}
	return false
}

func (r tokenReport) expired() bool {
	return r.ExpiresAt.IsZero() || !r.Now.Before(r.ExpiresAt)
}

func (r tokenReport) scopesOK() bool {
	return !r.EnforceScopes || len(r.MissingScopes) == 0
}

// Problems lists the reasons the gateway would reject the token, signature aside.
func (r tokenReport) Problems() []string {
	var problems []string
	if r.expired() {
		problems = append(problems, auth.ErrTokenExpired.Error())
	}
	if !r.issuerOK() {
		problems = append(problems, auth.ErrIssuerMismatch.Error())
	}
	if !r.audienceOK() {
		problems = append(problems, auth.ErrAudienceMismatch.Error())
	}
	if !r.scopesOK() {
		problems = append(problems, (&auth.InsufficientScopeError{Missing: r.MissingScopes}).Error())
	}
	return problems
}

func inspectToken(raw string, cfg config.AuthProviderConfig, now time.Time) (tokenReport, error) {
	tok, err := jwt.ParseSigned(raw, inspectAlgorithms)
	if err != nil {
		return tokenReport{}, err
	}

	var registered jwt.Claims
	all := map[string]any{}
	if err := tok.UnsafeClaimsWithoutVerification(&registered, &all); err != nil {
		return tokenReport{}, err
	}

	report := tokenReport{
		Subject:           registered.Subject,
		Issuer:            registered.Issuer,
		ExpectedIssuer:    cfg.Endpoints.Issuer,
		Audience:          registered.Audience,
		ExpectedAudiences: cfg.Audiences,
		AudienceChecked:   !cfg.AudienceCheckDisabled,
		Scopes:            auth.ScopesFromClaims(all),
		EnforceScopes:     cfg.EnforceScopes,
		Now:               now,
	}
	if len(tok.Headers) > 0 {
		report.KeyID = tok.Headers[0].KeyID
		report.Algorithm = tok.Headers[0].Algorithm
	}
	if registered.Expiry != nil {
		report.ExpiresAt = registered.Expiry.Time()
	}
	for _, key := range []string{"azp", "client_id"} {
		if s, ok := all[key].(string); ok && s != "" {
			report.ClientID = s
			break
		}
	}
	report.MissingScopes = auth.MissingScopes(cfg.RequiredScopes, report.Scopes)
	return report, nil
}

func (r tokenReport) write(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(field, value string, ok bool) {
		status := "ok"
		if !ok {
			status = "FAIL"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", field, status, value)
	}
	info := func(field, value string) {
		_, _ = fmt.Fprintf(tw, "%s\t\t%s\n", field, value)
	}

	info("kid", orDash(r.KeyID))
	info("alg", orDash(r.Algorithm))
	info("sub", orDash(r.Subject))
	info("client", orDash(r.ClientID))
	row("iss", fmt.Sprintf("%s (expected %s)", orDash(r.Issuer), r.ExpectedIssuer), r.issuerOK())
	if r.AudienceChecked {
		row("aud", fmt.Sprintf("%v (accepted %v)", r.Audience, r.ExpectedAudiences), r.audienceOK())
	} else {
		info("aud", fmt.Sprintf("%v (check disabled)", r.Audience))
	}
	row("scope", fmt.Sprintf("%s (missing %v, enforced %t)", strings.Join(r.Scopes, " "), r.MissingScopes, r.EnforceScopes), r.scopesOK())
	exp := "none"
	if !r.ExpiresAt.IsZero() {
		exp = fmt.Sprintf("%s (in %s)", r.ExpiresAt.UTC().Format(time.RFC3339), r.ExpiresAt.Sub(r.Now).Round(time.Second))
	}
	row("exp", exp, !r.expired())
	_ = tw.Flush()

	if problems := r.Problems(); len(problems) > 0 {
		_, _ = fmt.Fprintf(w, "\nThe gateway would reject this token: %s\n", strings.Join(problems, "; "))
		return
	}
	_, _ = fmt.Fprintln(w, "\nClaims are acceptable. The signature was NOT checked.")
}
