// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/mcpgate/pkg/authserver"
	"github.com/stacklok/mcpgate/pkg/config"
	mcperrors "github.com/stacklok/mcpgate/pkg/errors"
	"github.com/stacklok/mcpgate/pkg/oauth"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"

	probeTimeout = 15 * time.Second
)

func newDiscoveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discovery",
		Short: "Inspect the discovery documents",
	}
	cmd.AddCommand(newDiscoveryPrintCmd())
	cmd.AddCommand(newDiscoveryProbeCmd())
	return cmd
}

func newDiscoveryPrintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the authorization server metadata this gateway serves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			metadata := authserver.BuildAuthorizationServerMetadata(cfg.Auth, cfg.Server.RegistrationEndpoint())
			return writeMetadata(cmd.OutOrStdout(), metadata, output)
		},
	}
	cmd.Flags().StringP("output", "o", outputJSON, "Output format: json or yaml")
	return cmd
}

func writeMetadata(w io.Writer, metadata oauth.AuthorizationServerMetadata, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(metadata)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(metadata); err != nil {
			return err
		}
		return enc.Close()
	default:
		return mcperrors.NewInvalidArgumentError(fmt.Sprintf("unknown output format %q", format), nil)
	}
}

func newDiscoveryProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Compare the configured endpoints with the provider's own discovery document",
		Long: `Fetch the identity provider's OpenID Connect discovery document and compare
its issuer and endpoints with the ones this gateway advertises. Exits non-zero
when they differ.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()

			upstream, err := fetchProviderMetadata(ctx, cfg.Auth)
			if err != nil {
				return mcperrors.NewUpstreamError("discovery probe failed", err)
			}

			diffs := compareEndpoints(cfg.Auth.Endpoints, upstream)
			if err := writeDiffs(cmd.OutOrStdout(), diffs); err != nil {
				return err
			}
			if mismatched := countMismatches(diffs); mismatched > 0 {
				return mcperrors.NewConfigurationError(
					fmt.Sprintf("%d endpoint(s) differ from the provider's discovery document", mismatched), nil)
			}
			return nil
		},
	}
}

// fetchProviderMetadata runs OIDC discovery against the configured issuer.
// go-oidc rejects a document whose issuer differs from the one requested.
func fetchProviderMetadata(ctx context.Context, auth config.AuthProviderConfig) (oauth.AuthorizationServerMetadata, error) {
	client, err := providerHTTPClient(auth, auth.Endpoints.Issuer)
	if err != nil {
		return oauth.AuthorizationServerMetadata{}, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), auth.Endpoints.Issuer)
	if err != nil {
		return oauth.AuthorizationServerMetadata{}, fmt.Errorf("failed to discover provider: %w", err)
	}

	var metadata oauth.AuthorizationServerMetadata
	if err := provider.Claims(&metadata); err != nil {
		return oauth.AuthorizationServerMetadata{}, fmt.Errorf("failed to decode provider metadata: %w", err)
	}
	return metadata, nil
}

type endpointDiff struct {
	Name       string
	Configured string
	Upstream   string
}

func (d endpointDiff) matches() bool {
	// an endpoint we do not advertise cannot be wrong
	return d.Configured == "" || d.Configured == d.Upstream
}

func compareEndpoints(want config.Endpoints, got oauth.AuthorizationServerMetadata) []endpointDiff {
	return []endpointDiff{
		{"issuer", want.Issuer, got.Issuer},
		{"authorization_endpoint", want.Authorization, got.AuthorizationEndpoint},
		{"token_endpoint", want.Token, got.TokenEndpoint},
		{"jwks_uri", want.JWKS, got.JWKSURI},
		{"userinfo_endpoint", want.UserInfo, got.UserinfoEndpoint},
		{"revocation_endpoint", want.Revocation, got.RevocationEndpoint},
		{"introspection_endpoint", want.Introspection, got.IntrospectionEndpoint},
		{"end_session_endpoint", want.EndSession, got.EndSessionEndpoint},
	}
}

func countMismatches(diffs []endpointDiff) int {
	n := 0
	for _, d := range diffs {
		if !d.matches() {
			n++
		}
	}
	return n
}

func writeDiffs(w io.Writer, diffs []endpointDiff) error {
	headers := []string{"Field", "Status", "Configured", "Upstream"}
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader(headers),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(len(headers), tw.AlignLeft)),
	)

	for _, d := range diffs {
		status := "ok"
		if !d.matches() {
			status = "MISMATCH"
		}
		if err := table.Append([]string{d.Name, status, orDash(d.Configured), orDash(d.Upstream)}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
