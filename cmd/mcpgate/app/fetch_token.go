// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/stacklok/mcpgate/pkg/config"
	mcperrors "github.com/stacklok/mcpgate/pkg/errors"
	"github.com/stacklok/mcpgate/pkg/networking"
	"github.com/stacklok/mcpgate/pkg/versions"
)

const fetchTimeout = 30 * time.Second

func newFetchTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-token",
		Short: "Obtain an access token with the client credentials grant",
		Long: `Request an access token from the identity provider's token endpoint using the
configured client id and secret (RFC 6749 Section 4.4). The token is printed
on stdout so it can be piped into debug-token or used with curl.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			scopes, _ := cmd.Flags().GetStringSlice("scope")
			audience, _ := cmd.Flags().GetString("audience")

			ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
			defer cancel()

			client, err := providerHTTPClient(cfg.Auth, cfg.Auth.Endpoints.Token)
			if err != nil {
				return fmt.Errorf("failed to create HTTP client: %w", err)
			}
			token, err := fetchClientCredentialsToken(ctx, client, cfg.Auth, scopes, audience)
			if err != nil {
				return mcperrors.NewUpstreamError("token request failed", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
			if !token.Expiry.IsZero() {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", token.Expiry.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("scope", nil, "Scopes to request (default: the tool scopes)")
	cmd.Flags().String("audience", "", "Audience parameter to send (default: the first configured audience)")
	return cmd
}

// providerHTTPClient builds the outbound client for talking to the identity
// provider at target. Plain http is only allowed when target uses it.
func providerHTTPClient(cfg config.AuthProviderConfig, target string) (*http.Client, error) {
	return networking.NewHttpClientBuilder().
		WithCABundle(cfg.CACertPath).
		WithPrivateIPs(cfg.AllowPrivateIP).
		WithInsecureHTTP(strings.HasPrefix(target, "http://")).
		WithUserAgent(versions.UserAgent()).
		Build()
}

func fetchClientCredentialsToken(
	ctx context.Context,
	client *http.Client,
	cfg config.AuthProviderConfig,
	scopes []string,
	audience string,
) (*oauth2.Token, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client id and secret are required for the client credentials grant")
	}
	if len(scopes) == 0 {
		scopes = config.ToolScopes
	}
	if audience == "" && len(cfg.Audiences) > 0 {
		audience = cfg.Audiences[0]
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.Endpoints.Token,
		Scopes:       scopes,
	}
	if audience != "" {
		// Auth0 selects the API by audience; Keycloak ignores the parameter
		cc.EndpointParams = url.Values{"audience": {audience}}
	}

	return cc.Token(context.WithValue(ctx, oauth2.HTTPClient, client))
}
