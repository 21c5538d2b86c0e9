// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/stacklok/mcpgate/pkg/auth"
	"github.com/stacklok/mcpgate/pkg/config"
	mcperrors "github.com/stacklok/mcpgate/pkg/errors"
	"github.com/stacklok/mcpgate/pkg/gateway"
	"github.com/stacklok/mcpgate/pkg/logger"
	"github.com/stacklok/mcpgate/pkg/metrics"
	"github.com/stacklok/mcpgate/pkg/notes"
	"github.com/stacklok/mcpgate/pkg/tools"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway.

With --transport http (the default) the OAuth facade, the bearer-token layer
and the MCP endpoint are served on one listener. With --transport stdio the
MCP server reads JSON-RPC from stdin and writes to stdout; no facade is served
and calls run as a local principal holding --stdio-scopes.`,
		RunE: runServe,
	}

	cmd.Flags().String("host", "", "Address to bind (overrides SERVER_HOST)")
	cmd.Flags().Int("port", 0, "Port to bind (overrides SERVER_PORT)")
	cmd.Flags().String("transport", "", "Transport: http or stdio")
	cmd.Flags().StringSlice("stdio-scopes", config.ToolScopes, "Scopes granted to the local principal on the stdio transport")
	bindFlag(cmd, config.KeyServerHost, "host")
	bindFlag(cmd, config.KeyServerPort, "port")
	bindFlag(cmd, config.KeyTransport, "transport")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Infof("Identity provider: %s", cfg.Auth)

	store, err := newNotesStore(ctx, cfg.Notes)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("Failed to close notes store: %v", err)
		}
	}()

	m := metrics.New()
	mcpServer := tools.NewMCPServer(tools.Default(store, tools.WithInvokeHook(m.ObserveToolCall)))

	if cfg.Server.Transport == config.TransportStdio {
		scopes, err := cmd.Flags().GetStringSlice("stdio-scopes")
		if err != nil {
			return err
		}
		return serveStdio(ctx, mcpServer, auth.LocalPrincipal(scopes))
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		return mcperrors.NewConfigurationError("failed to create token verifier", err)
	}
	if err := verifier.Warm(ctx); err != nil {
		// tokens are still verified; keys are fetched again on first use
		logger.Warnf("Signing keys not available at startup: %v", err)
	}

	srv, err := gateway.NewServer(cfg, verifier, mcpServer, gateway.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	return srv.Start(ctx)
}

func newNotesStore(ctx context.Context, cfg config.NotesConfig) (notes.Store, error) {
	switch cfg.Backend {
	case config.NotesBackendRedis:
		store, err := notes.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, mcperrors.NewUpstreamError("failed to open redis notes store", err)
		}
		logger.Info("Using redis notes store")
		return store, nil
	default:
		logger.Info("Using in-memory notes store; notes are lost on restart")
		return notes.NewMemoryStore(), nil
	}
}

// serveStdio serves MCP over stdin/stdout. Logs go to stderr.
func serveStdio(ctx context.Context, mcpServer *server.MCPServer, principal *auth.Principal) error {
	logger.Infof("Serving MCP over stdio as %s", principal)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return auth.WithPrincipal(ctx, principal)
	})
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server error: %w", err)
	}
	return nil
}
