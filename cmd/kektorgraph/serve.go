package main

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	kgmcp "github.com/sanonone/kektorgraph/internal/mcp"
	"github.com/sanonone/kektorgraph/internal/server"
)

var (
	httpAddr  string
	authToken string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Open the engine and serve the JSON API, /metrics and /healthz until
SIGINT or SIGTERM. Knowledge endpoints use the configured embedder.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP tool server on stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)

	serveCmd.Flags().StringVar(&httpAddr, "http-addr", "", "Listen address (overrides server.http_addr)")
	serveCmd.Flags().StringVar(&authToken, "auth-token", "", "Bearer token (overrides server.auth_token)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if httpAddr != "" {
		cfg.Server.HTTPAddr = httpAddr
	}
	if authToken != "" {
		cfg.Server.AuthToken = authToken
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	kb, _, err := openKnowledge(eng)
	if err != nil {
		return err
	}
	srv, err := server.NewServer(eng, kb, cfg.Server)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		return err
	case sig := <-exitOnSignal():
		slog.Info("shutdown requested", "signal", sig.String())
	}
	srv.Shutdown()
	return <-errCh
}

func runMCP(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	kb, emb, err := openKnowledge(eng)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		<-exitOnSignal()
		cancel()
	}()

	slog.Info("MCP server running on stdio", "graph", eng.Name())
	return kgmcp.NewMCPServer(eng, kb, emb).Run(ctx, &mcp.StdioTransport{})
}
