package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calder/toolgate/pkg/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool registry over the protocol",
	Long: `Serve the registry to protocol clients over the configured transport.

With the stdio transport the process speaks newline-delimited JSON-RPC
on stdin/stdout and exits when the peer closes the stream. With the
websocket and http transports it listens on the configured host:port
and serves each connection as an independent session.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	info := mcp.ServerInfo{Name: "toolgate", Version: version}

	switch a.cfg.Server.Transport {
	case "stdio":
		return serveStdio(ctx, a, info)
	case "websocket":
		return serveWebSocket(ctx, a, info)
	case "http":
		return serveHTTP(ctx, a, info)
	default:
		return fmt.Errorf("unsupported transport %q", a.cfg.Server.Transport)
	}
}

func serveStdio(ctx context.Context, a *app, info mcp.ServerInfo) error {
	log := a.logger()
	log.Info().Msg("Serving on stdio")
	transport := mcp.NewStdioTransport(os.Stdin, os.Stdout, nil)
	server := mcp.NewServer(info, a.registry, mcp.WithServerLogger(a.logger()))
	return server.Serve(ctx, transport)
}

func serveWebSocket(ctx context.Context, a *app, info mcp.ServerInfo) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	log := a.logger()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		transport, err := mcp.UpgradeWS(w, r)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		server := mcp.NewServer(info, a.registry, mcp.WithServerLogger(a.logger()))
		go func() {
			if err := server.Serve(ctx, transport); err != nil {
				log.Debug().Err(err).Msg("Session ended with error")
			}
		}()
	})

	return listenAndServe(ctx, a, addr, mux, "WebSocket endpoint at /ws")
}

func serveHTTP(ctx context.Context, a *app, info mcp.ServerInfo) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	handler := mcp.NewHTTPHandler()
	log := a.logger()

	go func() {
		for {
			transport, err := handler.Accept(ctx)
			if err != nil {
				return
			}
			server := mcp.NewServer(info, a.registry, mcp.WithServerLogger(a.logger()))
			go func() {
				if err := server.Serve(ctx, transport); err != nil {
					log.Debug().Err(err).Msg("Session ended with error")
				}
			}()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/mcp/", handler)

	return listenAndServe(ctx, a, addr, mux, "HTTP endpoint at /mcp (POST /mcp/rpc, GET /mcp/events)")
}

func listenAndServe(ctx context.Context, a *app, addr string, handler http.Handler, what string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	log := a.logger()
	go func() {
		log.Info().Str("addr", addr).Msg(what)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
