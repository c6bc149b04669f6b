// Command host-example wires a server endpoint and a client endpoint
// together over an in-process pipe, exercises the capability surface, and
// optionally exposes the server over HTTP+SSE for external clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/joeshaw/envdecode"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
	"github.com/hostbridge/mcp-endpoint-go/pkg/endpoint"
	"github.com/hostbridge/mcp-endpoint-go/pkg/manager"
	"github.com/hostbridge/mcp-endpoint-go/pkg/transport"
)

type config struct {
	// ListenAddr enables the HTTP+SSE listener when non-empty. ENV: HOST_ADDR
	ListenAddr string `env:"HOST_ADDR"`
	// LogLevel is debug, info, warn, or error. ENV: HOST_LOG_LEVEL
	LogLevel string `env:"HOST_LOG_LEVEL,default=info"`
	// CallTimeout bounds each outbound call. ENV: HOST_CALL_TIMEOUT
	CallTimeout time.Duration `env:"HOST_CALL_TIMEOUT,default=10s"`
}

func main() {
	var cfg config
	_ = envdecode.Decode(&cfg)

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("host-example failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	servers := manager.NewServerManager(manager.Options{
		DefaultName:    "docs",
		DefaultTimeout: cfg.CallTimeout,
		Logger:         log,
	})
	srv, err := servers.Create(endpoint.Config{
		Name:    "docs",
		Version: "0.1.0",
		Capabilities: endpoint.Capabilities{
			Logging: true,
		},
	})
	if err != nil {
		return err
	}

	if err := servers.AddTool("docs", capability.Entry{
		Name:        "docs/search",
		Description: "Search the documentation index",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: "search terms"},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query must not be empty")
			}
			return fmt.Sprintf("no documents matched %q", query), nil
		},
	}); err != nil {
		return err
	}
	if err := servers.AddResource("docs", capability.Entry{
		Name:     "docs://readme",
		Title:    "Project readme",
		MIMEType: "text/markdown",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "# Docs host\n\nServed by the example endpoint.", nil
		},
	}); err != nil {
		return err
	}

	if err := servers.Start(ctx, "docs"); err != nil {
		return err
	}
	defer servers.StopAll(context.Background())

	// Local client over an in-process pipe.
	clientHalf, serverHalf := transport.NewInProcPipe()
	if err := srv.Bind(ctx, serverHalf); err != nil {
		return err
	}

	clients := manager.NewClientManager(manager.Options{
		DefaultName:    "local",
		DefaultTimeout: cfg.CallTimeout,
		Logger:         log,
	})
	if _, err := clients.Create(endpoint.Config{
		Name:    "local",
		Version: "0.1.0",
		Capabilities: endpoint.Capabilities{
			Roots: endpoint.RootsCapability{Enabled: true, ListChanged: true},
		},
	}, nil); err != nil {
		return err
	}
	if err := clients.Start(ctx, "local", clientHalf); err != nil {
		return err
	}
	defer clients.StopAll(context.Background())

	tools, err := clients.ListTools(ctx, "")
	if err != nil {
		return err
	}
	for _, tool := range tools.Tools {
		fmt.Printf("tool: %s\t%s\n", tool.Name, tool.Description)
	}

	result, err := clients.CallTool(ctx, "", "docs/search", map[string]any{"query": "transport"})
	if err != nil {
		return err
	}
	fmt.Printf("docs/search isError=%v content=%d\n", result.IsError, len(result.Content))

	readme, err := clients.ReadResource(ctx, "", "docs://readme")
	if err != nil {
		return err
	}
	for _, c := range readme.Contents {
		fmt.Printf("resource %s (%s): %d bytes\n", c.URI, c.MIMEType, len(c.Text))
	}

	if cfg.ListenAddr == "" {
		return nil
	}

	// External clients attach over HTTP+SSE; each accepted stream becomes
	// one more session on the same server endpoint.
	sse := &transport.SSEServer{
		Path:   "/mcp",
		Logger: log,
		OnSession: func(t transport.Transport) {
			if err := srv.Bind(context.Background(), t); err != nil {
				log.Warn("sse session rejected", "error", err)
			}
		},
	}
	log.Info("listening", "addr", cfg.ListenAddr, "path", "/mcp")
	return http.ListenAndServe(cfg.ListenAddr, sse.Handler())
}
