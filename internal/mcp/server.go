// Package mcp wires internal/service's agent-facing operations onto a Model
// Context Protocol server, one tool per operation.
//
// Unlike the client-facing transports the rest of the ecosystem builds
// against external MCP servers, memoryd itself IS the server: a
// conversational agent spawns (stdio) or dials (streamable-http) memoryd and
// calls its ten tools directly. [NewServer] builds the tool catalogue;
// [Serve] runs it against the configured transport.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/knowgraph/memoryd/internal/config"
	"github.com/knowgraph/memoryd/internal/mcp/tools"
	"github.com/knowgraph/memoryd/internal/mcp/tools/graphtool"
	"github.com/knowgraph/memoryd/internal/observe"
	"github.com/knowgraph/memoryd/internal/service"
)

// serverName identifies memoryd to connecting clients during the MCP
// initialize handshake; the version reported alongside it is [NewServer]'s
// version argument.
const serverName = "memoryd"

// NewServer builds an MCP server exposing svc's ten operations as tools,
// scoped to userID.
func NewServer(svc service.Service, userID, version string) *mcpsdk.Server {
	impl := &mcpsdk.Implementation{Name: serverName, Version: version}
	server := mcpsdk.NewServer(impl, nil)

	for _, t := range graphtool.NewTools(svc, userID) {
		registerTool(server, t)
	}
	return server
}

// registerTool adapts a [tools.Tool] (JSON-string in, JSON-string out) onto
// the SDK's raw [mcpsdk.ToolHandler] shape.
func registerTool(server *mcpsdk.Server, t tools.Tool) {
	sdkTool := &mcpsdk.Tool{
		Name:        t.Definition.Name,
		Description: t.Definition.Description,
		InputSchema: t.Definition.Parameters,
	}

	handler := func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		ctx, span := observe.StartSpan(ctx, "mcp.tool."+t.Definition.Name)
		defer span.End()

		args := "{}"
		if len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}

		start := time.Now()
		out, err := t.Handler(ctx, args)

		status := "ok"
		if err != nil {
			status = "error"
		}
		observe.DefaultMetrics().RecordToolCall(ctx, t.Definition.Name, status, time.Since(start).Seconds())

		if err != nil {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
		}, nil
	}

	server.AddTool(sdkTool, handler)
}

// Serve runs server against the transport cfg describes, blocking until ctx
// is cancelled or the transport fails.
//
// [config.MCPServerConfig.Transport] "stdio" communicates over the process's
// own stdin/stdout, the natural shape for an agent framework that spawns
// memoryd as a subprocess per session. "streamable-http" instead listens on
// cfg.URL, for agent frameworks that dial out to a long-running memoryd.
func Serve(ctx context.Context, server *mcpsdk.Server, cfg config.MCPServerConfig) error {
	transport := Transport(cfg.Transport)
	if !transport.IsValid() {
		return fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	switch transport {
	case TransportStdio:
		return server.Run(ctx, &mcpsdk.StdioTransport{})

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		handler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return server }, nil)
		httpServer := &http.Server{Addr: cfg.URL, Handler: handler}

		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()

		select {
		case <-ctx.Done():
			return httpServer.Shutdown(context.Background())
		case err := <-errCh:
			return fmt.Errorf("mcp: streamable-http server %q: %w", cfg.Name, err)
		}
	}
	return nil
}
