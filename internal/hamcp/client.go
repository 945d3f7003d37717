// Package hamcp implements the inventory and control service on the
// hub's MCP integration endpoint.
package hamcp

import (
	"context"
	"fmt"
	"log/slog"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ssePath is where the hub's mcp_server integration serves its endpoint.
const ssePath = "/mcp_server/sse"

// Client calls tools on the hub's MCP endpoint, authenticated with the
// proxy-scoped bearer token. Each call opens its own connection: the
// underlying client is not documented as safe for concurrent use, and
// connections here are scoped per operation anyway.
type Client struct {
	endpoint string
	bearer   string
	version  string
}

// New creates a Client for the hub at baseURL.
func New(baseURL, bearer, version string) *Client {
	return &Client{
		endpoint: baseURL + ssePath,
		bearer:   bearer,
		version:  version,
	}
}

// CallTool invokes one hub tool and returns the first text content block
// of the reply.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	cli, err := mcpclient.NewSSEMCPClient(c.endpoint, transport.WithHeaders(map[string]string{
		"Authorization": "Bearer " + c.bearer,
	}))
	if err != nil {
		return "", fmt.Errorf("creating hub MCP client: %w", err)
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Start(ctx); err != nil {
		return "", fmt.Errorf("connecting to hub MCP endpoint: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "domus", Version: c.version}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		return "", fmt.Errorf("initializing hub MCP session: %w", err)
	}

	slog.Debug("calling hub tool", "tool", name)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", name, err)
	}

	text, err := firstText(result)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("%s failed: %s", name, text)
	}
	return text, nil
}

func firstText(result *mcp.CallToolResult) (string, error) {
	if len(result.Content) == 0 {
		return "", fmt.Errorf("response content is empty")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "", fmt.Errorf("response content is not text")
	}
	return text.Text, nil
}
