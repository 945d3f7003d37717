package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/domus/internal/devices"
)

// GetDeviceInfo returns a handler serving the full device inventory.
// The inventory is always force-refreshed so clients see current state.
func GetDeviceInfo(cache *devices.Cache) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		inventory, err := cache.Get(ctx, true)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to load device info: %s", err)), nil
		}

		return jsonResult(inventory)
	}
}

// jsonResult marshals v as the tool's text payload.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %s", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
