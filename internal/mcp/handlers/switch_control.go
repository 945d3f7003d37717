package handlers

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/domus/internal/control"
)

// SwitchControl returns a handler that turns devices on or off in batch.
func SwitchControl(d *control.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		ids, err := stringList(args["id"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("id: %s", err)), nil
		}
		if len(ids) == 0 {
			return mcp.NewToolResultError("id must contain at least one device id"), nil
		}

		on, ok := args["on"].(bool)
		if !ok {
			return mcp.NewToolResultError("on is required and must be a boolean"), nil
		}

		outcomes, err := d.Switch(ctx, ids, on)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Switch control failed: %s", err)), nil
		}

		return jsonResult(outcomes)
	}
}

// stringList coerces a JSON array argument into []string.
func stringList(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be an array of strings")
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("must be an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
