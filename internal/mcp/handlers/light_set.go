package handlers

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/domus/internal/control"
)

// LightSet returns a handler that sets light brightness in batch. An
// absent brightness argument is forwarded as absent (the hub reads that
// as "turn off"), never as zero.
func LightSet(d *control.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		ids, err := stringList(args["id"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("id: %s", err)), nil
		}
		if len(ids) == 0 {
			return mcp.NewToolResultError("id must contain at least one device id"), nil
		}

		var brightness *int
		if raw, present := args["brightness"]; present {
			f, ok := raw.(float64)
			if !ok {
				return mcp.NewToolResultError("brightness must be a number"), nil
			}
			b := int(f)
			if b < 0 || b > 100 {
				return mcp.NewToolResultError(fmt.Sprintf("brightness must be between 0 and 100, got %d", b)), nil
			}
			brightness = &b
		}

		outcomes, err := d.LightSet(ctx, ids, brightness)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Light control failed: %s", err)), nil
		}

		return jsonResult(outcomes)
	}
}
