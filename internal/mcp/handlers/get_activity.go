package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/domus/internal/store"
)

// activityEntry is the JSON shape served for one control event.
type activityEntry struct {
	Tool       string    `json:"tool"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
	Success    bool      `json:"success"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// GetActivity returns a handler listing recent control outcomes.
func GetActivity(s store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := store.ControlFilter{Limit: 20}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}
		if failedOnly, ok := args["failed_only"].(bool); ok {
			filter.FailedOnly = failedOnly
		}

		events, err := s.ListControls(filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list activity: %s", err)), nil
		}

		entries := make([]activityEntry, 0, len(events))
		for _, e := range events {
			entries = append(entries, activityEntry{
				Tool:       e.Tool,
				DeviceID:   e.DeviceID,
				DeviceName: e.DeviceName,
				Success:    e.Success,
				Detail:     e.Detail,
				At:         e.CreatedAt,
			})
		}

		return jsonResult(entries)
	}
}
