package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/domus/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// get_device_info — full device inventory with stable IDs
	s.AddTool(
		mcp.NewTool("get_device_info",
			mcp.WithDescription("Get information about all available devices. Before using switch_control or light_set, call this tool to get each device's 'id'."),
		),
		handlers.GetDeviceInfo(deps.Cache),
	)

	// switch_control — turn devices on or off
	s.AddTool(
		mcp.NewTool("switch_control",
			mcp.WithDescription("Control switch devices. Returns one outcome per device id, in input order."),
			mcp.WithArray("id",
				mcp.Required(),
				mcp.Description("Device 'id's, obtained from get_device_info"),
				mcp.WithStringItems(),
			),
			mcp.WithBoolean("on",
				mcp.Required(),
				mcp.Description("Set to true to turn the devices on, false to turn them off"),
			),
		),
		handlers.SwitchControl(deps.Dispatcher),
	)

	// light_set — set light brightness
	s.AddTool(
		mcp.NewTool("light_set",
			mcp.WithDescription("Set the brightness percentage of light devices. Omit brightness to turn the lights off."),
			mcp.WithArray("id",
				mcp.Required(),
				mcp.Description("Light device 'id's, obtained from get_device_info"),
				mcp.WithStringItems(),
			),
			mcp.WithNumber("brightness",
				mcp.Description("Brightness percentage (0-100). Omitted means off."),
			),
		),
		handlers.LightSet(deps.Dispatcher),
	)

	// get_activity — recent control outcomes
	s.AddTool(
		mcp.NewTool("get_activity",
			mcp.WithDescription("List recent device control outcomes."),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries to return (default: 20)"),
			),
			mcp.WithBoolean("failed_only",
				mcp.Description("Only show failed commands"),
			),
		),
		handlers.GetActivity(deps.Activity),
	)
}
