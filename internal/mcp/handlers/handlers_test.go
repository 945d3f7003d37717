package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/domus/internal/control"
	"github.com/btouchard/domus/internal/devices"
	"github.com/btouchard/domus/internal/store"
)

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

// fakeTools serves a fixed inventory and records control calls.
type fakeTools struct {
	inventory string

	mu       sync.Mutex
	lastTool string
	lastArgs map[string]any
}

func (f *fakeTools) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	if name == "GetLiveContext" {
		b, _ := json.Marshal(map[string]any{"success": true, "result": f.inventory})
		return string(b), nil
	}
	f.mu.Lock()
	f.lastTool = name
	f.lastArgs = args
	f.mu.Unlock()
	return `{"success": true, "result": "done"}`, nil
}

const testInventory = `- names: Ceiling Light
  areas: Living Room
  domain: light
- names: Fan
  areas: Bedroom
  domain: switch
`

func newTestDeps() (*devices.Cache, *control.Dispatcher, *fakeTools) {
	tools := &fakeTools{inventory: testInventory}
	cache := devices.NewCache(tools)
	return cache, control.NewDispatcher(cache, tools, 2), tools
}

// --- GetDeviceInfo ---

func TestGetDeviceInfo_ReturnsInventoryWithIDs(t *testing.T) {
	t.Parallel()
	cache, _, _ := newTestDeps()
	handler := GetDeviceInfo(cache)

	result, err := handler(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	require.Len(t, out, 2)
	assert.Equal(t, devices.DeviceID("Ceiling Light"), out[0]["id"])
	assert.Equal(t, "Ceiling Light", out[0]["names"])
	assert.Equal(t, "light", out[0]["domain"])
}

func TestGetDeviceInfo_AlwaysForcesRefresh(t *testing.T) {
	t.Parallel()
	cache, _, _ := newTestDeps()
	handler := GetDeviceInfo(cache)

	_, err := handler(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	v1 := cache.Version()

	_, err = handler(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.Greater(t, cache.Version(), v1)
}

func TestGetDeviceInfo_WhenInventoryBroken_ReturnsToolError(t *testing.T) {
	t.Parallel()
	tools := &fakeTools{inventory: "]: not yaml ["}
	handler := GetDeviceInfo(devices.NewCache(tools))

	result, err := handler(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- SwitchControl ---

func TestSwitchControl_ReturnsOutcomesAsJSON(t *testing.T) {
	t.Parallel()
	_, dispatcher, tools := newTestDeps()
	handler := SwitchControl(dispatcher)

	fan := devices.DeviceID("Fan")
	result, err := handler(context.Background(), makeReq(map[string]any{
		"id": []any{fan, "bogus"},
		"on": true,
	}))
	require.NoError(t, err)

	var outcomes []control.Outcome
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &outcomes))
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, fan, outcomes[0].DeviceID)
	assert.False(t, outcomes[1].Success)
	assert.Contains(t, outcomes[1].Error, "not found")

	assert.Equal(t, "HassTurnOn", tools.lastTool)
}

func TestSwitchControl_WhenIDMissing_ReturnsError(t *testing.T) {
	t.Parallel()
	_, dispatcher, _ := newTestDeps()
	handler := SwitchControl(dispatcher)

	result, err := handler(context.Background(), makeReq(map[string]any{"on": true}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "array of strings")
}

func TestSwitchControl_WhenIDEmpty_ReturnsError(t *testing.T) {
	t.Parallel()
	_, dispatcher, _ := newTestDeps()
	handler := SwitchControl(dispatcher)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"id": []any{}, "on": true,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "at least one")
}

func TestSwitchControl_WhenOnMissing_ReturnsError(t *testing.T) {
	t.Parallel()
	_, dispatcher, _ := newTestDeps()
	handler := SwitchControl(dispatcher)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"id": []any{"some-id"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "on is required")
}

// --- LightSet ---

func TestLightSet_WithBrightness_ForwardsIt(t *testing.T) {
	t.Parallel()
	_, dispatcher, tools := newTestDeps()
	handler := LightSet(dispatcher)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"id":         []any{devices.DeviceID("Ceiling Light")},
		"brightness": float64(40),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, "HassLightSet", tools.lastTool)
	assert.Equal(t, "40", tools.lastArgs["brightness"])
}

func TestLightSet_WithoutBrightness_OmitsArgument(t *testing.T) {
	t.Parallel()
	_, dispatcher, tools := newTestDeps()
	handler := LightSet(dispatcher)

	_, err := handler(context.Background(), makeReq(map[string]any{
		"id": []any{devices.DeviceID("Ceiling Light")},
	}))
	require.NoError(t, err)

	_, present := tools.lastArgs["brightness"]
	assert.False(t, present)
}

func TestLightSet_BrightnessOutOfRange_ReturnsError(t *testing.T) {
	t.Parallel()
	_, dispatcher, _ := newTestDeps()
	handler := LightSet(dispatcher)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"id":         []any{"some-id"},
		"brightness": float64(150),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "between 0 and 100")
}

// --- GetActivity ---

type fakeActivity struct {
	events     []store.ControlEvent
	lastFilter store.ControlFilter
}

func (f *fakeActivity) RecordControl(e *store.ControlEvent) error { return nil }
func (f *fakeActivity) ListControls(filter store.ControlFilter) ([]store.ControlEvent, error) {
	f.lastFilter = filter
	return f.events, nil
}
func (f *fakeActivity) Cleanup() error { return nil }
func (f *fakeActivity) Close() error   { return nil }

func TestGetActivity_ReturnsEntries(t *testing.T) {
	t.Parallel()
	activity := &fakeActivity{events: []store.ControlEvent{
		{Tool: "HassTurnOn", DeviceID: "abc", DeviceName: "Fan", Success: true, CreatedAt: time.Now()},
	}}
	handler := GetActivity(activity)

	result, err := handler(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "HassTurnOn", entries[0]["tool"])
	assert.Equal(t, "Fan", entries[0]["device_name"])
	assert.Equal(t, store.ControlFilter{Limit: 20}, activity.lastFilter)
}

func TestGetActivity_AppliesFilters(t *testing.T) {
	t.Parallel()
	activity := &fakeActivity{}
	handler := GetActivity(activity)

	_, err := handler(context.Background(), makeReq(map[string]any{
		"limit":       float64(5),
		"failed_only": true,
	}))
	require.NoError(t, err)

	assert.Equal(t, 5, activity.lastFilter.Limit)
	assert.True(t, activity.lastFilter.FailedOnly)
}
