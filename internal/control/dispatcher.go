// Package control resolves device IDs against the inventory cache and
// issues hub commands, one per device, collecting per-device outcomes.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/btouchard/domus/internal/devices"
)

// Hub tool names for the commands the dispatcher issues.
const (
	toolTurnOn   = "HassTurnOn"
	toolTurnOff  = "HassTurnOff"
	toolLightSet = "HassLightSet"
)

// Outcome is the per-device result of one batch operation. A batch always
// yields one Outcome per input ID, in input order; individual failures
// never abort the batch.
type Outcome struct {
	DeviceID string          `json:"device_id"`
	Success  bool            `json:"success"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// RecordFunc observes each completed outcome, e.g. to persist an activity
// trail. Called sequentially, in input order, after the batch finishes.
type RecordFunc func(tool string, deviceName string, o Outcome)

// Dispatcher issues batched device commands with bounded concurrency.
type Dispatcher struct {
	cache         *devices.Cache
	caller        devices.ToolCaller
	maxConcurrent int
	onRecord      RecordFunc
}

// NewDispatcher creates a Dispatcher over the cache and tool caller.
func NewDispatcher(cache *devices.Cache, caller devices.ToolCaller, maxConcurrent int) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &Dispatcher{
		cache:         cache,
		caller:        caller,
		maxConcurrent: maxConcurrent,
	}
}

// SetRecordFunc sets the callback invoked for each completed outcome.
func (d *Dispatcher) SetRecordFunc(fn RecordFunc) {
	d.onRecord = fn
}

// Switch turns the given devices on or off.
func (d *Dispatcher) Switch(ctx context.Context, ids []string, on bool) ([]Outcome, error) {
	tool := toolTurnOff
	if on {
		tool = toolTurnOn
	}
	slog.Info("switch control request", "count", len(ids), "on", on)

	return d.dispatch(ctx, tool, ids, func(dev devices.Descriptor) map[string]any {
		return map[string]any{"name": dev.Names, "area": dev.Areas}
	})
}

// LightSet sets the brightness of the given lights. A nil brightness
// omits the argument entirely, which the hub treats as "turn off"; it is
// never sent as an explicit zero.
func (d *Dispatcher) LightSet(ctx context.Context, ids []string, brightness *int) ([]Outcome, error) {
	slog.Info("light brightness request", "count", len(ids), "brightness", brightnessLabel(brightness))

	return d.dispatch(ctx, toolLightSet, ids, func(dev devices.Descriptor) map[string]any {
		args := map[string]any{"name": dev.Names, "area": dev.Areas}
		if brightness != nil {
			args["brightness"] = strconv.Itoa(*brightness)
		}
		return args
	})
}

// dispatch resolves every ID and issues the command per device. The cache
// read is not forced; a context fault there fails the whole batch, but
// any fault after resolution is captured in that device's outcome.
func (d *Dispatcher) dispatch(ctx context.Context, tool string, ids []string, argsFor func(devices.Descriptor) map[string]any) ([]Outcome, error) {
	inventory, err := d.cache.Get(ctx, false)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]devices.Descriptor, len(inventory))
	for _, dev := range inventory {
		byID[dev.ID] = dev
	}

	outcomes := make([]Outcome, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(d.maxConcurrent)

	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = d.one(ctx, tool, id, byID, argsFor)
			return nil
		})
	}
	_ = g.Wait() // per-device faults are captured in outcomes

	if d.onRecord != nil {
		for i, o := range outcomes {
			d.onRecord(tool, byID[ids[i]].Names, o)
		}
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}
	slog.Info("batch finished", "tool", tool, "success", succeeded, "fail", len(outcomes)-succeeded)

	return outcomes, nil
}

func (d *Dispatcher) one(ctx context.Context, tool, id string, byID map[string]devices.Descriptor, argsFor func(devices.Descriptor) map[string]any) Outcome {
	dev, ok := byID[id]
	if !ok {
		slog.Warn("device not found", "device_id", id)
		return Outcome{DeviceID: id, Error: fmt.Sprintf("device with id %q not found", id)}
	}

	if dev.Names == "" || dev.Areas == "" {
		slog.Warn("device missing name or area", "device_id", id)
		return Outcome{DeviceID: id, Error: fmt.Sprintf("device %q is missing 'names' or 'areas' information", id)}
	}

	result, err := d.command(ctx, tool, argsFor(dev))
	if err != nil {
		slog.Warn("device command failed", "tool", tool, "device_id", id, "error", err)
		return Outcome{DeviceID: id, Error: err.Error()}
	}

	return Outcome{DeviceID: id, Success: true, Result: result}
}

// command issues one tool call and validates the payload is JSON.
func (d *Dispatcher) command(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	text, err := d.caller.CallTool(ctx, tool, args)
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(text)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s returned a non-JSON response", tool)
	}
	return raw, nil
}

func brightnessLabel(b *int) string {
	if b == nil {
		return "none"
	}
	return strconv.Itoa(*b)
}
