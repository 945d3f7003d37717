package devices

import (
	"context"
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

const (
	// inventoryTool is the hub tool returning the textual device overview.
	inventoryTool = "GetLiveContext"

	// contextPrefix is the label the hub prepends to the inventory text.
	contextPrefix = "Live Context: An overview of the areas and the devices in this smart home:"
)

// ToolCaller issues one tool call against the hub's inventory and control
// service and returns the textual payload. Defined at the consumer side.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// ContextError reports a failed inventory fetch or parse. The cache is
// left untouched when it occurs.
type ContextError struct {
	Reason string
	Err    error
}

func (e *ContextError) Error() string {
	if e.Err != nil {
		return "device context: " + e.Reason + ": " + e.Err.Error()
	}
	return "device context: " + e.Reason
}

func (e *ContextError) Unwrap() error { return e.Err }

// Cache holds the parsed device inventory, refreshed only when the raw
// inventory text actually changes. Safe for concurrent use; concurrent
// refreshes are collapsed into a single fetch.
type Cache struct {
	caller ToolCaller
	group  singleflight.Group

	mu      sync.RWMutex
	devices []Descriptor
	rawHash string
	loaded  bool
	version uint64
}

// NewCache creates a Cache over the given tool caller.
func NewCache(caller ToolCaller) *Cache {
	return &Cache{caller: caller}
}

// Get returns the current device inventory. The raw text is fetched on
// every call; the parse and ID assignment only happen when forceRefresh
// is set, no inventory has been loaded yet, or the text's hash differs
// from the cached one. A fetch or parse failure surfaces as a
// *ContextError and leaves previously-good state intact.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) ([]Descriptor, error) {
	v, err, _ := c.group.Do(inventoryTool, func() (any, error) {
		return c.refresh(ctx, forceRefresh)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Descriptor), nil
}

// Version returns a counter incremented each time the cache is replaced.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Cache) refresh(ctx context.Context, force bool) ([]Descriptor, error) {
	raw, err := c.fetchRaw(ctx)
	if err != nil {
		return nil, err
	}
	sum := hashText(raw)

	c.mu.RLock()
	if !force && c.loaded && c.rawHash == sum {
		devices := c.snapshotLocked()
		c.mu.RUnlock()
		return devices, nil
	}
	c.mu.RUnlock()

	var parsed []Descriptor
	if err := yaml.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &ContextError{Reason: "parsing inventory", Err: err}
	}
	for i := range parsed {
		parsed[i].ID = DeviceID(parsed[i].Names)
	}

	c.mu.Lock()
	c.devices = parsed
	c.rawHash = sum
	c.loaded = true
	c.version++
	devices := c.snapshotLocked()
	version := c.version
	c.mu.Unlock()

	slog.Info("device context refreshed", "devices", len(parsed), "version", version)
	return devices, nil
}

// fetchRaw fetches the inventory text and strips the leading label.
func (c *Cache) fetchRaw(ctx context.Context) (string, error) {
	text, err := c.caller.CallTool(ctx, inventoryTool, nil)
	if err != nil {
		return "", &ContextError{Reason: "fetching inventory", Err: err}
	}

	var reply struct {
		Success bool   `json:"success"`
		Result  string `json:"result"`
	}
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return "", &ContextError{Reason: "decoding inventory response", Err: err}
	}
	if !reply.Success {
		return "", &ContextError{Reason: fmt.Sprintf("hub reported failure: %s", reply.Result)}
	}

	return strings.TrimSpace(strings.Replace(reply.Result, contextPrefix, "", 1)), nil
}

// snapshotLocked copies the device slice so callers cannot alias the
// cache's backing array. Callers must hold mu.
func (c *Cache) snapshotLocked() []Descriptor {
	out := make([]Descriptor, len(c.devices))
	copy(out, c.devices)
	return out
}

func hashText(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // content addressing, not security
	return hex.EncodeToString(sum[:])
}
