package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// IntegrationDomain is the hub-side integration Domus depends on for its
// inventory and control tool calls.
const IntegrationDomain = "mcp_server"

// Installer sets up a hub integration. Defined as an interface so the
// bootstrap can be exercised without a hub.
type Installer interface {
	Install(ctx context.Context, baseURL, bearer, domain string) (string, error)
}

// ConfigFlow installs integrations through the hub's config-entries flow
// API, authenticated with a bearer token.
type ConfigFlow struct {
	// HTTPClient overrides the client used for the call. Nil means a
	// client with a 30s timeout.
	HTTPClient *http.Client
}

// Install starts a config flow for domain and returns the hub's result
// description. The mcp_server flow has no user steps: starting it either
// creates the entry or reports why it could not.
func (c *ConfigFlow) Install(ctx context.Context, baseURL, bearer, domain string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"handler":               domain,
		"show_advanced_options": false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/api/config/config_entries/flow", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("starting config flow for %s: %w", domain, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("config flow for %s returned %s", domain, resp.Status)
	}

	var result struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding config flow result: %w", err)
	}

	switch result.Type {
	case "create_entry":
		return "created " + result.Title, nil
	case "abort":
		return "aborted: " + result.Reason, nil
	default:
		return result.Type, nil
	}
}
