package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Authenticator obtains a user-level access token from the hub. Defined
// as an interface so the bootstrap can be exercised without a hub.
type Authenticator interface {
	Authenticate(ctx context.Context, baseURL, username, password string) (string, error)
}

// LoginFlow authenticates against the hub's login-flow API: it creates a
// flow, submits the username and password, and exchanges the resulting
// authorization code for an access token.
type LoginFlow struct {
	// HTTPClient overrides the client used for the three calls. Nil
	// means a client with a 30s timeout.
	HTTPClient *http.Client
}

type flowStep struct {
	FlowID string            `json:"flow_id"`
	Type   string            `json:"type"`
	Result string            `json:"result"`
	Errors map[string]string `json:"errors"`
}

// Authenticate runs the full login flow. Rejected credentials yield an
// *AuthError; transport and protocol problems a plain error.
func (f *LoginFlow) Authenticate(ctx context.Context, baseURL, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", &AuthError{Reason: "no cached token and no hub username/password configured"}
	}

	// The hub requires client_id to be a URL; its own base URL is the
	// conventional choice.
	clientID := strings.TrimSuffix(baseURL, "/") + "/"

	slog.Info("authenticating against hub", "url", baseURL, "username", username)

	step, err := f.postJSON(ctx, baseURL+"/auth/login_flow", map[string]any{
		"client_id":    clientID,
		"handler":      []any{"homeassistant", nil},
		"redirect_uri": clientID,
	})
	if err != nil {
		return "", fmt.Errorf("starting login flow: %w", err)
	}

	step, err = f.postJSON(ctx, baseURL+"/auth/login_flow/"+step.FlowID, map[string]any{
		"client_id": clientID,
		"username":  username,
		"password":  password,
	})
	if err != nil {
		return "", fmt.Errorf("submitting credentials: %w", err)
	}
	if step.Type != "create_entry" {
		reason := "invalid credentials"
		if msg, ok := step.Errors["base"]; ok {
			reason = msg
		}
		return "", &AuthError{Reason: reason}
	}

	return f.exchangeCode(ctx, baseURL, clientID, step.Result)
}

func (f *LoginFlow) postJSON(ctx context.Context, url string, body map[string]any) (*flowStep, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hub returned %s", resp.Status)
	}

	var step flowStep
	if err := json.NewDecoder(resp.Body).Decode(&step); err != nil {
		return nil, fmt.Errorf("decoding flow step: %w", err)
	}
	return &step, nil
}

func (f *LoginFlow) exchangeCode(ctx context.Context, baseURL, clientID, code string) (string, error) {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
		"client_id":  {clientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("exchanging authorization code: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &AuthError{Reason: fmt.Sprintf("token exchange returned %s: %s", resp.Status, strings.TrimSpace(string(body)))}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access_token")
	}
	return tok.AccessToken, nil
}

func (f *LoginFlow) client() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
