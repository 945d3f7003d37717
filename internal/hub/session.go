// Package hub talks to the Home Assistant instance: an authenticated
// WebSocket session for token management and config-entry events, plus
// the small REST flows for login and integration setup.
package hub

import "context"

// RefreshToken is a hub-side credential record as reported by the
// auth/refresh_tokens command.
type RefreshToken struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	ClientName string `json:"client_name"`
}

// TypeLongLived is the refresh-token type of long-lived access tokens.
const TypeLongLived = "long_lived_access_token"

// ConfigEntryChange is one element of a config_entries/subscribe event
// batch. Entry carries the hub's raw entry object; Domain is the only
// field the bootstrap cares about.
type ConfigEntryChange struct {
	Type  string `json:"type"`
	Entry struct {
		Domain string `json:"domain"`
	} `json:"entry"`
}

// Session is an open, authenticated hub connection. A Session is scoped to
// one logical operation: open it, do the work, close it. It is not safe
// for concurrent use.
type Session interface {
	// ListRefreshTokens returns every refresh token the hub knows for
	// the authenticated user.
	ListRefreshTokens(ctx context.Context) ([]RefreshToken, error)

	// DeleteRefreshToken revokes the refresh token with the given ID.
	DeleteRefreshToken(ctx context.Context, id string) error

	// CreateLongLivedToken creates a long-lived access token under
	// clientName and returns its bearer value.
	CreateLongLivedToken(ctx context.Context, clientName string) (string, error)

	// SubscribeConfigEntries subscribes to config-entry changes for the
	// given entry types. The hub reports currently-configured entries as
	// an initial burst on the returned channel; the channel is closed
	// when the session ends.
	SubscribeConfigEntries(ctx context.Context, typeFilter []string) (<-chan []ConfigEntryChange, error)

	// Close tears the session down.
	Close() error
}

// Dialer opens hub sessions. Defined as an interface so the bootstrap can
// be exercised without a hub.
type Dialer interface {
	Dial(ctx context.Context, baseURL, bearer string) (Session, error)
}

// AuthError reports an authentication failure against the hub. It is the
// one fault class that invalidates the cached base credential.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "hub authentication failed: " + e.Reason
}
