// Package bootstrap acquires the proxy-scoped long-lived token and makes
// sure the hub-side MCP integration exists. It runs once at startup; every
// later hub call authenticates with the token it returns.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/btouchard/domus/internal/config"
	"github.com/btouchard/domus/internal/credential"
	"github.com/btouchard/domus/internal/hub"
)

// ClientName is the reserved client_name under which the proxy's
// long-lived token is created on the hub.
const ClientName = "mcp"

// entryTypeFilter selects the config-entry categories scanned for the
// integration probe.
var entryTypeFilter = []string{"device", "hub", "service", "hardware"}

// Bootstrap wires the credential store and the hub collaborators.
type Bootstrap struct {
	creds     *credential.Store
	dialer    hub.Dialer
	auth      hub.Authenticator
	installer hub.Installer
	cfg       config.HubConfig
}

// New creates a Bootstrap over the given collaborators.
func New(creds *credential.Store, dialer hub.Dialer, auth hub.Authenticator, installer hub.Installer, cfg config.HubConfig) *Bootstrap {
	return &Bootstrap{
		creds:     creds,
		dialer:    dialer,
		auth:      auth,
		installer: installer,
		cfg:       cfg,
	}
}

// Token returns the proxy-scoped bearer token, creating and persisting it
// on first run. Exactly one hub session is opened per call. An
// authentication failure deletes the cached base credential so the next
// run re-authenticates, and is surfaced as a *hub.AuthError.
func (b *Bootstrap) Token(ctx context.Context) (string, error) {
	base, err := b.baseToken(ctx)
	if err != nil {
		return "", err
	}

	sess, err := b.dialer.Dial(ctx, b.cfg.URL, base)
	if err != nil {
		var authErr *hub.AuthError
		if errors.As(err, &authErr) {
			slog.Warn("base credential rejected, invalidating cache", "reason", authErr.Reason)
			if invErr := b.creds.Invalidate(credential.KindBase); invErr != nil {
				slog.Error("failed to invalidate base credential", "error", invErr)
			}
		}
		return "", fmt.Errorf("opening hub session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	scoped, err := b.scopedToken(ctx, sess)
	if err != nil {
		return "", err
	}

	installed, err := b.integrationPresent(ctx, sess)
	if err != nil {
		return "", fmt.Errorf("probing for %s integration: %w", hub.IntegrationDomain, err)
	}

	if !installed {
		// The install call authenticates with the scoped token, not the
		// base one. A failure here does not block the returned token:
		// the operator can install the integration by hand.
		result, err := b.installer.Install(ctx, b.cfg.URL, scoped, hub.IntegrationDomain)
		if err != nil {
			slog.Error("integration setup failed", "domain", hub.IntegrationDomain, "error", err)
		} else {
			slog.Info("integration setup finished", "domain", hub.IntegrationDomain, "result", result)
		}
	} else {
		slog.Debug("integration already present", "domain", hub.IntegrationDomain)
	}

	return scoped, nil
}

// baseToken loads the cached user-level token, or authenticates against
// the hub and persists the result. A cached token is never re-derived:
// if it has been revoked server-side, the session dial fails and Token
// invalidates it for the next run.
func (b *Bootstrap) baseToken(ctx context.Context) (string, error) {
	token, ok, err := b.creds.Load(credential.KindBase)
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}

	token, err = b.auth.Authenticate(ctx, b.cfg.URL, b.cfg.Username, b.cfg.Password)
	if err != nil {
		return "", fmt.Errorf("authenticating against hub: %w", err)
	}
	if err := b.creds.Save(credential.KindBase, token); err != nil {
		return "", err
	}

	slog.Info("obtained base hub token")
	return token, nil
}

// scopedToken loads the cached proxy token, or replaces any stale
// hub-side tokens named after this proxy and creates a fresh one. The
// file is written only after the hub reports the token created, so a
// failed run never leaves a dangling local reference.
func (b *Bootstrap) scopedToken(ctx context.Context, sess hub.Session) (string, error) {
	token, ok, err := b.creds.Load(credential.KindScoped)
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}

	tokens, err := sess.ListRefreshTokens(ctx)
	if err != nil {
		return "", fmt.Errorf("listing refresh tokens: %w", err)
	}
	for _, rt := range tokens {
		if rt.Type != hub.TypeLongLived || rt.ClientName != ClientName {
			continue
		}
		slog.Info("deleting stale long-lived token", "id", rt.ID, "client_name", rt.ClientName)
		if err := sess.DeleteRefreshToken(ctx, rt.ID); err != nil {
			return "", fmt.Errorf("deleting stale token %s: %w", rt.ID, err)
		}
	}

	slog.Info("creating long-lived token", "client_name", ClientName)
	token, err = sess.CreateLongLivedToken(ctx, ClientName)
	if err != nil {
		return "", fmt.Errorf("creating long-lived token: %w", err)
	}
	if err := b.creds.Save(credential.KindScoped, token); err != nil {
		return "", err
	}

	return token, nil
}

// integrationPresent subscribes to config-entry changes and scans the
// initial burst the hub delivers for the integration domain. The hub
// reports currently-configured entries right after subscribing, so this
// is a one-shot probe bounded by the configured window, not a watch.
func (b *Bootstrap) integrationPresent(ctx context.Context, sess hub.Session) (bool, error) {
	ch, err := sess.SubscribeConfigEntries(ctx, entryTypeFilter)
	if err != nil {
		return false, err
	}

	window := time.NewTimer(b.cfg.SubscribeWindow)
	defer window.Stop()

	for {
		select {
		case batch, ok := <-ch:
			if !ok {
				return false, nil
			}
			for _, change := range batch {
				if change.Entry.Domain == hub.IntegrationDomain {
					return true, nil
				}
			}
		case <-window.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
