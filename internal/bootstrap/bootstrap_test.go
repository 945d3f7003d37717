package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/domus/internal/config"
	"github.com/btouchard/domus/internal/credential"
	"github.com/btouchard/domus/internal/hub"
)

type fakeSession struct {
	refreshTokens []hub.RefreshToken
	entryDomains  []string

	listCalls   int
	deletedIDs  []string
	createCalls int
	createErr   error
	closed      bool
}

func (s *fakeSession) ListRefreshTokens(context.Context) ([]hub.RefreshToken, error) {
	s.listCalls++
	return s.refreshTokens, nil
}

func (s *fakeSession) DeleteRefreshToken(_ context.Context, id string) error {
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

func (s *fakeSession) CreateLongLivedToken(_ context.Context, clientName string) (string, error) {
	s.createCalls++
	if s.createErr != nil {
		return "", s.createErr
	}
	return "llt-" + clientName, nil
}

func (s *fakeSession) SubscribeConfigEntries(context.Context, []string) (<-chan []hub.ConfigEntryChange, error) {
	ch := make(chan []hub.ConfigEntryChange, 1)
	var batch []hub.ConfigEntryChange
	for _, domain := range s.entryDomains {
		var c hub.ConfigEntryChange
		c.Type = "added"
		c.Entry.Domain = domain
		batch = append(batch, c)
	}
	ch <- batch
	close(ch)
	return ch, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	session   hub.Session
	dialErr   error
	dialCalls int
	bearer    string
}

func (d *fakeDialer) Dial(_ context.Context, _, bearer string) (hub.Session, error) {
	d.dialCalls++
	d.bearer = bearer
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.session, nil
}

type fakeAuth struct {
	calls int
	err   error
}

func (a *fakeAuth) Authenticate(context.Context, string, string, string) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return "base-token", nil
}

type fakeInstaller struct {
	calls  int
	err    error
	domain string
	bearer string
}

func (i *fakeInstaller) Install(_ context.Context, _, bearer, domain string) (string, error) {
	i.calls++
	i.bearer = bearer
	i.domain = domain
	if i.err != nil {
		return "", i.err
	}
	return "created MCP Server", nil
}

func testHubConfig() config.HubConfig {
	return config.HubConfig{
		URL:             "http://hub.local:8123",
		Username:        "jeanne",
		Password:        "hunter2",
		SubscribeWindow: 100 * time.Millisecond,
	}
}

func TestToken_FreshRun_AuthenticatesOnceAndCreatesScopedToken(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore(t.TempDir())
	sess := &fakeSession{entryDomains: []string{"mcp_server"}}
	dialer := &fakeDialer{session: sess}
	auth := &fakeAuth{}
	installer := &fakeInstaller{}

	b := New(creds, dialer, auth, installer, testHubConfig())
	token, err := b.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "llt-mcp", token)
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, 1, dialer.dialCalls)
	assert.Equal(t, "base-token", dialer.bearer)
	assert.Equal(t, 1, sess.createCalls)
	assert.Equal(t, 0, installer.calls, "integration already present, no install expected")
	assert.True(t, sess.closed)

	// Both credentials persisted.
	base, ok, err := creds.Load(credential.KindBase)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "base-token", base)

	scoped, ok, err := creds.Load(credential.KindScoped)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "llt-mcp", scoped)
}

func TestToken_FreshRun_InstallsIntegrationWhenAbsent(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore(t.TempDir())
	sess := &fakeSession{entryDomains: []string{"zigbee", "zwave"}}
	installer := &fakeInstaller{}

	b := New(creds, &fakeDialer{session: sess}, &fakeAuth{}, installer, testHubConfig())
	token, err := b.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "llt-mcp", token)
	assert.Equal(t, 1, installer.calls)
	assert.Equal(t, "mcp_server", installer.domain)
	assert.Equal(t, "llt-mcp", installer.bearer, "install must authenticate with the scoped token")
}

func TestToken_InstallFailure_StillReturnsToken(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore(t.TempDir())
	sess := &fakeSession{}
	installer := &fakeInstaller{err: errors.New("flow rejected")}

	b := New(creds, &fakeDialer{session: sess}, &fakeAuth{}, installer, testHubConfig())
	token, err := b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "llt-mcp", token)
}

func TestToken_WarmRun_SkipsAllTokenManagement(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore(t.TempDir())
	require.NoError(t, creds.Save(credential.KindBase, "cached-base"))
	require.NoError(t, creds.Save(credential.KindScoped, "cached-scoped"))

	sess := &fakeSession{entryDomains: []string{"mcp_server"}}
	dialer := &fakeDialer{session: sess}
	auth := &fakeAuth{}

	b := New(creds, dialer, auth, &fakeInstaller{}, testHubConfig())
	token, err := b.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "cached-scoped", token)
	assert.Equal(t, 0, auth.calls)
	assert.Equal(t, 0, sess.listCalls)
	assert.Equal(t, 0, sess.createCalls)
	assert.Empty(t, sess.deletedIDs)
	assert.Equal(t, "cached-base", dialer.bearer)
}

func TestToken_DeletesOnlyStaleTokensMatchingClientName(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore(t.TempDir())
	sess := &fakeSession{
		refreshTokens: []hub.RefreshToken{
			{ID: "1", Type: hub.TypeLongLived, ClientName: "mcp"},
			{ID: "2", Type: hub.TypeLongLived, ClientName: "dashboard"},
			{ID: "3", Type: "normal", ClientName: "mcp"},
			{ID: "4", Type: hub.TypeLongLived, ClientName: "mcp"},
		},
	}

	b := New(creds, &fakeDialer{session: sess}, &fakeAuth{}, &fakeInstaller{}, testHubConfig())
	_, err := b.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "4"}, sess.deletedIDs)
}

func TestToken_WhenDialRejectsCredential_InvalidatesBaseAndFails(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore(t.TempDir())
	require.NoError(t, creds.Save(credential.KindBase, "revoked-token"))

	dialer := &fakeDialer{dialErr: &hub.AuthError{Reason: "Invalid access token"}}
	auth := &fakeAuth{}

	b := New(creds, dialer, auth, &fakeInstaller{}, testHubConfig())
	_, err := b.Token(context.Background())
	require.Error(t, err)

	var authErr *hub.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, 0, auth.calls, "cached base credential is never re-derived in the same run")

	_, ok, loadErr := creds.Load(credential.KindBase)
	require.NoError(t, loadErr)
	assert.False(t, ok, "base credential must be invalidated")
}

func TestToken_WhenAuthenticationFails_SurfacesFault(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore(t.TempDir())
	auth := &fakeAuth{err: &hub.AuthError{Reason: "invalid_auth"}}
	dialer := &fakeDialer{session: &fakeSession{}}

	b := New(creds, dialer, auth, &fakeInstaller{}, testHubConfig())
	_, err := b.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, dialer.dialCalls)
}

func TestToken_WhenTokenCreationFails_LeavesNoScopedFile(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore(t.TempDir())
	sess := &fakeSession{createErr: errors.New("hub exploded")}

	b := New(creds, &fakeDialer{session: sess}, &fakeAuth{}, &fakeInstaller{}, testHubConfig())
	_, err := b.Token(context.Background())
	require.Error(t, err)

	_, ok, loadErr := creds.Load(credential.KindScoped)
	require.NoError(t, loadErr)
	assert.False(t, ok)
}

func TestToken_ProbeTimesOutWhenHubStaysSilent(t *testing.T) {
	t.Parallel()

	// A session whose subscription never delivers and never closes.
	creds := credential.NewStore(t.TempDir())
	sess := &silentSession{}
	installer := &fakeInstaller{}

	b := New(creds, &fakeDialer{session: sess}, &fakeAuth{}, installer, testHubConfig())

	start := time.Now()
	token, err := b.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "llt-mcp", token)
	assert.Equal(t, 1, installer.calls, "silence means the integration was not observed")
	assert.Less(t, time.Since(start), 2*time.Second)
}

// silentSession subscribes successfully but never emits an event batch.
type silentSession struct {
	fakeSession
}

func (s *silentSession) SubscribeConfigEntries(context.Context, []string) (<-chan []hub.ConfigEntryChange, error) {
	return make(chan []hub.ConfigEntryChange), nil
}
