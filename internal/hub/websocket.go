package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	wsPath = "/api/websocket"

	// subBuffer bounds how many undrained event batches a subscription
	// can hold before further batches are dropped.
	subBuffer = 64
)

// WebSocketDialer opens Session connections over the hub's WebSocket API.
// The zero value is ready to use.
type WebSocketDialer struct {
	// Dialer overrides the underlying websocket dialer. Nil means
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial connects to baseURL's WebSocket endpoint and performs the
// auth_required/auth/auth_ok handshake with the given bearer token.
// A rejected token yields an *AuthError.
func (d *WebSocketDialer) Dial(ctx context.Context, baseURL, bearer string) (Session, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	if err := authenticate(conn, bearer); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &wsSession{
		conn:    conn,
		pending: make(map[int64]chan envelope),
		subs:    make(map[int64]chan []ConfigEntryChange),
		done:    make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

// websocketURL derives the hub's WebSocket endpoint from its base URL.
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing hub URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported hub URL scheme %q", u.Scheme)
	}
	u.Path = wsPath
	return u.String(), nil
}

// envelope is the hub's WebSocket frame. Only the fields Domus reads are
// declared; everything else rides in Result/Event as raw JSON.
type envelope struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Event   json.RawMessage `json:"event"`
	Error   *commandError   `json:"error"`
	Message string          `json:"message"` // auth_invalid detail
}

type commandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func authenticate(conn *websocket.Conn, bearer string) error {
	var hello envelope
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake frame %q", hello.Type)
	}

	if err := conn.WriteJSON(map[string]any{
		"type":         "auth",
		"access_token": bearer,
	}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	var reply envelope
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("reading auth reply: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return &AuthError{Reason: reply.Message}
	default:
		return fmt.Errorf("unexpected auth reply %q", reply.Type)
	}
}

// wsSession is a Session over one WebSocket connection. A single read
// loop dispatches result frames to waiting commands and event frames to
// subscription channels.
type wsSession struct {
	conn *websocket.Conn

	mu      sync.Mutex // guards writes, nextID, pending, subs
	nextID  int64
	pending map[int64]chan envelope
	subs    map[int64]chan []ConfigEntryChange

	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSession) readLoop() {
	defer s.cleanup()

	for {
		var env envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case "result":
			s.mu.Lock()
			ch, ok := s.pending[env.ID]
			delete(s.pending, env.ID)
			s.mu.Unlock()
			if ok {
				ch <- env
			}
		case "event":
			var changes []ConfigEntryChange
			if err := json.Unmarshal(env.Event, &changes); err != nil {
				slog.Debug("ignoring undecodable event frame", "id", env.ID, "error", err)
				continue
			}
			s.mu.Lock()
			ch, ok := s.subs[env.ID]
			s.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case ch <- changes:
			default:
				slog.Warn("subscription buffer full, dropping event batch", "id", env.ID)
			}
		}
	}
}

// cleanup releases every waiter once the read loop exits.
func (s *wsSession) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.pending = make(map[int64]chan envelope)
	close(s.done)
}

// command sends one request frame and waits for its result frame.
func (s *wsSession) command(ctx context.Context, req map[string]any) (json.RawMessage, error) {
	ch := make(chan envelope, 1)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = ch
	req["id"] = id
	err := s.conn.WriteJSON(req)
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("sending %v: %w", req["type"], err)
	}

	select {
	case env := <-ch:
		if !env.Success {
			if env.Error != nil {
				return nil, fmt.Errorf("%v failed: %s (%s)", req["type"], env.Error.Message, env.Error.Code)
			}
			return nil, fmt.Errorf("%v failed", req["type"])
		}
		return env.Result, nil
	case <-s.done:
		return nil, fmt.Errorf("session closed while awaiting %v", req["type"])
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsSession) ListRefreshTokens(ctx context.Context) ([]RefreshToken, error) {
	raw, err := s.command(ctx, map[string]any{"type": "auth/refresh_tokens"})
	if err != nil {
		return nil, err
	}

	var tokens []RefreshToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decoding refresh tokens: %w", err)
	}
	return tokens, nil
}

func (s *wsSession) DeleteRefreshToken(ctx context.Context, id string) error {
	_, err := s.command(ctx, map[string]any{
		"type":             "auth/delete_refresh_token",
		"refresh_token_id": id,
	})
	return err
}

func (s *wsSession) CreateLongLivedToken(ctx context.Context, clientName string) (string, error) {
	raw, err := s.command(ctx, map[string]any{
		"type":        "auth/long_lived_access_token",
		"client_name": clientName,
		"lifespan":    3650,
	})
	if err != nil {
		return "", err
	}

	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("decoding long-lived token: %w", err)
	}
	return token, nil
}

func (s *wsSession) SubscribeConfigEntries(ctx context.Context, typeFilter []string) (<-chan []ConfigEntryChange, error) {
	ch := make(chan []ConfigEntryChange, subBuffer)

	// Register before writing so the initial burst arriving right after
	// the result frame cannot slip past the dispatcher.
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	res := make(chan envelope, 1)
	s.pending[id] = res
	s.subs[id] = ch
	err := s.conn.WriteJSON(map[string]any{
		"id":          id,
		"type":        "config_entries/subscribe",
		"type_filter": typeFilter,
	})
	s.mu.Unlock()

	if err != nil {
		s.dropSub(id)
		return nil, fmt.Errorf("sending config_entries/subscribe: %w", err)
	}

	select {
	case env := <-res:
		if !env.Success {
			s.dropSub(id)
			if env.Error != nil {
				return nil, fmt.Errorf("config_entries/subscribe failed: %s (%s)", env.Error.Message, env.Error.Code)
			}
			return nil, fmt.Errorf("config_entries/subscribe failed")
		}
		return ch, nil
	case <-s.done:
		return nil, fmt.Errorf("session closed while subscribing")
	case <-ctx.Done():
		s.dropSub(id)
		return nil, ctx.Err()
	}
}

func (s *wsSession) dropSub(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// Close tears the connection down; the read loop then releases all
// waiters and closes subscription channels.
func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
