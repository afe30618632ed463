package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
	"github.com/gorilla/websocket"
)

// RouteSignals streams per-user signal frames over a websocket.
const RouteSignals = "/users/{user_id}/signals"

const (
	signalSendBuffer   = 16
	signalWriteTimeout = 10 * time.Second
	signalPongTimeout  = 60 * time.Second
	signalPingInterval = signalPongTimeout * 9 / 10
)

type signalFrame struct {
	Event string  `json:"event"`
	Value float64 `json:"value"`
}

type hubClient struct {
	userID string
	conn   *websocket.Conn
	send   chan signalFrame
}

// SignalHub fans server-side signals, such as a user's new balance after a
// reward is recorded, out to that user's connected clients. Slow clients
// drop frames rather than block Publish.
type SignalHub struct {
	upgrader websocket.Upgrader
	observer *core.Observer

	mu      sync.RWMutex
	clients map[string]map[*hubClient]struct{}
}

func NewSignalHub(observer *core.Observer) *SignalHub {
	if observer == nil {
		observer = core.NewObserver(core.DefaultServiceName, nil, nil)
	}
	return &SignalHub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		observer: observer,
		clients:  map[string]map[*hubClient]struct{}{},
	}
}

// Publish queues a frame for every client of userID and returns how many
// clients accepted it.
func (h *SignalHub) Publish(userID string, event string, value float64) int {
	userID = strings.TrimSpace(userID)
	frame := signalFrame{Event: strings.TrimSpace(event), Value: value}
	if userID == "" || frame.Event == "" {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.clients[userID] {
		select {
		case client.send <- frame:
			delivered++
		default:
		}
	}
	return delivered
}

// Clients reports the number of connections open for userID.
func (h *SignalHub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[strings.TrimSpace(userID)])
}

func (h *SignalHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if userID == "" {
		writeError(w, core.BadInputError("transport: user_id is required"))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.observer.Warn(r.Context(), "signal upgrade failed", map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	client := &hubClient{userID: userID, conn: conn, send: make(chan signalFrame, signalSendBuffer)}
	h.register(client)
	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *SignalHub) register(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = map[*hubClient]struct{}{}
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *SignalHub) unregister(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
}

// readLoop only services control frames; it returns when the peer goes away.
func (h *SignalHub) readLoop(client *hubClient) {
	defer func() {
		h.unregister(client)
		_ = client.conn.Close()
	}()
	_ = client.conn.SetReadDeadline(time.Now().Add(signalPongTimeout))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(signalPongTimeout))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SignalHub) writeLoop(client *hubClient) {
	ticker := time.NewTicker(signalPingInterval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SignalRelay subscribes to a remote SignalHub and republishes every frame on
// a local core.SignalBus, where balance.Sync treats it as advisory.
type SignalRelay struct {
	baseURL  *url.URL
	bus      core.SignalBus
	dialer   *websocket.Dialer
	token    string
	backoff  core.BackoffScheduler
	observer *core.Observer
}

type SignalRelayOption func(*SignalRelay)

func WithRelayBearerToken(token string) SignalRelayOption {
	return func(r *SignalRelay) {
		r.token = strings.TrimSpace(token)
	}
}

func WithRelayBackoff(backoff core.BackoffScheduler) SignalRelayOption {
	return func(r *SignalRelay) {
		if backoff != nil {
			r.backoff = backoff
		}
	}
}

func WithRelayObserver(observer *core.Observer) SignalRelayOption {
	return func(r *SignalRelay) {
		if observer != nil {
			r.observer = observer
		}
	}
}

func NewSignalRelay(baseURL string, bus core.SignalBus, opts ...SignalRelayOption) (*SignalRelay, error) {
	if bus == nil {
		return nil, core.InternalError("transport: signal relay requires a signal bus")
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Host == "" {
		return nil, core.BadInputError("transport: signal relay requires an absolute base url")
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return nil, core.BadInputError("transport: unsupported signal relay scheme " + parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	r := &SignalRelay{
		baseURL:  parsed,
		bus:      bus,
		dialer:   &websocket.Dialer{HandshakeTimeout: signalWriteTimeout},
		backoff:  core.ExponentialBackoffScheduler{},
		observer: core.NewObserver(core.DefaultServiceName, nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run relays frames for userID until ctx ends, reconnecting with backoff
// after connection failures. It returns ctx.Err().
func (r *SignalRelay) Run(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.BadInputError("transport: signal relay requires a user id")
	}
	target := r.baseURL.String() + expandRoute(RouteSignals, "{user_id}", userID)
	attempt := 0
	for {
		connected, err := r.relayOnce(ctx, target)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		attempt++
		delay := r.backoff.NextDelay(attempt)
		r.observer.Warn(ctx, "signal relay disconnected", map[string]any{
			"user_id": userID,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   errorString(err),
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *SignalRelay) relayOnce(ctx context.Context, target string) (bool, error) {
	header := http.Header{}
	if r.token != "" {
		header.Set(headerAuthorization, "Bearer "+r.token)
	}
	conn, _, err := r.dialer.DialContext(ctx, target, header)
	if err != nil {
		return false, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	for {
		var frame signalFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return true, nil
			}
			return true, err
		}
		if strings.TrimSpace(frame.Event) == "" {
			continue
		}
		if err := r.bus.Publish(ctx, frame.Event, frame.Value); err != nil {
			r.observer.Warn(ctx, "signal relay publish failed", map[string]any{"event": frame.Event, "error": err.Error()})
		}
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
