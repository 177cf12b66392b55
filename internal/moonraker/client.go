package moonraker

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"printsync/internal/logging"
	"printsync/internal/metrics"
	"printsync/internal/status"
)

const (
	handshakeTimeout       = 10 * time.Second
	writeWait              = 10 * time.Second
	defaultMetadataTimeout = 10 * time.Second
)

// StatusHandler receives status fragments. It is called from the dispatch
// loop, one fragment at a time and in arrival order, so it must not block on
// requests issued through the same Client.
type StatusHandler func(status.Snapshot)

// State is the lifecycle stage of the client's current connection.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is resolved exactly once by the dispatch loop. inline, when set,
// runs on the dispatch goroutine before the caller is released. conn is the
// connection the request went out on.
type pendingCall struct {
	ch     chan callResult
	inline func(json.RawMessage)
	conn   *websocket.Conn
}

// Client is a JSON-RPC 2.0 websocket client for Moonraker. One Client owns at
// most one connection at a time. Listen is the only reader of that connection;
// Call may be used concurrently from any goroutine while Listen runs.
type Client struct {
	url             string
	onStatus        StatusHandler
	log             zerolog.Logger
	metadataTimeout time.Duration

	dial  func(ctx context.Context, url string) (*websocket.Conn, error)
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	session string
	nextID  int64
	pending map[int64]*pendingCall
	subID   any
	backoff time.Duration

	writeMu sync.Mutex
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = logging.Component(l, "moonraker") }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := d.DialContext(ctx, url, nil)
			return conn, err
		}
	}
}

// WithMetadataTimeout bounds GetFileMetadata round trips. Zero disables the bound.
func WithMetadataTimeout(d time.Duration) Option {
	return func(c *Client) { c.metadataTimeout = d }
}

// New builds a client for the daemon at rawURL. http(s) URLs are rewritten to
// the daemon's /websocket endpoint.
func New(rawURL string, onStatus StatusHandler, opts ...Option) (*Client, error) {
	wsURL, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:             wsURL,
		onStatus:        onStatus,
		log:             zerolog.Nop(),
		metadataTimeout: defaultMetadataTimeout,
		sleep:           sleepCtx,
		pending:         make(map[int64]*pendingCall),
		backoff:         minBackoff,
	}
	WithDialer(&websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	})(c)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the websocket endpoint in use.
func (c *Client) URL() string { return c.url }

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool { return c.State() != StateDisconnected }

// SubscriptionID returns the id returned by the last successful subscribe, if any.
func (c *Client) SubscriptionID() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subID
}

// Connect opens a new connection. It does not retry; see Reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info().Str("url", c.url).Msg("connecting to moonraker")
	conn, err := c.dial(ctx, c.url)
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("failed").Inc()
		return &ConnectionError{Op: "dial", URL: c.url, Err: err}
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.state = StateConnected
	c.session = uuid.NewString()
	c.subID = nil
	c.backoff = minBackoff
	session := c.session
	stale := c.detachPending(old)
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	failCalls(stale, ErrConnectionClosed)
	metrics.ConnectAttempts.WithLabelValues("ok").Inc()
	metrics.Connected.Set(1)
	c.log.Info().Str("session", session).Msg("connected to moonraker")
	return nil
}

// Call sends a JSON-RPC request and waits for the matching response, which is
// delivered by Listen. It fails with *ProtocolError when the daemon answers
// with an error object and with ErrConnectionClosed when the connection drops
// first. Cancelling ctx abandons the request.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params, nil)
}

func (c *Client) call(ctx context.Context, method string, params any, inline func(json.RawMessage)) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, &ConnectionError{Op: method, URL: c.url, Err: ErrNotConnected}
	}
	c.nextID++
	id := c.nextID
	p := &pendingCall{ch: make(chan callResult, 1), inline: inline, conn: conn}
	c.pending[id] = p
	metrics.PendingRequests.Set(float64(len(c.pending)))
	c.mu.Unlock()

	if err := c.write(conn, request{JSONRPC: "2.0", Method: method, ID: id, Params: params}); err != nil {
		c.forget(id)
		return nil, &ConnectionError{Op: method, URL: c.url, Err: err}
	}
	c.log.Debug().Str("method", method).Int64("id", id).Msg("sent request")

	select {
	case res := <-p.ch:
		return res.result, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	metrics.PendingRequests.Set(float64(len(c.pending)))
	c.mu.Unlock()
}

// resolve completes the pending request with the given id. It reports false
// when no such request is outstanding.
func (c *Client) resolve(id int64, f *frame) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		metrics.PendingRequests.Set(float64(len(c.pending)))
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if f.Error != nil {
		p.ch <- callResult{err: &ProtocolError{Code: f.Error.Code, Message: f.Error.Message}}
		return true
	}
	if p.inline != nil {
		p.inline(f.Result)
	}
	p.ch <- callResult{result: f.Result}
	return true
}

// detachPending removes and returns the requests issued on conn. Caller
// holds c.mu.
func (c *Client) detachPending(conn *websocket.Conn) []*pendingCall {
	if conn == nil {
		return nil
	}
	var out []*pendingCall
	for id, p := range c.pending {
		if p.conn == conn {
			out = append(out, p)
			delete(c.pending, id)
		}
	}
	metrics.PendingRequests.Set(float64(len(c.pending)))
	return out
}

func failCalls(calls []*pendingCall, err error) {
	for _, p := range calls {
		p.ch <- callResult{err: err}
	}
}

// drop tears down conn if it is still the current connection and fails the
// requests still outstanding on it.
func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = StateDisconnected
		c.subID = nil
		metrics.Connected.Set(0)
	}
	stale := c.detachPending(conn)
	c.mu.Unlock()
	_ = conn.Close()
	failCalls(stale, ErrConnectionClosed)
}

// Listen runs the inbound dispatch loop until the connection fails or ctx is
// cancelled. It starts the status subscription itself, since the subscribe
// response can only be observed by this loop.
func (c *Client) Listen(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	session := c.session
	c.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: "listen", URL: c.url, Err: ErrNotConnected}
	}
	log := c.log.With().Str("session", session).Logger()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go c.SubscribeToStatus(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("moonraker connection lost")
			return &ConnectionError{Op: "read", URL: c.url, Err: err}
		}
		c.dispatch(log, data)
	}
}

func (c *Client) dispatch(log zerolog.Logger, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Msg("failed to parse message")
		return
	}
	if f.ID != nil && c.resolve(*f.ID, &f) {
		return
	}
	switch {
	case f.Method == notifyStatusUpdate:
		payload, ok := statusPayload(f.Params)
		if !ok {
			log.Debug().RawJSON("params", f.Params).Msg("status update without payload")
			return
		}
		c.deliver(payload)
	case f.Method != "":
		log.Debug().Str("method", f.Method).Msg("ignoring notification")
	case f.ID != nil:
		log.Debug().Int64("id", *f.ID).Msg("response for unknown request")
	}
}

func (c *Client) deliver(s status.Snapshot) {
	metrics.StatusUpdates.Inc()
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

// SubscribeToStatus subscribes to StatusTopics. The initial status carried by
// the response is handed to the status handler on the dispatch loop, ahead of
// any later push. Failures are logged and never propagate: the read loop keeps
// running without a subscription.
func (c *Client) SubscribeToStatus(ctx context.Context) {
	objects := make(map[string]any, len(StatusTopics))
	for _, topic := range StatusTopics {
		objects[topic] = nil
	}
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.state = StateSubscribing
	}
	c.mu.Unlock()
	if _, err := c.call(ctx, methodSubscribe, map[string]any{"objects": objects}, c.onSubscribed); err != nil {
		c.mu.Lock()
		if conn != nil && c.conn == conn && c.state == StateSubscribing {
			c.state = StateConnected
		}
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("failed to subscribe to status updates")
	}
}

func (c *Client) onSubscribed(raw json.RawMessage) {
	var res subscribeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Warn().Err(err).Msg("unexpected subscribe response")
		return
	}
	c.mu.Lock()
	c.subID = res.SubscriptionID
	if c.conn != nil {
		c.state = StateSubscribed
	}
	c.mu.Unlock()

	if len(res.Status) > 0 {
		c.log.Info().Msg("received initial status from subscription")
		c.deliver(res.Status)
	}
	if res.SubscriptionID == nil {
		c.log.Warn().Msg("subscription succeeded but no subscription_id returned")
		return
	}
	c.log.Info().Interface("subscription_id", res.SubscriptionID).Msg("subscribed to printer status updates")
}

// GetFileMetadata fetches metadata for a gcode file. It never fails: any
// error yields an empty map.
func (c *Client) GetFileMetadata(ctx context.Context, filename string) status.FileMetadata {
	if filename == "" {
		return status.FileMetadata{}
	}
	if c.metadataTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.metadataTimeout)
		defer cancel()
	}
	raw, err := c.Call(ctx, methodFileMetadata, map[string]any{"filename": filename})
	if err != nil {
		c.log.Debug().Err(err).Str("filename", filename).Msg("file metadata unavailable")
		return status.FileMetadata{}
	}
	meta, ok := decodeObject(raw)
	if !ok {
		return status.FileMetadata{}
	}
	return meta
}

// Disconnect closes the current connection, if any. It is safe to call more
// than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.subID = nil
	stale := c.detachPending(conn)
	c.mu.Unlock()
	failCalls(stale, ErrConnectionClosed)
	if conn == nil {
		return nil
	}
	metrics.Connected.Set(0)

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	c.writeMu.Unlock()
	err := conn.Close()
	c.log.Info().Msg("disconnected from moonraker")
	return err
}

// Reconnect retries Connect until it succeeds, sleeping between attempts with
// exponential backoff (1s doubling to 60s). It only gives up when ctx ends.
func (c *Client) Reconnect(ctx context.Context) error {
	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.mu.Lock()
		delay := c.backoff
		c.mu.Unlock()
		c.log.Warn().Err(err).Dur("retry_in", delay).Msg("reconnection attempt failed")
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		c.mu.Lock()
		c.backoff = nextBackoff(c.backoff)
		c.mu.Unlock()
	}
}
