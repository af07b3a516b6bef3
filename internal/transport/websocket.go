package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eaframework/ea-core/internal/metrics"
	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/subscription"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// WSState is one of the four states in the WebSocket connection state
// machine.
type WSState int

const (
	Disconnected WSState = iota
	Connecting
	Open
	Closing
)

func (s WSState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// URLFunc computes the provider URL for the current desired subscription
// set. Some providers encode subscriptions directly in the URL — when the
// returned string changes versus the currently connected URL, the
// transport reconnects ("urlChanged").
type URLFunc func(desired []subscription.Entry) (string, error)

// SubscribeMessageFunc builds the wire message to subscribe to one entry.
// ok=false means "no builder for this entry" — nothing is sent.
type SubscribeMessageFunc func(e subscription.Entry) (msg any, ok bool)

// UnsubscribeMessageFunc is the subscribe-side counterpart for stale entries.
type UnsubscribeMessageFunc func(e subscription.Entry) (msg any, ok bool)

// MessageHandler deserializes and reacts to one inbound frame, returning
// zero or more results to write to the response cache. desired is the
// current desired subscription set, passed so a handler can correlate an
// inbound message against what it should currently care about.
type MessageHandler func(ctx context.Context, raw []byte, desired []subscription.Entry) ([]responsecache.Result, error)

// WebSocketTransport drives one persistent connection to a streaming
// provider, opening/closing it and emitting subscribe/unsubscribe frames as
// the desired subscription set changes. It is a StreamingTransport
// specialization: BackgroundExecute is inherited from the embedded
// Streaming, which calls handleDelta every tick.
type WebSocketTransport struct {
	Streaming

	URLFunc            URLFunc
	SubscribeMessage   SubscribeMessageFunc
	UnsubscribeMessage UnsubscribeMessageFunc
	Message            MessageHandler
	Dialer             *websocket.Dialer
	TickInterval       time.Duration
	UnresponsiveTTL    time.Duration
	// UpdateLivenessOnAnyMessage, when true, refreshes lastMessageReceivedAt
	// on every inbound frame including heartbeats. The default refreshes it
	// only on a message that produces a non-empty result.
	UpdateLivenessOnAnyMessage bool

	mu                    sync.Mutex
	state                 WSState
	conn                  *websocket.Conn
	currentURL            string
	connectionOpenedAt    time.Time
	lastMessageReceivedAt time.Time
	cancelReadLoop        context.CancelFunc
	lastDesired           []subscription.Entry
}

// Initialize wires shared deps and registers handleDelta as the streaming
// tick handler; the ticks themselves run when BackgroundExecute is called.
func (w *WebSocketTransport) Initialize(deps Deps) error {
	if err := w.Base.Initialize(deps); err != nil {
		return err
	}
	if w.Dialer == nil {
		w.Dialer = websocket.DefaultDialer
	}
	if w.UnresponsiveTTL <= 0 {
		w.UnresponsiveTTL = 90 * time.Second
	}
	w.InitStreaming(w.handleDelta, w.TickInterval)
	w.state = Disconnected
	return nil
}

// ForegroundExecute serves a cache hit, or registers subscription interest
// and returns a miss for the background loop to pick up.
func (w *WebSocketTransport) ForegroundExecute(ctx context.Context, req Request) (*Response, error) {
	if resp, ok := w.lookup(ctx, req); ok {
		return resp, nil
	}
	return nil, nil
}

// handleDelta implements the per-tick connection decision table: close and
// reconnect on an unresponsive or stale connection, open a fresh one when
// subscriptions appear with none currently active, then send subscribe
// and unsubscribe frames for what changed.
func (w *WebSocketTransport) handleDelta(ctx context.Context, delta Delta) error {
	w.mu.Lock()
	state := w.state
	currentURL := w.currentURL
	lastMsg := w.lastMessageReceivedAt
	openedAt := w.connectionOpenedAt
	w.mu.Unlock()

	newEntries := delta.New
	staleEntries := delta.Stale
	desired := delta.Desired

	if len(newEntries) == 0 && state == Disconnected {
		return nil
	}

	unresponsive := false
	if state == Open {
		now := time.Now()
		idle := now.Sub(lastMsg)
		sinceOpen := now.Sub(openedAt)
		if sinceOpen < idle {
			idle = sinceOpen
		}
		unresponsive = idle > w.UnresponsiveTTL
	}

	var desiredURL string
	var urlErr error
	if w.URLFunc != nil {
		desiredURL, urlErr = w.URLFunc(desired)
	}
	urlChanged := state == Open && urlErr == nil && desiredURL != "" && desiredURL != currentURL

	if state == Open && (urlChanged || unresponsive) {
		reason := "unresponsive"
		if urlChanged {
			reason = "url changed"
		}
		w.closeSocket(reason)
		state = Disconnected
		newEntries = desired
	}

	if state == Disconnected && len(desired) > 0 {
		url := desiredURL
		if url == "" && w.URLFunc != nil {
			url, urlErr = w.URLFunc(desired)
		}
		if urlErr != nil {
			metrics.WsConnectionErrors.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName).Inc()
			return fmt.Errorf("connect failed: resolving url: %w", urlErr)
		}
		if err := w.connect(ctx, url); err != nil {
			metrics.WsConnectionErrors.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName).Inc()
			return fmt.Errorf("connect failed: %w", err)
		}
		state = Open
		newEntries = desired
	}

	w.mu.Lock()
	w.lastDesired = desired
	w.mu.Unlock()

	if state != Open {
		return nil
	}

	if w.SubscribeMessage != nil {
		for _, e := range newEntries {
			msg, ok := w.SubscribeMessage(e)
			if !ok {
				continue
			}
			if err := w.send(msg); err != nil {
				w.Deps.Logger.Warn().Err(err).Str("key", e.Key).Msg("failed to send subscribe message")
				continue
			}
			metrics.WsSubscriptionTotal.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName, "subscribe").Inc()
		}
	}
	if w.UnsubscribeMessage != nil {
		for _, e := range staleEntries {
			msg, ok := w.UnsubscribeMessage(e)
			if !ok {
				continue
			}
			if err := w.send(msg); err != nil {
				w.Deps.Logger.Warn().Err(err).Str("key", e.Key).Msg("failed to send unsubscribe message")
				continue
			}
			metrics.WsSubscriptionTotal.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName, "unsubscribe").Inc()
		}
	}
	metrics.WsSubscriptionActive.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName).Set(float64(len(desired)))

	return nil
}

// connect dials the provider and starts the inbound read loop. The dial is
// run through the breaker so a provider that is completely down trips it
// open instead of being redialed every tick.
func (w *WebSocketTransport) connect(ctx context.Context, url string) error {
	var conn *websocket.Conn
	err := w.callThroughBreaker(func() error {
		c, _, dialErr := w.Dialer.DialContext(ctx, url, nil)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.conn = conn
	w.currentURL = url
	w.connectionOpenedAt = time.Now()
	w.lastMessageReceivedAt = time.Now()
	w.state = Open
	w.cancelReadLoop = cancel
	w.mu.Unlock()

	metrics.WsConnectionActive.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName).Set(1)
	go w.readLoop(readCtx, conn)
	return nil
}

// readLoop pumps inbound frames until the socket errors or is closed. It
// runs detached from any single tick — backgroundExecute drives connection
// lifecycle, not message consumption.
func (w *WebSocketTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer metrics.WsConnectionActive.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName).Set(0)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				metrics.WsConnectionErrors.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName).Inc()
				w.Deps.Logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		metrics.WsMessageTotal.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName).Inc()

		if w.UpdateLivenessOnAnyMessage {
			w.mu.Lock()
			w.lastMessageReceivedAt = time.Now()
			w.mu.Unlock()
		}

		if w.Message == nil {
			continue
		}

		w.mu.Lock()
		desired := w.lastDesired
		openedAt := w.connectionOpenedAt
		w.mu.Unlock()

		results, err := w.Message(ctx, raw, desired)
		if err != nil {
			w.Deps.Logger.Warn().Err(err).Msg("message handler returned error")
			continue
		}
		if len(results) == 0 {
			continue
		}

		if !w.UpdateLivenessOnAnyMessage {
			w.mu.Lock()
			w.lastMessageReceivedAt = time.Now()
			w.mu.Unlock()
		}

		for i := range results {
			results[i].AdapterName = w.Deps.AdapterName
			results[i].EndpointName = w.Deps.EndpointName
			results[i].TransportName = w.Deps.TransportName
			results[i].CacheKeyGen = w.Deps.CacheKeyGen
			results[i].Timestamps.ProviderDataStreamEstablished = &openedAt
		}
		w.Deps.Cache.Write(ctx, results...)
	}
}

// closeSocket tears down the current connection, if any.
func (w *WebSocketTransport) closeSocket(reason string) {
	w.mu.Lock()
	conn := w.conn
	cancel := w.cancelReadLoop
	w.conn = nil
	w.cancelReadLoop = nil
	w.state = Disconnected
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
	}
	metrics.WsConnectionActive.WithLabelValues(w.Deps.EndpointName, w.Deps.TransportName).Set(0)
}

// send marshals and writes msg to the current socket.
func (w *WebSocketTransport) send(msg any) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errors.New("websocket transport: not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// State reports the current connection state — exposed for tests.
func (w *WebSocketTransport) State() WSState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// CurrentURL reports the URL of the active connection, if any.
func (w *WebSocketTransport) CurrentURL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentURL
}
