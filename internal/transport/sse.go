package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eaframework/ea-core/internal/metrics"
	"github.com/eaframework/ea-core/internal/subscription"
	sse "github.com/r3labs/sse/v2"
)

// SseTransport is the second StreamingTransport specialization: providers
// whose "socket" is a long-lived text/event-stream HTTP response rather
// than a WebSocket. It mirrors WebSocketTransport's state machine but has
// no outbound subscribe/unsubscribe frames — an SSE stream's subscription
// list is usually baked into its URL.
type SseTransport struct {
	Streaming

	URLFunc         URLFunc
	Message         MessageHandler
	TickInterval    time.Duration
	UnresponsiveTTL time.Duration
	// UpdateLivenessOnAnyMessage mirrors WebSocketTransport's field: when
	// true, every inbound event refreshes lastMessageReceivedAt; by default
	// only an event that produces a non-empty result does.
	UpdateLivenessOnAnyMessage bool

	mu                    sync.Mutex
	connected             bool
	currentURL            string
	connectionOpenedAt    time.Time
	lastMessageReceivedAt time.Time
	cancelStream          context.CancelFunc
	lastDesired           []subscription.Entry
}

// Initialize wires shared deps and registers handleDelta as the streaming
// tick handler; the ticks themselves run when BackgroundExecute is called.
func (s *SseTransport) Initialize(deps Deps) error {
	if err := s.Base.Initialize(deps); err != nil {
		return err
	}
	if s.UnresponsiveTTL <= 0 {
		s.UnresponsiveTTL = 90 * time.Second
	}
	s.InitStreaming(s.handleDelta, s.TickInterval)
	return nil
}

// ForegroundExecute serves a cache hit, or registers interest and misses.
func (s *SseTransport) ForegroundExecute(ctx context.Context, req Request) (*Response, error) {
	if resp, ok := s.lookup(ctx, req); ok {
		return resp, nil
	}
	return nil, nil
}

// handleDelta mirrors WebSocketTransport.handleDelta, minus the
// subscribe/unsubscribe frame step an SSE stream has no use for.
func (s *SseTransport) handleDelta(ctx context.Context, delta Delta) error {
	s.mu.Lock()
	connected := s.connected
	currentURL := s.currentURL
	lastMsg := s.lastMessageReceivedAt
	openedAt := s.connectionOpenedAt
	s.mu.Unlock()

	desired := delta.Desired

	if len(delta.New) == 0 && !connected {
		return nil
	}

	unresponsive := false
	if connected {
		now := time.Now()
		idle := now.Sub(lastMsg)
		sinceOpen := now.Sub(openedAt)
		if sinceOpen < idle {
			idle = sinceOpen
		}
		unresponsive = idle > s.UnresponsiveTTL
	}

	var desiredURL string
	var urlErr error
	if s.URLFunc != nil {
		desiredURL, urlErr = s.URLFunc(desired)
	}
	urlChanged := connected && urlErr == nil && desiredURL != "" && desiredURL != currentURL

	if connected && (urlChanged || unresponsive) {
		s.closeStream()
		connected = false
	}

	if !connected && len(desired) > 0 {
		url := desiredURL
		if url == "" && s.URLFunc != nil {
			url, urlErr = s.URLFunc(desired)
		}
		if urlErr != nil {
			metrics.WsConnectionErrors.WithLabelValues(s.Deps.EndpointName, s.Deps.TransportName).Inc()
			return fmt.Errorf("sse connect failed: resolving url: %w", urlErr)
		}
		s.connect(url)
	}

	s.mu.Lock()
	s.lastDesired = desired
	s.mu.Unlock()

	metrics.WsSubscriptionActive.WithLabelValues(s.Deps.EndpointName, s.Deps.TransportName).Set(float64(len(desired)))
	return nil
}

// connect opens a new SSE stream and starts its inbound event loop.
func (s *SseTransport) connect(url string) {
	client := sse.NewClient(url)
	streamCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.connected = true
	s.currentURL = url
	s.connectionOpenedAt = time.Now()
	s.lastMessageReceivedAt = time.Now()
	s.cancelStream = cancel
	s.mu.Unlock()

	metrics.WsConnectionActive.WithLabelValues(s.Deps.EndpointName, s.Deps.TransportName).Set(1)
	go s.streamLoop(streamCtx, client)
}

// streamLoop runs for the lifetime of one SSE connection.
func (s *SseTransport) streamLoop(ctx context.Context, client *sse.Client) {
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		metrics.WsConnectionActive.WithLabelValues(s.Deps.EndpointName, s.Deps.TransportName).Set(0)
	}()

	err := client.SubscribeWithContext(ctx, "", func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		metrics.WsMessageTotal.WithLabelValues(s.Deps.EndpointName, s.Deps.TransportName).Inc()

		if s.UpdateLivenessOnAnyMessage {
			s.mu.Lock()
			s.lastMessageReceivedAt = time.Now()
			s.mu.Unlock()
		}

		if s.Message == nil {
			return
		}

		s.mu.Lock()
		desired := s.lastDesired
		openedAt := s.connectionOpenedAt
		s.mu.Unlock()

		results, err := s.Message(ctx, msg.Data, desired)
		if err != nil {
			s.Deps.Logger.Warn().Err(err).Msg("sse message handler returned error")
			return
		}
		if len(results) == 0 {
			return
		}

		if !s.UpdateLivenessOnAnyMessage {
			s.mu.Lock()
			s.lastMessageReceivedAt = time.Now()
			s.mu.Unlock()
		}

		for i := range results {
			results[i].AdapterName = s.Deps.AdapterName
			results[i].EndpointName = s.Deps.EndpointName
			results[i].TransportName = s.Deps.TransportName
			results[i].CacheKeyGen = s.Deps.CacheKeyGen
			results[i].Timestamps.ProviderDataStreamEstablished = &openedAt
		}
		s.Deps.Cache.Write(ctx, results...)
	})

	if err != nil && ctx.Err() == nil {
		metrics.WsConnectionErrors.WithLabelValues(s.Deps.EndpointName, s.Deps.TransportName).Inc()
		s.Deps.Logger.Warn().Err(err).Msg("sse stream ended with error")
	}
}

// closeStream tears down the current SSE connection, if any.
func (s *SseTransport) closeStream() {
	s.mu.Lock()
	cancel := s.cancelStream
	s.connected = false
	s.cancelStream = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	metrics.WsConnectionActive.WithLabelValues(s.Deps.EndpointName, s.Deps.TransportName).Set(0)
}

// Connected reports whether the SSE stream is currently open.
func (s *SseTransport) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
