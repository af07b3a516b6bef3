package transport

import (
	"context"
	"sync"
	"time"

	"github.com/eaframework/ea-core/internal/subscription"
)

// Delta is what a StreamHandler receives each tick: the subscriptions that
// appeared since the last tick, the ones that disappeared, and the full
// desired set.
type Delta struct {
	New     []subscription.Entry
	Stale   []subscription.Entry
	Desired []subscription.Entry
}

// StreamHandler reacts to a tick's delta — opening/closing provider
// subscriptions, sending subscribe/unsubscribe frames, whatever the
// concrete transport needs.
type StreamHandler func(ctx context.Context, delta Delta) error

// Streaming is the delta-computing specialization embedded by both
// WebSocketTransport and SseTransport. It owns "lastKnown", the set of
// subscription keys the handler currently believes are live on the
// provider side.
type Streaming struct {
	Base

	mu           sync.Mutex
	lastKnown    map[string]subscription.Entry
	handler      StreamHandler
	tickInterval time.Duration
}

// InitStreaming wires the stream handler and tick interval. Call after Base.Initialize.
func (s *Streaming) InitStreaming(handler StreamHandler, tickInterval time.Duration) {
	s.handler = handler
	s.tickInterval = tickInterval
	s.lastKnown = make(map[string]subscription.Entry)
}

// BackgroundExecute computes (new, stale, desired), invokes the handler,
// updates lastKnown to desired, then sleeps for tickInterval — cancellable
// at every suspension point.
func (s *Streaming) BackgroundExecute(ctx context.Context) error {
	desired, err := s.Deps.Subscriptions.GetAll(ctx)
	if err != nil {
		s.Deps.Logger.Warn().Err(err).Msg("failed to read subscription set, skipping tick")
		return s.sleep(ctx)
	}

	s.mu.Lock()
	desiredByKey := make(map[string]subscription.Entry, len(desired))
	for _, e := range desired {
		desiredByKey[e.Key] = e
	}

	var newEntries, staleEntries []subscription.Entry
	for key, e := range desiredByKey {
		if _, ok := s.lastKnown[key]; !ok {
			newEntries = append(newEntries, e)
		}
	}
	for key, e := range s.lastKnown {
		if _, ok := desiredByKey[key]; !ok {
			staleEntries = append(staleEntries, e)
		}
	}
	s.mu.Unlock()

	delta := Delta{New: newEntries, Stale: staleEntries, Desired: desired}

	if s.handler != nil {
		if err := s.handler(ctx, delta); err != nil {
			s.Deps.Logger.Warn().Err(err).Msg("stream handler returned error")
		}
	}

	s.mu.Lock()
	s.lastKnown = desiredByKey
	s.mu.Unlock()

	return s.sleep(ctx)
}

// sleep waits tickInterval or ctx cancellation, whichever comes first.
func (s *Streaming) sleep(ctx context.Context) error {
	if s.tickInterval <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.tickInterval):
		return nil
	}
}

// LastKnownKeys returns the subscription keys Streaming currently believes
// are active on the provider side — exposed for tests and diagnostics.
func (s *Streaming) LastKnownKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.lastKnown))
	for k := range s.lastKnown {
		keys = append(keys, k)
	}
	return keys
}
