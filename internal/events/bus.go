// Package events publishes a best-effort stream of provider-update
// notifications to Kafka so external systems can tail adapter activity
// without polling the HTTP API. Optional, and never on the write-path's
// critical section: a broker outage never blocks ResponseCache.write.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// ProviderUpdate is the payload published for every ResponseCache.write.
type ProviderUpdate struct {
	Fingerprint           string     `json:"fingerprint"`
	Endpoint              string     `json:"endpoint"`
	Transport             string     `json:"transport"`
	WrittenAt             time.Time  `json:"written_at"`
	ProviderIndicatedTime *time.Time `json:"provider_indicated_time,omitempty"`
	StatusCode            int        `json:"status_code"`
}

// Bus wraps a kafka.Writer. New returns a nil *Bus when no brokers are
// given, and Publish on a nil *Bus is a no-op, so the bus is disabled when
// no broker is configured.
type Bus struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// New creates a Bus that publishes to topic across brokers. Writes are
// asynchronous (Async: true) so a slow/unreachable broker cannot add
// latency to the adapter's write path.
func New(brokers []string, topic string, logger zerolog.Logger) *Bus {
	if len(brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 100 * time.Millisecond,
		ErrorLogger:  kafka.LoggerFunc(logger.Error().Msgf),
	}
	return &Bus{writer: writer, logger: logger.With().Str("component", "events.bus").Logger()}
}

// Publish fires ProviderUpdate at the configured topic. Failures are
// logged and swallowed — the caller's write has already succeeded.
func (b *Bus) Publish(ctx context.Context, upd ProviderUpdate) {
	if b == nil || b.writer == nil {
		return
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to marshal provider update")
		return
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(upd.Fingerprint),
		Value: payload,
	}); err != nil {
		b.logger.Warn().Err(err).Str("fingerprint", upd.Fingerprint).Msg("failed to publish provider update")
	}
}

// Close releases the underlying Kafka writer.
func (b *Bus) Close() error {
	if b == nil || b.writer == nil {
		return nil
	}
	return b.writer.Close()
}
